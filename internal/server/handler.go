// Package server exposes the query engine over HTTP as a read-only OData
// service.
package server

import (
	"log/slog"
	"net/http"
	"strings"

	"tidb-odata/internal/dbexec"
	"tidb-odata/internal/logging"
	"tidb-odata/internal/middleware"
	"tidb-odata/internal/odata"
	"tidb-odata/internal/query"
	"tidb-odata/internal/response"
)

// Config controls how requests are mapped onto the engine.
type Config struct {
	// BasePath is the URL prefix of the service, e.g. "/odata".
	BasePath string
	// ServiceRoot is the absolute URL ids and context URLs are built on.
	// When empty it is derived from each request's host.
	ServiceRoot string
}

// Handler answers GET and HEAD requests below BasePath.
type Handler struct {
	engine *query.Engine
	exec   dbexec.QueryExecutor
	cfg    Config
	writer *response.Writer
}

// NewHandler returns a handler serving engine through exec.
func NewHandler(engine *query.Engine, exec dbexec.QueryExecutor, cfg Config) *Handler {
	h := &Handler{engine: engine, exec: exec, cfg: cfg}
	if cfg.ServiceRoot != "" {
		h.writer = response.NewWriter(cfg.ServiceRoot)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := logging.FromContext(r.Context())

	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		_ = response.WriteError(w, http.StatusMethodNotAllowed, "MethodNotAllowed", "only GET and HEAD are supported")
		return
	}

	writer := h.writerFor(r)
	parsed, ok := middleware.ParsedRequestFromContext(r.Context())
	if !ok {
		resource, inside := middleware.ResourcePath(r.URL.Path, h.cfg.BasePath)
		if !inside {
			_ = response.WriteError(w, http.StatusNotFound, "NotFound", "resource not found")
			return
		}
		if strings.Trim(resource, "/") == "" {
			if err := writer.WriteServiceDocument(w, h.engine.Schema()); err != nil {
				logger.Error("failed to write service document", slog.String("error", err.Error()))
			}
			return
		}
		req, err := odata.ParseRequest(resource, r.URL.RawQuery)
		parsed = middleware.ParsedRequest{Resource: resource, Request: req, Err: err}
	}
	if parsed.Err != nil {
		h.writeError(w, r, parsed.Err)
		return
	}

	result, err := h.engine.Execute(r.Context(), h.exec, parsed.Request)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := writer.Write(w, parsed.Request, result); err != nil {
		logger.Error("failed to write response",
			slog.String("resource", parsed.Resource),
			slog.String("error", err.Error()),
		)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	logger := logging.FromContext(r.Context())
	switch query.Classify(err) {
	case query.ClassNotFound:
		logger.Debug("resource not found", slog.String("path", r.URL.Path))
		_ = response.WriteError(w, http.StatusNotFound, "NotFound", "resource not found")
	case query.ClassClient:
		logger.Info("rejected request",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		_ = response.WriteError(w, http.StatusBadRequest, "BadRequest", err.Error())
	default:
		// Internal details stay in the log.
		logger.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		_ = response.WriteError(w, http.StatusInternalServerError, "InternalServerError", "internal server error")
	}
}

func (h *Handler) writerFor(r *http.Request) *response.Writer {
	if h.writer != nil {
		return h.writer
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if forwarded := r.Header.Get("X-Forwarded-Proto"); forwarded == "http" || forwarded == "https" {
		scheme = forwarded
	}
	base := strings.TrimSuffix(h.cfg.BasePath, "/")
	return response.NewWriter(scheme + "://" + r.Host + base + "/")
}
