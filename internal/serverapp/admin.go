package serverapp

import (
	"log/slog"
	"net/http"

	"tidb-odata/internal/config"
	"tidb-odata/internal/logging"
	"tidb-odata/internal/metamodel"
	"tidb-odata/internal/middleware"
	"tidb-odata/internal/observability"
	"tidb-odata/internal/response"

	"gopkg.in/yaml.v3"
)

const schemaDescriptorContentType = "application/yaml"

// buildAdminHandler guards the schema endpoint with the admin token when one
// is configured and with bearer auth otherwise.
func buildAdminHandler(cfg *config.Config, logger *logging.Logger, schema *metamodel.Schema, fingerprint string, securityMetrics *observability.SecurityMetrics) (http.Handler, error) {
	var adminHandler http.Handler = http.HandlerFunc(schemaHandler(schema, fingerprint, securityMetrics))

	if cfg.Server.Admin.AuthToken != "" {
		tokenMiddleware, err := middleware.AdminTokenAuthMiddleware(middleware.AdminTokenAuthConfig{
			Token: cfg.Server.Admin.AuthToken,
		}, securityMetrics)
		if err != nil {
			return nil, err
		}
		logger.Info("admin endpoints require the admin token")
		return tokenMiddleware(adminHandler), nil
	}

	authMiddleware, err := bearerAuthMiddleware(cfg, logger, securityMetrics)
	if err != nil {
		return nil, err
	}
	if authMiddleware == nil {
		logger.Warn("admin endpoints are not authenticated - set server.admin.auth_token or enable bearer auth")
		return adminHandler, nil
	}
	logger.Info("admin endpoints require bearer authentication")
	return authMiddleware(adminHandler), nil
}

// schemaHandler serves the active schema as a YAML descriptor, the same
// format the server loads with schema.file.
func schemaHandler(schema *metamodel.Schema, fingerprint string, securityMetrics *observability.SecurityMetrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := logging.FromContext(r.Context())

		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			_ = response.WriteError(w, http.StatusMethodNotAllowed, "MethodNotAllowed", "method not allowed")
			return
		}

		authCtx, authenticated := middleware.AuthFromContext(r.Context())
		logAttrs := []any{
			slog.String("operation", "schema_dump"),
			slog.String("remote_addr", r.RemoteAddr),
			slog.Bool("authenticated", authenticated),
		}
		if authenticated {
			logAttrs = append(logAttrs,
				slog.String("authenticated_user", authCtx.Subject),
				slog.String("issuer", authCtx.Issuer),
			)
		}
		reqLogger.Info("admin endpoint accessed", logAttrs...)

		body, err := yaml.Marshal(schema)
		if err != nil {
			securityMetrics.RecordAdminEndpointAccess(r.Context(), "schema_dump", authenticated, false)
			reqLogger.Error("schema dump failed", slog.String("error", err.Error()))
			_ = response.WriteError(w, http.StatusInternalServerError, "InternalServerError", "schema dump failed")
			return
		}

		securityMetrics.RecordAdminEndpointAccess(r.Context(), "schema_dump", authenticated, true)
		w.Header().Set("Content-Type", schemaDescriptorContentType)
		w.Header().Set("ETag", `"`+fingerprint+`"`)
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write(body)
		}
	}
}
