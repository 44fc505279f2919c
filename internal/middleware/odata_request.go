package middleware

import (
	"context"
	"net/http"
	"strings"

	"tidb-odata/internal/logging"
	"tidb-odata/internal/observability"
	"tidb-odata/internal/odata"
)

type parsedRequestKey struct{}

// ParsedRequest is the OData request decoded once per HTTP request.
// Err holds the parse error; downstream handlers report it.
type ParsedRequest struct {
	Resource string
	Request  *odata.Request
	Err      error
	Meta     observability.RequestMeta
}

// WithParsedRequest stores parsed on ctx.
func WithParsedRequest(ctx context.Context, parsed ParsedRequest) context.Context {
	return context.WithValue(ctx, parsedRequestKey{}, parsed)
}

// ParsedRequestFromContext returns the request stored by RequestParseMiddleware.
func ParsedRequestFromContext(ctx context.Context) (ParsedRequest, bool) {
	parsed, ok := ctx.Value(parsedRequestKey{}).(ParsedRequest)
	return parsed, ok
}

// ResourcePath strips basePath from urlPath. It reports false when urlPath
// lies outside basePath. The service root itself yields "/".
func ResourcePath(urlPath, basePath string) (string, bool) {
	base := "/" + strings.Trim(basePath, "/")
	if base == "/" {
		if !strings.HasPrefix(urlPath, "/") {
			return "", false
		}
		return urlPath, true
	}
	if urlPath == base {
		return "/", true
	}
	rest, ok := strings.CutPrefix(urlPath, base+"/")
	if !ok {
		return "", false
	}
	return "/" + rest, true
}

// RequestParseMiddleware parses the OData resource path and query options
// below basePath and stores the outcome in the request context for the
// tracing middleware and the handler. Requests for the service root pass
// through untouched.
func RequestParseMiddleware(basePath, fingerprint string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			resource, ok := ResourcePath(r.URL.Path, basePath)
			if !ok || strings.Trim(resource, "/") == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			meta := observability.RequestMeta{Fingerprint: fingerprint}
			if role, ok := DBRoleFromContext(ctx); ok {
				meta.Role = role.Role
			}
			req, err := odata.ParseRequest(resource, r.URL.RawQuery)
			if req != nil {
				noteEntitySet(ctx, req.Resource.EntitySet)
			}
			ctx = WithParsedRequest(ctx, ParsedRequest{
				Resource: resource,
				Request:  req,
				Err:      err,
				Meta:     meta,
			})

			if logFields := observability.RequestLogFields(ctx, req, meta); len(logFields) > 0 {
				ctx = logging.WithLogger(ctx, logging.FromContext(ctx).WithFields(logFields...))
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
