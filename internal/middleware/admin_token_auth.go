package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"tidb-odata/internal/observability"
	"tidb-odata/internal/response"
)

const defaultAdminTokenHeader = "X-Admin-Token"

// adminSubject identifies requests authenticated by the admin token.
const adminSubject = "admin_token"

// AdminTokenAuthConfig controls shared-token authentication for admin endpoints.
type AdminTokenAuthConfig struct {
	Token string
	// HeaderName defaults to X-Admin-Token. The token is also accepted as an
	// Authorization bearer credential.
	HeaderName string
}

// AdminTokenAuthMiddleware guards the /admin endpoints with a static token.
func AdminTokenAuthMiddleware(cfg AdminTokenAuthConfig, securityMetrics ...*observability.SecurityMetrics) (func(http.Handler) http.Handler, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("admin auth token is required")
	}
	headerName := strings.TrimSpace(cfg.HeaderName)
	if headerName == "" {
		headerName = defaultAdminTokenHeader
	}
	expected := sha256.Sum256([]byte(token))
	metrics := firstMetrics(securityMetrics)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := strings.TrimSpace(r.Header.Get(headerName))
			if provided == "" {
				provided = bearerToken(r.Header.Get("Authorization"))
			}
			// Digests keep the comparison constant-time regardless of length.
			digest := sha256.Sum256([]byte(provided))
			if provided == "" || subtle.ConstantTimeCompare(digest[:], expected[:]) != 1 {
				reason := "invalid_admin_token"
				if provided == "" {
					reason = "missing_admin_token"
				}
				metrics.RecordUnauthorizedAttempt(r.Context(), r.URL.Path, reason)
				_ = response.WriteError(w, http.StatusUnauthorized, "Unauthorized", "unauthorized")
				return
			}

			ctx := WithAuthContext(r.Context(), AuthContext{
				Subject: adminSubject,
				Issuer:  adminSubject,
				Claims:  map[string]interface{}{"auth_method": adminSubject},
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}, nil
}
