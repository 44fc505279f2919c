package middleware

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"tidb-odata/internal/observability"
	"tidb-odata/internal/response"
)

// DefaultDBRoleClaim is read when no claim name is configured.
const DefaultDBRoleClaim = "db_role"

type dbRoleContextKey struct{}

// DBRoleContext is the database role a request's queries run under.
type DBRoleContext struct {
	Role  string
	Claim string
}

// WithDBRole attaches the database role to the request context.
func WithDBRole(ctx context.Context, role DBRoleContext) context.Context {
	return context.WithValue(ctx, dbRoleContextKey{}, role)
}

// DBRoleFromContext extracts the database role from context.
func DBRoleFromContext(ctx context.Context) (DBRoleContext, bool) {
	role, ok := ctx.Value(dbRoleContextKey{}).(DBRoleContext)
	return role, ok
}

// roleRejection describes why a claim did not yield a role.
type roleRejection struct {
	status  int
	code    string
	reason  string
	message string
}

// roleFromClaims reads the role claim. A single-element string array is
// accepted since some identity providers emit every custom claim as a list.
func roleFromClaims(claims map[string]interface{}, claimName string) (string, *roleRejection) {
	raw, ok := claims[claimName]
	if !ok {
		return "", &roleRejection{http.StatusForbidden, "Forbidden", "missing_claim", "missing " + claimName + " claim"}
	}
	if list, isList := raw.([]interface{}); isList && len(list) == 1 {
		raw = list[0]
	}
	role, ok := raw.(string)
	role = strings.TrimSpace(role)
	if !ok || role == "" {
		return "", &roleRejection{http.StatusBadRequest, "BadRequest", "invalid_claim_type", "invalid " + claimName + " claim type"}
	}
	return role, nil
}

// DBRoleMiddleware takes the database role from the authenticated token's
// claimName claim. With validate set, roles outside availableRoles are
// rejected before any query runs.
func DBRoleMiddleware(claimName string, validate bool, availableRoles []string, securityMetrics ...*observability.SecurityMetrics) func(http.Handler) http.Handler {
	metrics := firstMetrics(securityMetrics)
	if claimName == "" {
		claimName = DefaultDBRoleClaim
	}
	allowed := slices.Clone(availableRoles)

	reject := func(w http.ResponseWriter, r *http.Request, rej *roleRejection) {
		metrics.RecordRoleRejection(r.Context(), rej.reason)
		_ = response.WriteError(w, rej.status, rej.code, rej.message)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx, authenticated := AuthFromContext(r.Context())
			if !authenticated {
				_ = response.WriteError(w, http.StatusUnauthorized, "Unauthorized", "missing authentication")
				return
			}

			role, rej := roleFromClaims(authCtx.Claims, claimName)
			if rej != nil {
				reject(w, r, rej)
				return
			}
			if validate && !slices.Contains(allowed, role) {
				reject(w, r, &roleRejection{http.StatusForbidden, "Forbidden", "role_not_allowed", fmt.Sprintf("invalid database role: %s", role)})
				return
			}

			ctx := WithDBRole(r.Context(), DBRoleContext{Role: role, Claim: claimName})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
