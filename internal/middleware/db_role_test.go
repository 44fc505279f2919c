package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"tidb-odata/internal/observability"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func roleEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if role, ok := DBRoleFromContext(r.Context()); ok {
			w.Header().Set("X-Role", role.Role)
			w.Header().Set("X-Role-Claim", role.Claim)
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func withClaims(req *http.Request, claims map[string]interface{}) *http.Request {
	return req.WithContext(WithAuthContext(req.Context(), AuthContext{Claims: claims}))
}

func TestDBRoleMiddleware(t *testing.T) {
	allowed := []string{"app_viewer", "app_analyst"}

	tests := []struct {
		name        string
		claimName   string
		claims      map[string]interface{}
		validate    bool
		wantStatus  int
		wantRole    string
		wantMessage string
	}{
		{
			name:        "no auth context",
			wantStatus:  http.StatusUnauthorized,
			wantMessage: "missing authentication",
		},
		{
			name:        "claim absent",
			claims:      map[string]interface{}{"sub": "alice"},
			wantStatus:  http.StatusForbidden,
			wantMessage: "missing db_role claim",
		},
		{
			name:        "numeric claim",
			claims:      map[string]interface{}{"db_role": 7},
			wantStatus:  http.StatusBadRequest,
			wantMessage: "invalid db_role claim type",
		},
		{
			name:        "blank claim",
			claims:      map[string]interface{}{"db_role": "  "},
			wantStatus:  http.StatusBadRequest,
			wantMessage: "invalid db_role claim type",
		},
		{
			name:        "list with two roles",
			claims:      map[string]interface{}{"db_role": []interface{}{"app_viewer", "app_analyst"}},
			wantStatus:  http.StatusBadRequest,
			wantMessage: "invalid db_role claim type",
		},
		{
			name:        "role outside allow-list",
			claims:      map[string]interface{}{"db_role": "root"},
			validate:    true,
			wantStatus:  http.StatusForbidden,
			wantMessage: "invalid database role: root",
		},
		{
			name:       "allowed role",
			claims:     map[string]interface{}{"db_role": "app_analyst"},
			validate:   true,
			wantStatus: http.StatusNoContent,
			wantRole:   "app_analyst",
		},
		{
			name:       "single-element list",
			claims:     map[string]interface{}{"db_role": []interface{}{" app_viewer "}},
			validate:   true,
			wantStatus: http.StatusNoContent,
			wantRole:   "app_viewer",
		},
		{
			name:       "validation off passes unlisted roles",
			claims:     map[string]interface{}{"db_role": "reporting"},
			wantStatus: http.StatusNoContent,
			wantRole:   "reporting",
		},
		{
			name:        "custom claim name",
			claimName:   "tidb_role",
			claims:      map[string]interface{}{"db_role": "app_viewer"},
			wantStatus:  http.StatusForbidden,
			wantMessage: "missing tidb_role claim",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/odata/Organizations", nil)
			if tt.claims != nil {
				req = withClaims(req, tt.claims)
			}
			rec := httptest.NewRecorder()
			DBRoleMiddleware(tt.claimName, tt.validate, allowed)(roleEcho()).ServeHTTP(rec, req)

			require.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantRole != "" {
				assert.Equal(t, tt.wantRole, rec.Header().Get("X-Role"))
				assert.Equal(t, DefaultDBRoleClaim, rec.Header().Get("X-Role-Claim"))
			}
			if tt.wantMessage == "" {
				return
			}
			var payload struct {
				Error struct {
					Code    string `json:"code"`
					Message string `json:"message"`
				} `json:"error"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
			assert.Equal(t, tt.wantMessage, payload.Error.Message)
			assert.NotEmpty(t, payload.Error.Code)
		})
	}
}

func TestDBRoleMiddlewareCountsRejections(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	previous := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	t.Cleanup(func() {
		otel.SetMeterProvider(previous)
		_ = provider.Shutdown(context.Background())
	})

	metrics, err := observability.InitSecurityMetrics()
	require.NoError(t, err)
	mw := DBRoleMiddleware("", true, []string{"app_viewer"}, metrics)(roleEcho())

	for _, claims := range []map[string]interface{}{
		{"db_role": "root"},
		{},
		{"db_role": "app_viewer"},
	} {
		req := withClaims(httptest.NewRequest(http.MethodGet, "/odata/Organizations", nil), claims)
		mw.ServeHTTP(httptest.NewRecorder(), req)
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	var rejections int64
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != "odata.security.db_role.rejections" {
				continue
			}
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				rejections += dp.Value
			}
		}
	}
	assert.Equal(t, int64(2), rejections)
}
