package serverapp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tidb-odata/internal/config"
	"tidb-odata/internal/planner"
	"tidb-odata/internal/testutil"
)

func sqliteConfig(t *testing.T) *config.Config {
	t.Helper()

	schemaFile := filepath.Join(t.TempDir(), "schema.yaml")
	if err := os.WriteFile(schemaFile, []byte(testutil.SchemaYAML), 0o600); err != nil {
		t.Fatalf("write schema file: %v", err)
	}
	limits := planner.DefaultLimits()

	return &config.Config{
		Database: config.DatabaseConfig{
			Driver:           config.DriverSQLite,
			ConnectionString: testutil.FixtureDBFile(t),
			Pool: config.PoolConfig{
				MaxOpen:     1,
				MaxIdle:     1,
				MaxLifetime: time.Minute,
			},
		},
		Server: config.ServerConfig{
			Port:               0,
			BasePath:           "/odata",
			ServiceRoot:        "http://localhost:8080/odata/",
			HealthPath:         "/health",
			HealthCheckTimeout: time.Second,
			TLSMode:            "off",
			Admin: config.AdminConfig{
				SchemaEndpointEnabled: true,
				AuthToken:             "admin-secret",
			},
		},
		Schema: config.SchemaConfig{
			File:      schemaFile,
			Namespace: "Example",
		},
		Query: config.QueryConfig{
			MaxTop:            limits.MaxTop,
			DefaultTop:        limits.DefaultTop,
			MaxExpandDepth:    limits.MaxExpandDepth,
			MaxInClause:       limits.MaxInClause,
			ParallelHydration: true,
		},
		Observability: config.ObservabilityConfig{
			ServiceName: "tidb-odata",
			Logging:     config.LoggingConfig{Level: "info", Format: "text"},
		},
	}
}

func TestInit_SQLiteServesRequests(t *testing.T) {
	app, err := New(sqliteConfig(t), testLogger())
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}
	if err := app.Init(context.Background()); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	t.Cleanup(func() {
		_ = app.Shutdown(context.Background())
	})

	if app.Schema() == nil || app.Schema().Namespace != "Example" {
		t.Fatalf("expected fixture schema to be loaded")
	}
	if len(app.Fingerprint()) != 12 {
		t.Fatalf("unexpected fingerprint %q", app.Fingerprint())
	}
	handler := app.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/odata/Organizations('1')?$expand=Roles", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var org map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &org); err != nil {
		t.Fatalf("decode entity: %v", err)
	}
	if org["@odata.id"] != "http://localhost:8080/odata/Organizations('1')" {
		t.Fatalf("unexpected id %v", org["@odata.id"])
	}
	roles, ok := org["Roles"].([]interface{})
	if !ok || len(roles) != 3 {
		t.Fatalf("expected three roles, got %v", org["Roles"])
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/odata/Organizations('9')", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"healthy"`) {
		t.Fatalf("unexpected health response %d: %s", rec.Code, rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/admin/schema", nil)
	req.Header.Set("X-Admin-Token", "admin-secret")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected admin schema status 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("ETag"); got != `"`+app.Fingerprint()+`"` {
		t.Fatalf("unexpected schema etag %q", got)
	}
}

func TestInit_MissingSchemaFileFails(t *testing.T) {
	cfg := sqliteConfig(t)
	cfg.Schema.File = filepath.Join(t.TempDir(), "missing.yaml")

	app, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}
	err = app.Init(context.Background())
	if err == nil || !strings.Contains(err.Error(), "failed to load schema") {
		t.Fatalf("expected schema load error, got %v", err)
	}
}
