package serverapp

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"tidb-odata/internal/config"
	"tidb-odata/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.Config{Level: "info", Format: "text"})
}

func TestWait_ContextEnds(t *testing.T) {
	app := &App{logger: testLogger(), serverErrors: make(chan error, 1)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reason, err := app.Wait(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reason != StopRequested {
		t.Fatalf("expected reason=%s, got %q", StopRequested, reason)
	}
}

func TestWait_ServerErrorWins(t *testing.T) {
	serverErrors := make(chan error, 1)
	serverErrors <- errors.New("boom")
	app := &App{logger: testLogger(), serverErrors: serverErrors}

	reason, err := app.Wait(context.Background())
	if err == nil || err.Error() != "boom" {
		t.Fatalf("expected server error, got %v", err)
	}
	if reason != StopServerError {
		t.Fatalf("expected reason=%s, got %q", StopServerError, reason)
	}
}

func TestWait_BeforeStartFails(t *testing.T) {
	app := &App{logger: testLogger()}
	if _, err := app.Wait(context.Background()); err == nil {
		t.Fatalf("expected wait to fail before start")
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	app := &App{logger: testLogger()}
	var calls int32
	app.cleanup.push("test", func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := app.Shutdown(ctx); err != nil {
		t.Fatalf("first shutdown failed: %v", err)
	}
	if err := app.Shutdown(ctx); err != nil {
		t.Fatalf("second shutdown failed: %v", err)
	}

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected cleanup to run once, ran %d times", got)
	}
}

func TestShutdown_RunsAllStepsAndJoinsErrors(t *testing.T) {
	app := &App{logger: testLogger()}
	var order []string
	app.cleanup.push("database", func(context.Context) error {
		order = append(order, "database")
		return nil
	})
	app.cleanup.push("HTTP server", func(context.Context) error {
		order = append(order, "HTTP server")
		return errors.New("listener stuck")
	})

	err := app.Shutdown(context.Background())
	if err == nil || err.Error() != "HTTP server: listener stuck" {
		t.Fatalf("expected joined cleanup error, got %v", err)
	}
	if len(order) != 2 || order[0] != "HTTP server" || order[1] != "database" {
		t.Fatalf("expected reverse acquisition order, got %v", order)
	}
	if again := app.Shutdown(context.Background()); again != err {
		t.Fatalf("expected repeated shutdown to return first result, got %v", again)
	}
}

func TestStart_BeforeInit_Fails(t *testing.T) {
	app := &App{logger: testLogger()}
	if _, err := app.Start(); err == nil {
		t.Fatalf("expected start to fail before init")
	}
	if got := app.Fingerprint(); got != "" {
		t.Fatalf("expected no fingerprint before init, got %q", got)
	}
	if app.Schema() != nil {
		t.Fatalf("expected no schema before init")
	}
}

func TestStartAndShutdown_HappyPath(t *testing.T) {
	app := &App{
		cfg: &config.Config{
			Server: config.ServerConfig{TLSMode: "off"},
		},
		logger: testLogger(),
		parts: &components{
			serverAddr: "127.0.0.1:0",
			srv: &http.Server{
				Addr:    "127.0.0.1:0",
				Handler: http.NewServeMux(),
			},
		},
	}
	app.cleanup.push("HTTP server", func(ctx context.Context) error {
		return app.parts.srv.Shutdown(ctx)
	})

	if _, err := app.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := app.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
}

func TestInitFailure_DoesNotMarkInitialized(t *testing.T) {
	appCfg := &config.Config{
		Database: config.DatabaseConfig{
			Driver:   config.DriverMySQL,
			Host:     "127.0.0.1",
			Port:     1,
			User:     "root",
			Password: "invalid",
			Database: "test",
			TLS: config.DatabaseTLSConfig{
				Mode: "off",
			},
			Pool: config.PoolConfig{
				MaxOpen:     1,
				MaxIdle:     1,
				MaxLifetime: time.Second,
			},
			ConnectionTimeout:       0,
			ConnectionRetryInterval: 10 * time.Millisecond,
		},
		Server: config.ServerConfig{
			Port:               18089,
			BasePath:           "/odata",
			HealthPath:         "/health",
			ReadTimeout:        time.Second,
			WriteTimeout:       time.Second,
			IdleTimeout:        time.Second,
			ShutdownTimeout:    time.Second,
			HealthCheckTimeout: time.Second,
			TLSMode:            "off",
		},
		Observability: config.ObservabilityConfig{
			ServiceName:    "tidb-odata",
			ServiceVersion: "test",
			Environment:    "test",
			Logging: config.LoggingConfig{
				Level:          "info",
				Format:         "text",
				ExportsEnabled: false,
			},
		},
		Schema: config.SchemaConfig{
			Introspect: true,
			Namespace:  "TiDB",
		},
	}

	app, err := New(appCfg, testLogger())
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}

	if err := app.Init(context.Background()); err == nil {
		t.Fatalf("expected init to fail with unreachable database")
	}

	app.stateMu.Lock()
	parts := app.parts
	app.stateMu.Unlock()
	if parts != nil {
		t.Fatalf("app should not be marked initialized after failed Init")
	}
}

func TestNew_RejectsMissingDatabase(t *testing.T) {
	cfg := &config.Config{Database: config.DatabaseConfig{Driver: config.DriverMySQL, Host: "localhost", Port: 4000}}
	if _, err := New(cfg, testLogger()); err == nil {
		t.Fatalf("expected error for a configuration without a database name")
	}
}
