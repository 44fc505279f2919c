package serverapp

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"tidb-odata/internal/dbexec"
	"tidb-odata/internal/metamodel"
	"tidb-odata/internal/observability"
	"tidb-odata/internal/query"
	"tidb-odata/internal/tlscert"
)

// components is everything Init builds. It is installed on the App in one
// step so a failed Init leaves nothing half-wired.
type components struct {
	meterProvider   *observability.MeterProvider
	queryMetrics    *observability.QueryMetrics
	securityMetrics *observability.SecurityMetrics
	tracerProvider  *observability.TracerProvider

	db         *sql.DB
	dbStatsReg interface{ Unregister() error }

	schema        *metamodel.Schema
	fingerprint   string
	engine        *query.Engine
	queryExecutor dbexec.QueryExecutor

	odataHandler http.Handler
	adminHandler http.Handler
	mux          *http.ServeMux
	handler      http.Handler

	serverAddr string
	srv        *http.Server
	tlsManager tlscert.Manager
}

// initStage builds one slice of the runtime. Resources it acquires are
// pushed onto cleanup before it returns.
type initStage struct {
	name string
	run  func(ctx context.Context, c *components, cleanup *cleanupStack) error
}

// Init initializes all runtime resources. It is idempotent.
func (a *App) Init(ctx context.Context) error {
	a.stateMu.Lock()
	done := a.parts != nil
	a.stateMu.Unlock()
	if done {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	cleanup := cleanupStack{}
	if a.loggerProvider != nil {
		cleanup.push("logger provider", func(shutdownCtx context.Context) error {
			return a.loggerProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	stages := []initStage{
		{name: "telemetry", run: a.initTelemetry},
		{name: "database", run: a.initDatabase},
		{name: "schema", run: a.initSchema},
		{name: "http", run: a.initHTTP},
	}

	parts := &components{}
	for _, stage := range stages {
		if err := stage.run(ctx, parts, &cleanup); err != nil {
			a.logger.Error("initialization failed", slog.String("stage", stage.name), slog.String("error", err.Error()))
			_ = cleanup.run(context.Background(), a.logger)
			return err
		}
	}

	a.stateMu.Lock()
	a.parts = parts
	a.cleanup = cleanup
	a.stateMu.Unlock()
	return nil
}

func (a *App) initTelemetry(_ context.Context, c *components, cleanup *cleanupStack) error {
	meterProvider, queryMetrics, securityMetrics, err := initMetrics(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry metrics: %w", err)
	}
	if meterProvider != nil {
		cleanup.push("meter provider", func(shutdownCtx context.Context) error {
			return meterProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}
	c.meterProvider, c.queryMetrics, c.securityMetrics = meterProvider, queryMetrics, securityMetrics

	tracerProvider, err := initTracing(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry tracing: %w", err)
	}
	if tracerProvider != nil {
		cleanup.push("tracer provider", func(shutdownCtx context.Context) error {
			return tracerProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}
	c.tracerProvider = tracerProvider
	return nil
}

func (a *App) initDatabase(ctx context.Context, c *components, cleanup *cleanupStack) error {
	a.logger.Info("connecting to database",
		slog.String("driver", a.cfg.Database.Driver),
		slog.String("host", a.cfg.Database.Host),
		slog.Int("port", a.cfg.Database.Port),
		slog.String("database_effective", a.effectiveDatabase),
		slog.Bool("dsn_present", a.dsnPresent),
	)

	db, statsReg, err := connectDB(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	cleanup.push("database", func(_ context.Context) error {
		if statsReg != nil {
			if err := statsReg.Unregister(); err != nil {
				a.logger.Warn("failed to unregister DB stats metrics", slog.String("error", err.Error()))
			}
		}
		return db.Close()
	})
	c.db, c.dbStatsReg = db, statsReg

	if err := configureDatabase(ctx, a.cfg, a.logger, db, a.effectiveDatabase); err != nil {
		return fmt.Errorf("failed to verify database connection: %w", err)
	}
	c.queryExecutor = buildQueryExecutor(a.cfg, db, a.effectiveDatabase)
	return nil
}

func (a *App) initSchema(ctx context.Context, c *components, _ *cleanupStack) error {
	schema, err := loadSchema(ctx, a.cfg, a.logger, c.db, a.effectiveDatabase)
	if err != nil {
		return fmt.Errorf("failed to load schema: %w", err)
	}
	fingerprint, err := schemaFingerprint(schema)
	if err != nil {
		return fmt.Errorf("failed to fingerprint schema: %w", err)
	}
	a.logger.Info("schema loaded",
		slog.String("namespace", schema.Namespace),
		slog.Int("entity_sets", len(schema.EntitySetNames())),
		slog.String("fingerprint", fingerprint),
	)
	c.schema, c.fingerprint = schema, fingerprint
	c.engine = buildEngine(a.cfg, schema, c.queryMetrics)
	return nil
}

func (a *App) initHTTP(_ context.Context, c *components, cleanup *cleanupStack) error {
	var err error
	c.odataHandler, err = buildODataHandler(a.cfg, a.logger, c.engine, c.queryExecutor, c.fingerprint, c.securityMetrics)
	if err != nil {
		return fmt.Errorf("failed to initialize OData handler: %w", err)
	}
	c.adminHandler, err = buildAdminHandler(a.cfg, a.logger, c.schema, c.fingerprint, c.securityMetrics)
	if err != nil {
		return fmt.Errorf("failed to initialize admin handler: %w", err)
	}

	c.mux = buildRouter(a.cfg, a.logger, c.db, c.odataHandler, c.adminHandler, c.meterProvider)
	c.handler = wrapHTTPHandler(a.cfg, a.logger, c.mux)

	c.serverAddr = fmt.Sprintf(":%d", a.cfg.Server.Port)
	srv, tlsManager, err := buildServer(a.cfg, a.logger, c.handler, c.serverAddr)
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}
	cleanup.push("HTTP server", func(shutdownCtx context.Context) error {
		return srv.Shutdown(shutdownCtx)
	})
	if tlsManager != nil {
		cleanup.push("TLS manager", func(_ context.Context) error {
			return tlsManager.Shutdown()
		})
	}
	c.srv, c.tlsManager = srv, tlsManager
	return nil
}
