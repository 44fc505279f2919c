package serverapp

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"tidb-odata/internal/config"
	"tidb-odata/internal/dbexec"
	"tidb-odata/internal/logging"
	"tidb-odata/internal/middleware"
	"tidb-odata/internal/observability"
	"tidb-odata/internal/query"
	"tidb-odata/internal/server"
	"tidb-odata/internal/sqlutil"
	"tidb-odata/internal/tlscert"

	"github.com/XSAM/otelsql"
	"github.com/cenkalti/backoff/v5"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	metricsPath     = "/metrics"
	adminSchemaPath = "/admin/schema"
)

// serviceConfig carries the resource identity shared by every provider.
func serviceConfig(cfg *config.Config) observability.Config {
	return observability.Config{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		Environment:    cfg.Observability.Environment,
	}
}

func serviceAttrs(cfg *config.Config, otlp *config.OTLPConfig) []any {
	attrs := []any{
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("service_version", cfg.Observability.ServiceVersion),
		slog.String("environment", cfg.Observability.Environment),
	}
	if otlp != nil {
		attrs = append(attrs,
			slog.String("otlp_endpoint", otlp.Endpoint),
			slog.String("otlp_protocol", otlp.Protocol),
			slog.Bool("insecure", otlp.Insecure),
		)
	}
	return attrs
}

// InitLogger builds the process logger. With log export on, records go to
// stdout and to the OTLP logger provider, which the caller must shut down.
func InitLogger(cfg *config.Config) (*logging.Logger, *observability.LoggerProvider, error) {
	loggerCfg := logging.Config{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
	}
	logger := logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)
	if !cfg.Observability.Logging.ExportsEnabled {
		return logger, nil, nil
	}

	logsConfig := cfg.Observability.GetLogsConfig()
	logger.Info("exporting logs over OTLP", serviceAttrs(cfg, &logsConfig)...)

	providerCfg := serviceConfig(cfg)
	providerCfg.OTLPConfig = exporterConfig(logsConfig)
	provider, err := observability.InitLoggerProvider(providerCfg)
	if err != nil {
		return nil, nil, err
	}

	loggerCfg.LoggerProvider = provider.Provider()
	logger = logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)
	return logger, provider, nil
}

func exporterConfig(c config.OTLPConfig) observability.OTLPExporterConfig {
	return observability.OTLPExporterConfig{
		Endpoint:          c.Endpoint,
		Protocol:          c.Protocol,
		Insecure:          c.Insecure,
		TLSCertFile:       c.TLSCertFile,
		TLSClientCertFile: c.TLSClientCertFile,
		TLSClientKeyFile:  c.TLSClientKeyFile,
		Headers:           c.Headers,
		Timeout:           c.Timeout,
		Compression:       c.Compression,
		RetryEnabled:      c.RetryEnabled,
		RetryMaxAttempts:  c.RetryMaxAttempts,
	}
}

// initMetrics installs the Prometheus meter provider and the instruments
// built on it. Everything is nil when metrics are off; the instruments are
// nil-safe.
func initMetrics(cfg *config.Config, logger *logging.Logger) (*observability.MeterProvider, *observability.QueryMetrics, *observability.SecurityMetrics, error) {
	if !cfg.Observability.MetricsEnabled {
		return nil, nil, nil, nil
	}

	meterProvider, err := observability.InitMeterProvider(serviceConfig(cfg))
	if err != nil {
		return nil, nil, nil, err
	}
	queryMetrics, err := observability.InitMetrics(logger.Logger)
	if err != nil {
		return nil, nil, nil, err
	}
	securityMetrics, err := observability.InitSecurityMetrics()
	if err != nil {
		return nil, nil, nil, err
	}

	logger.Info("metrics enabled", serviceAttrs(cfg, nil)...)
	return meterProvider, queryMetrics, securityMetrics, nil
}

func initTracing(cfg *config.Config, logger *logging.Logger) (*observability.TracerProvider, error) {
	if !cfg.Observability.TracingEnabled {
		return nil, nil
	}

	tracesConfig := cfg.Observability.GetTracesConfig()
	providerCfg := serviceConfig(cfg)
	providerCfg.TraceSampleRatio = cfg.Observability.TraceSampleRatio
	providerCfg.OTLPConfig = exporterConfig(tracesConfig)
	tracerProvider, err := observability.InitTracerProvider(providerCfg)
	if err != nil {
		return nil, err
	}

	attrs := append(serviceAttrs(cfg, &tracesConfig), slog.Float64("sample_ratio", cfg.Observability.TraceSampleRatio))
	logger.Info("tracing enabled", attrs...)
	return tracerProvider, nil
}

func dbSystemAttribute(cfg *config.Config) attribute.KeyValue {
	if cfg.Database.IsSQLite() {
		return semconv.DBSystemSqlite
	}
	return semconv.DBSystemMySQL
}

// sqlInstrumentation returns the otelsql options for the configured
// telemetry, or nil when the pool should not be instrumented.
func sqlInstrumentation(cfg *config.Config, logger *logging.Logger) []otelsql.Option {
	obs := cfg.Observability
	if !obs.MetricsEnabled && !obs.TracingEnabled {
		return nil
	}
	opts := []otelsql.Option{otelsql.WithAttributes(dbSystemAttribute(cfg))}
	if obs.TracingEnabled {
		opts = append(opts, otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}))
	}
	switch {
	case obs.SQLCommenterEnabled && obs.TracingEnabled:
		opts = append(opts, otelsql.WithSQLCommenter(true))
	case obs.SQLCommenterEnabled:
		logger.Warn("sql commenter needs tracing; statements go out without trace context")
	}
	return opts
}

func connectDB(cfg *config.Config, logger *logging.Logger) (*sql.DB, interface{ Unregister() error }, error) {
	// Custom TLS must be registered before the DSN references it.
	if err := cfg.Database.RegisterTLS(); err != nil {
		return nil, nil, fmt.Errorf("failed to register database TLS config: %w", err)
	}

	// Role execution selects the database per connection after SET ROLE.
	dsnFor := cfg.Database.DSN
	if cfg.Server.Auth.DBRoleEnabled {
		dsnFor = cfg.Database.DSNWithoutDatabase
	}
	dsn, err := dsnFor()
	if err != nil {
		return nil, nil, err
	}

	opts := sqlInstrumentation(cfg, logger)
	if opts == nil {
		db, err := sql.Open(cfg.Database.Driver, dsn)
		return db, nil, err
	}

	db, err := otelsql.Open(cfg.Database.Driver, dsn, opts...)
	if err != nil {
		return nil, nil, err
	}
	var statsReg interface{ Unregister() error }
	if cfg.Observability.MetricsEnabled {
		statsReg, err = otelsql.RegisterDBStatsMetrics(db, otelsql.WithAttributes(dbSystemAttribute(cfg)))
		if err != nil {
			logger.Warn("failed to register DB stats metrics", slog.String("error", err.Error()))
		}
	}
	logger.Info("database instrumentation enabled",
		slog.Bool("metrics", cfg.Observability.MetricsEnabled),
		slog.Bool("tracing", cfg.Observability.TracingEnabled),
		slog.Bool("sqlcommenter", cfg.Observability.SQLCommenterEnabled && cfg.Observability.TracingEnabled),
	)
	return db, statsReg, nil
}

func configureDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger, db *sql.DB, effectiveDatabase string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	pool := cfg.Database.Pool
	db.SetMaxOpenConns(pool.MaxOpen)
	db.SetMaxIdleConns(pool.MaxIdle)
	db.SetConnMaxLifetime(pool.MaxLifetime)

	if err := waitForDatabase(ctx, cfg, logger, db, effectiveDatabase); err != nil {
		return err
	}
	logger.Info("connected to database",
		slog.String("database_effective", effectiveDatabase),
		slog.Int("pool_max_open", pool.MaxOpen),
		slog.Int("pool_max_idle", pool.MaxIdle),
		slog.Duration("pool_max_lifetime", pool.MaxLifetime),
	)
	return nil
}

const maxConnectRetryInterval = 30 * time.Second

// waitForDatabase probes the database until it answers or
// database.connection_timeout passes. A zero timeout probes once.
func waitForDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger, db *sql.DB, effectiveDatabase string) error {
	probe := func() error {
		if cfg.Server.Auth.DBRoleEnabled && !cfg.Database.IsSQLite() {
			return verifyRoleDatabaseAccess(ctx, db, effectiveDatabase)
		}
		return db.PingContext(ctx)
	}

	timeout := cfg.Database.ConnectionTimeout
	if timeout <= 0 {
		return probe()
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = max(cfg.Database.ConnectionRetryInterval, 10*time.Millisecond)
	policy.MaxInterval = maxConnectRetryInterval
	policy.Multiplier = 2
	policy.RandomizationFactor = 0

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, probe()
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxElapsedTime(timeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("database not ready, retrying",
				slog.Duration("retry_in", next),
				slog.String("error", err.Error()),
			)
		}),
	)
	if err != nil {
		return fmt.Errorf("database not available after %v: %w", timeout, err)
	}
	return nil
}

// verifyRoleDatabaseAccess checks that the login user can select the target
// database on a connection opened without one, as role execution does.
func verifyRoleDatabaseAccess(ctx context.Context, db *sql.DB, effectiveDatabase string) error {
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer func() {
		_ = conn.Close()
	}()

	if effectiveDatabase != "" {
		useSQL := fmt.Sprintf("USE %s", sqlutil.QuoteIdentifier(effectiveDatabase))
		if _, err := conn.ExecContext(ctx, useSQL); err != nil {
			return fmt.Errorf("failed to select database %s: %w", effectiveDatabase, err)
		}
	}

	if _, err := conn.ExecContext(ctx, "SELECT 1"); err != nil {
		return fmt.Errorf("failed to validate database access: %w", err)
	}

	return nil
}

func buildQueryExecutor(cfg *config.Config, db *sql.DB, effectiveDatabase string) dbexec.QueryExecutor {
	if !cfg.Server.Auth.DBRoleEnabled {
		return dbexec.NewStandardExecutor(db)
	}
	return dbexec.NewRoleExecutor(dbexec.RoleExecutorConfig{
		DB:           db,
		DatabaseName: effectiveDatabase,
		RoleFromCtx: func(ctx context.Context) (string, bool) {
			role, ok := middleware.DBRoleFromContext(ctx)
			return role.Role, ok
		},
		AllowedRoles: cfg.Server.Auth.DBRoleAllowed,
		ValidateRole: cfg.Server.Auth.DBRoleValidation,
	})
}

// bearerAuthMiddleware returns the configured token validator, or nil when
// bearer auth is off.
func bearerAuthMiddleware(cfg *config.Config, logger *logging.Logger, securityMetrics *observability.SecurityMetrics) (func(http.Handler) http.Handler, error) {
	auth := cfg.Server.Auth
	switch {
	case auth.OIDCEnabled:
		return middleware.OIDCAuthMiddleware(middleware.OIDCAuthConfig{
			Enabled:   true,
			IssuerURL: auth.OIDCIssuerURL,
			Audience:  auth.OIDCAudience,
			ClockSkew: auth.OIDCClockSkew,
			CAFile:    auth.OIDCCAFile,
		}, logger, securityMetrics)
	case auth.SharedSecretEnabled:
		return middleware.SharedSecretAuthMiddleware(middleware.SharedSecretAuthConfig{
			Secret:    auth.SharedSecret,
			Issuer:    auth.SharedSecretIssuer,
			Audience:  auth.SharedSecretAudience,
			ClockSkew: auth.OIDCClockSkew,
		}, logger, securityMetrics)
	default:
		return nil, nil
	}
}

func buildODataHandler(cfg *config.Config, logger *logging.Logger, engine *query.Engine, executor dbexec.QueryExecutor, fingerprint string, securityMetrics *observability.SecurityMetrics) (http.Handler, error) {
	var handler http.Handler = server.NewHandler(engine, executor, server.Config{
		BasePath:    cfg.Server.BasePath,
		ServiceRoot: cfg.Server.ServiceRoot,
	})

	// The chain is:
	//   request -> logging -> bearer auth -> DB role -> parse -> tracing -> handler
	// The role middleware reads claims placed by bearer auth, and parsing
	// records the role in the request metadata.
	handler = middleware.RequestTracingMiddleware()(handler)
	handler = middleware.RequestParseMiddleware(cfg.Server.BasePath, fingerprint)(handler)

	if cfg.Server.Auth.DBRoleEnabled {
		handler = middleware.DBRoleMiddleware(cfg.Server.Auth.DBRoleClaimName, cfg.Server.Auth.DBRoleValidation, cfg.Server.Auth.DBRoleAllowed, securityMetrics)(handler)
		logger.Info("database role middleware enabled")
	}

	authMiddleware, err := bearerAuthMiddleware(cfg, logger, securityMetrics)
	if err != nil {
		return nil, err
	}
	if authMiddleware != nil {
		handler = authMiddleware(handler)
		logger.Info("bearer auth middleware enabled",
			slog.Bool("oidc", cfg.Server.Auth.OIDCEnabled),
			slog.Bool("shared_secret", cfg.Server.Auth.SharedSecretEnabled),
		)
	}

	return middleware.LoggingMiddleware(logger)(handler), nil
}

func buildRouter(cfg *config.Config, logger *logging.Logger, db *sql.DB, odataHandler http.Handler, adminHandler http.Handler, meterProvider *observability.MeterProvider) *http.ServeMux {
	mux := http.NewServeMux()

	base := servicePath(cfg.Server.BasePath)
	if base == "/" {
		mux.Handle("/", odataHandler)
	} else {
		mux.Handle(base, odataHandler)
		mux.Handle(base+"/", odataHandler)
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/" {
				http.Redirect(w, r, base+"/", http.StatusFound)
				return
			}
			http.NotFound(w, r)
		})
	}

	healthPath := cfg.Server.HealthPath
	if healthPath == "" {
		healthPath = "/health"
	}
	mux.HandleFunc(healthPath, healthHandler(db, cfg.Server.HealthCheckTimeout))

	if cfg.Server.Admin.SchemaEndpointEnabled && adminHandler != nil {
		mux.Handle(adminSchemaPath, adminHandler)
		logger.Info("admin schema endpoint enabled", slog.String("path", adminSchemaPath))
	}

	if cfg.Observability.MetricsEnabled && meterProvider != nil {
		mux.Handle(metricsPath, promhttp.Handler())
		logger.Info("metrics endpoint enabled", slog.String("path", metricsPath))
	}

	return mux
}

func servicePath(basePath string) string {
	return "/" + strings.Trim(basePath, "/")
}

func wrapHTTPHandler(cfg *config.Config, logger *logging.Logger, handler http.Handler) http.Handler {
	if cfg.Observability.MetricsEnabled || cfg.Observability.TracingEnabled {
		handler = otelhttp.NewHandler(handler, "http.server",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return httpRootSpanName(r, cfg.Server)
			}),
			otelhttp.WithMessageEvents(otelhttp.ReadEvents, otelhttp.WriteEvents),
		)
		logger.Info("HTTP instrumentation enabled")
	}

	if cfg.Server.CORSEnabled {
		handler = middleware.CORSMiddleware(middleware.CORSConfig{
			Enabled:          cfg.Server.CORSEnabled,
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   cfg.Server.CORSAllowedMethods,
			AllowedHeaders:   cfg.Server.CORSAllowedHeaders,
			ExposeHeaders:    cfg.Server.CORSExposeHeaders,
			AllowCredentials: cfg.Server.CORSAllowCredentials,
			MaxAge:           cfg.Server.CORSMaxAge,
		})(handler)
	}

	if cfg.Server.RateLimitEnabled {
		handler = middleware.RateLimitMiddleware(middleware.RateLimitConfig{
			Enabled:   cfg.Server.RateLimitEnabled,
			RPS:       cfg.Server.RateLimitRPS,
			Burst:     cfg.Server.RateLimitBurst,
			PerClient: cfg.Server.RateLimitPerClient,
		})(handler)
	}

	return handler
}

func httpRootSpanName(r *http.Request, srv config.ServerConfig) string {
	if r == nil {
		return "HTTP /*"
	}

	method := strings.TrimSpace(r.Method)
	if method == "" {
		method = "HTTP"
	}

	return method + " " + normalizeHTTPSpanRoute(r.URL.Path, srv.BasePath, srv.HealthPath)
}

// normalizeHTTPSpanRoute keeps span names low-cardinality: entity keys and
// query options never appear in them.
func normalizeHTTPSpanRoute(rawPath, basePath, healthPath string) string {
	base := servicePath(basePath)
	switch rawPath {
	case "/", healthPath, metricsPath, adminSchemaPath:
		if rawPath != "" {
			return rawPath
		}
	case base:
		return base
	}
	if base != "/" && strings.HasPrefix(rawPath, base+"/") {
		return base + "/*"
	}
	return "/*"
}

func buildServer(cfg *config.Config, logger *logging.Logger, handler http.Handler, serverAddr string) (*http.Server, tlscert.Manager, error) {
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	if !tlsEnabled(cfg) {
		return srv, nil, nil
	}

	tlsManager, err := tlscert.NewManager(tlscert.Config{
		Mode:     tlscert.Mode(cfg.Server.TLSMode),
		CertFile: cfg.Server.TLSCertFile,
		KeyFile:  cfg.Server.TLSKeyFile,
		CertDir:  cfg.Server.TLSAutoCertDir,
	}, logger.Logger)
	if err != nil {
		return nil, nil, err
	}

	srv.TLSConfig, err = tlsManager.GetTLSConfig()
	if err != nil {
		return nil, nil, err
	}

	logger.Info("TLS enabled",
		slog.String("mode", cfg.Server.TLSMode),
		slog.String("cert_source", tlsManager.Description()))

	return srv, tlsManager, nil
}

func tlsEnabled(cfg *config.Config) bool {
	return cfg.Server.TLSMode != "" && cfg.Server.TLSMode != "off"
}

// startupAttrs summarizes the serving configuration for the start record.
func startupAttrs(cfg *config.Config, serverAddr string) []any {
	scheme := "http"
	if tlsEnabled(cfg) {
		scheme = "https"
	}
	attrs := []any{
		slog.String("protocol", scheme),
		slog.String("address", serverAddr),
		slog.String("odata_endpoint", servicePath(cfg.Server.BasePath)),
		slog.String("health_endpoint", cfg.Server.HealthPath),
		slog.Int("max_top", cfg.Query.MaxTop),
		slog.Int("max_expand_depth", cfg.Query.MaxExpandDepth),
		slog.String("log_level", cfg.Observability.Logging.Level),
	}
	if scheme == "https" {
		attrs = append(attrs, slog.String("tls_mode", cfg.Server.TLSMode))
	}
	if cfg.Observability.MetricsEnabled {
		attrs = append(attrs, slog.String("metrics_endpoint", metricsPath))
	}
	if cfg.Server.RateLimitEnabled {
		attrs = append(attrs, slog.Group("rate_limit",
			slog.Float64("rps", cfg.Server.RateLimitRPS),
			slog.Int("burst", cfg.Server.RateLimitBurst),
			slog.Bool("per_client", cfg.Server.RateLimitPerClient),
		))
	}
	return attrs
}

// startServer serves in the background. The returned channel receives at
// most one error and never ErrServerClosed.
func startServer(cfg *config.Config, logger *logging.Logger, srv *http.Server, serverAddr string) chan error {
	serverErrors := make(chan error, 1)
	serve := srv.ListenAndServe
	if tlsEnabled(cfg) {
		// Certificates come from srv.TLSConfig.
		serve = func() error { return srv.ListenAndServeTLS("", "") }
	}

	logger.Info("server starting", startupAttrs(cfg, serverAddr)...)
	go func() {
		if err := serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- fmt.Errorf("http server: %w", err)
		}
	}()
	return serverErrors
}

type healthReport struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

// healthHandler pings the pool within timeout. Failure causes are logged,
// never returned to the caller.
func healthHandler(db *sql.DB, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, status := healthReport{Status: "healthy", Database: "ok"}, http.StatusOK
		switch {
		case db == nil:
			report, status = healthReport{Status: "unhealthy", Database: "unconfigured"}, http.StatusServiceUnavailable
		default:
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			err := db.PingContext(ctx)
			cancel()
			if err != nil {
				logging.FromContext(r.Context()).Error("health check failed",
					slog.String("check", "database"),
					slog.String("error", err.Error()),
				)
				report, status = healthReport{Status: "unhealthy", Database: "failed"}, http.StatusServiceUnavailable
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(report)
	}
}
