package serverapp

import (
	"fmt"
	"net/http"
	"strings"
	"sync"

	"tidb-odata/internal/config"
	"tidb-odata/internal/logging"
	"tidb-odata/internal/metamodel"
	"tidb-odata/internal/observability"
)

// App owns runtime resources for the tidb-odata server lifecycle.
type App struct {
	cfg    *config.Config
	logger *logging.Logger

	loggerProvider *observability.LoggerProvider

	effectiveDatabase string
	dsnPresent        bool

	// parts is nil until Init succeeds.
	parts *components

	cleanup cleanupStack

	stateMu      sync.Mutex
	started      bool
	serverErrors chan error

	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates an App lifecycle wrapper.
func New(cfg *config.Config, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	effectiveDatabase, err := cfg.Database.EffectiveDatabaseName()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve effective database configuration: %w", err)
	}

	return &App{
		cfg:               cfg,
		logger:            logger,
		effectiveDatabase: effectiveDatabase,
		dsnPresent:        strings.TrimSpace(cfg.Database.ConnectionString) != "",
	}, nil
}

// AttachLoggerProvider registers an optional logger provider for shutdown cleanup.
func (a *App) AttachLoggerProvider(provider *observability.LoggerProvider) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.loggerProvider = provider
}

// Handler returns the fully wrapped HTTP handler. It is nil before Init.
func (a *App) Handler() http.Handler {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	if a.parts == nil {
		return nil
	}
	return a.parts.handler
}

// Schema returns the schema the server was initialized with.
func (a *App) Schema() *metamodel.Schema {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	if a.parts == nil {
		return nil
	}
	return a.parts.schema
}

// Fingerprint returns the fingerprint of the initialized schema, or "" before
// Init.
func (a *App) Fingerprint() string {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	if a.parts == nil {
		return ""
	}
	return a.parts.fingerprint
}
