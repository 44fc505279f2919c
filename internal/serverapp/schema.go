package serverapp

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"

	"tidb-odata/internal/config"
	"tidb-odata/internal/hydrate"
	"tidb-odata/internal/introspection"
	"tidb-odata/internal/logging"
	"tidb-odata/internal/metamodel"
	"tidb-odata/internal/naming"
	"tidb-odata/internal/observability"
	"tidb-odata/internal/planner"
	"tidb-odata/internal/query"
	"tidb-odata/internal/schemafilter"

	"gopkg.in/yaml.v3"
)

// loadSchema reads the schema descriptor file when one is configured and
// derives the schema from information_schema otherwise.
func loadSchema(ctx context.Context, cfg *config.Config, logger *logging.Logger, db *sql.DB, databaseName string) (*metamodel.Schema, error) {
	if cfg.Schema.File != "" {
		logger.Info("loading schema descriptor", slog.String("file", cfg.Schema.File))
		schema, err := metamodel.LoadFile(cfg.Schema.File)
		if err != nil {
			return nil, err
		}
		return schema, nil
	}
	return introspectSchema(ctx, cfg, logger, db, databaseName)
}

func introspectSchema(ctx context.Context, cfg *config.Config, logger *logging.Logger, db *sql.DB, databaseName string) (*metamodel.Schema, error) {
	logger.Info("introspecting database schema", slog.String("database", databaseName))

	namer := naming.New(cfg.Schema.Naming, logger.Logger)
	dbSchema, err := introspection.IntrospectDatabaseWithNamer(ctx, db, databaseName, namer)
	if err != nil {
		return nil, fmt.Errorf("introspection failed: %w", err)
	}
	schemafilter.Apply(ctx, dbSchema, cfg.Schema.Filters, namer)
	if err := introspection.ApplyUUIDTypeOverrides(dbSchema, cfg.Schema.UUIDColumns); err != nil {
		return nil, fmt.Errorf("invalid uuid column mapping: %w", err)
	}

	logger.Debug("introspection complete", slog.Int("tables", len(dbSchema.Tables)))
	return metamodel.FromIntrospection(dbSchema, cfg.Schema.Namespace, namer, logger.Logger)
}

// schemaFingerprint identifies a schema version in logs and span attributes.
func schemaFingerprint(schema *metamodel.Schema) (string, error) {
	data, err := yaml.Marshal(schema)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:12], nil
}

func buildEngine(cfg *config.Config, schema *metamodel.Schema, metrics *observability.QueryMetrics) *query.Engine {
	return query.NewEngine(schema, query.Options{
		Limits: planner.Limits{
			MaxTop:         cfg.Query.MaxTop,
			DefaultTop:     cfg.Query.DefaultTop,
			MaxExpandDepth: cfg.Query.MaxExpandDepth,
			MaxInClause:    cfg.Query.MaxInClause,
		},
		Hydration: hydrate.Options{
			Parallel:   cfg.Query.ParallelHydration,
			MaxWorkers: cfg.Query.MaxHydrationWorkers,
		},
		Metrics: metrics,
	})
}
