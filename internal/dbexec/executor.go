// Package dbexec runs the read statements the query engine compiles. Requests
// either share the pool directly or run under the database role carried by
// their bearer token.
package dbexec

import (
	"context"
	"database/sql"
)

// Rows is the subset of *sql.Rows the engine consumes. Implementations may
// release additional resources on Close.
type Rows interface {
	Columns() ([]string, error)
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// QueryExecutor runs one read statement.
type QueryExecutor interface {
	QueryContext(ctx context.Context, query string, args ...any) (Rows, error)
}

// StandardExecutor queries the pool directly.
type StandardExecutor struct {
	db *sql.DB
}

func NewStandardExecutor(db *sql.DB) *StandardExecutor {
	return &StandardExecutor{db: db}
}

func (e *StandardExecutor) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	if e.db == nil {
		return nil, sql.ErrConnDone
	}
	return e.db.QueryContext(ctx, query, args...)
}
