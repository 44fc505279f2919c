package dbexec

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"tidb-odata/internal/sqlutil"
)

// ErrRoleNotAllowed is returned when the request role is outside the
// configured allow-list.
var ErrRoleNotAllowed = errors.New("database role not allowed")

// RoleExecutorConfig controls role execution.
type RoleExecutorConfig struct {
	DB *sql.DB
	// DatabaseName is selected on every connection since the pool is opened
	// without a default database when roles are in use.
	DatabaseName string
	RoleFromCtx  func(context.Context) (string, bool)
	AllowedRoles []string
	ValidateRole bool
}

// RoleExecutor pins a connection per statement, activates the request's
// role on it and restores the default role once the rows are closed.
type RoleExecutor struct {
	db           *sql.DB
	databaseName string
	roleFromCtx  func(context.Context) (string, bool)
	allowedRoles map[string]struct{}
	validateRole bool
}

func NewRoleExecutor(cfg RoleExecutorConfig) *RoleExecutor {
	allowed := make(map[string]struct{}, len(cfg.AllowedRoles))
	for _, role := range cfg.AllowedRoles {
		allowed[role] = struct{}{}
	}
	roleFromCtx := cfg.RoleFromCtx
	if roleFromCtx == nil {
		roleFromCtx = func(context.Context) (string, bool) { return "", false }
	}
	return &RoleExecutor{
		db:           cfg.DB,
		databaseName: cfg.DatabaseName,
		roleFromCtx:  roleFromCtx,
		allowedRoles: allowed,
		validateRole: cfg.ValidateRole,
	}
}

// requestRole returns the role to activate, or "" to run with the login
// user's defaults.
func (e *RoleExecutor) requestRole(ctx context.Context) (string, error) {
	role, ok := e.roleFromCtx(ctx)
	if !ok || role == "" {
		return "", nil
	}
	if e.validateRole {
		if _, allowed := e.allowedRoles[role]; !allowed {
			return "", fmt.Errorf("%w: %s", ErrRoleNotAllowed, role)
		}
	}
	return role, nil
}

func (e *RoleExecutor) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	if e.db == nil {
		return nil, sql.ErrConnDone
	}
	role, err := e.requestRole(ctx)
	if err != nil {
		return nil, err
	}

	conn, err := e.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	release := func() {
		if role != "" {
			// The connection goes back to the pool; it must not keep the role.
			_, _ = conn.ExecContext(context.Background(), "SET ROLE DEFAULT")
		}
		_ = conn.Close()
	}

	if err := e.prepare(ctx, conn, role); err != nil {
		release()
		return nil, err
	}
	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		release()
		return nil, err
	}
	return &connRows{Rows: rows, release: release}, nil
}

func (e *RoleExecutor) prepare(ctx context.Context, conn *sql.Conn, role string) error {
	if role != "" {
		// Role names cannot be bound as parameters; QuoteIdentifier escapes them.
		if _, err := conn.ExecContext(ctx, "SET ROLE NONE"); err != nil {
			return fmt.Errorf("clear roles: %w", err)
		}
		if _, err := conn.ExecContext(ctx, "SET ROLE "+sqlutil.QuoteIdentifier(role)); err != nil {
			return fmt.Errorf("set role %s: %w", role, err)
		}
	}
	if e.databaseName != "" {
		if _, err := conn.ExecContext(ctx, "USE "+sqlutil.QuoteIdentifier(e.databaseName)); err != nil {
			return fmt.Errorf("select database %s: %w", e.databaseName, err)
		}
	}
	return nil
}

// connRows releases the pinned connection after the rows are closed.
type connRows struct {
	*sql.Rows
	release func()
	once    sync.Once
}

func (r *connRows) Close() error {
	err := r.Rows.Close()
	r.once.Do(r.release)
	return err
}
