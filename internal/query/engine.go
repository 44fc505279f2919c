// Package query executes compiled OData requests: it runs the root
// statement and one statement family per $expand level, correlates child
// rows with their parents and hydrates the result tree.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tidb-odata/internal/dbexec"
	"tidb-odata/internal/expand"
	"tidb-odata/internal/hydrate"
	"tidb-odata/internal/logging"
	"tidb-odata/internal/metamodel"
	"tidb-odata/internal/observability"
	"tidb-odata/internal/odata"
	"tidb-odata/internal/planner"
	"tidb-odata/internal/sqltype"

	"go.opentelemetry.io/otel/attribute"
)

// Options configure an Engine.
type Options struct {
	Limits    planner.Limits
	Hydration hydrate.Options
	// Metrics may be nil.
	Metrics *observability.QueryMetrics
}

// Engine answers OData requests against one schema. It holds no
// per-request state and is safe for concurrent use.
type Engine struct {
	schema   *metamodel.Schema
	compiler *planner.Compiler
	hydrator *hydrate.Hydrator
	metrics  *observability.QueryMetrics
}

// NewEngine returns an engine for schema.
func NewEngine(schema *metamodel.Schema, opts Options) *Engine {
	return &Engine{
		schema:   schema,
		compiler: planner.NewCompiler(schema, opts.Limits),
		hydrator: hydrate.NewHydrator(opts.Hydration),
		metrics:  opts.Metrics,
	}
}

// Schema returns the schema the engine was built for.
func (e *Engine) Schema() *metamodel.Schema {
	return e.schema
}

// Result is the outcome of one request.
type Result struct {
	Kind planner.ResultKind
	// Entity is the type of the addressed entities.
	Entity   *metamodel.EntityType
	Entities []*hydrate.Entity
	// Count is set for /$count and $count=true.
	Count *int64
	// Media is set for ResultValue.
	Media *hydrate.Media
}

// Single returns the only entity of an entity result.
func (r *Result) Single() (*hydrate.Entity, bool) {
	if len(r.Entities) == 0 {
		return nil, false
	}
	return r.Entities[0], true
}

// Compile plans req without executing it. Unknown entity sets are reported
// as ErrNotFound.
func (e *Engine) Compile(ctx context.Context, req *odata.Request) (*planner.Query, error) {
	start := time.Now()
	q, err := e.compiler.Compile(req)
	if err != nil {
		if errors.Is(err, planner.ErrUnknownEntitySet) {
			return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return nil, err
	}
	e.metrics.RecordCompile(ctx, time.Since(start), req.Resource.EntitySet)
	return q, nil
}

// Execute compiles req and runs it on exec. Statements run sequentially on
// the caller's goroutine; only hydration may fan out.
func (e *Engine) Execute(ctx context.Context, exec dbexec.QueryExecutor, req *odata.Request) (result *Result, err error) {
	entitySet := ""
	if req != nil {
		entitySet = req.Resource.EntitySet
	}
	ctx, span := startQuerySpan(ctx, "odata.execute", attribute.String("odata.entity_set", entitySet))
	start := time.Now()
	e.metrics.IncrementActiveRequests(ctx)
	defer func() {
		e.metrics.DecrementActiveRequests(ctx)
		e.metrics.RecordRequest(ctx, time.Since(start), entitySet, outcome(err))
		finishQuerySpan(span, err)
		span.End()
	}()

	q, err := e.Compile(ctx, req)
	if err != nil {
		return nil, err
	}

	x := &execution{exec: exec, logger: logging.FromContext(ctx), metrics: e.metrics}
	result, err = e.run(ctx, x, q)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("odata.query.statements", x.statements),
		attribute.Int64("odata.query.rows", x.rows),
	)
	e.metrics.RecordExecution(ctx, entitySet, x.statements, x.rows, q.Depth())
	return result, nil
}

func (e *Engine) run(ctx context.Context, x *execution, q *planner.Query) (*Result, error) {
	level := q.Root
	out := &Result{Kind: q.Kind, Entity: level.Entity}

	if q.Kind == planner.ResultCount {
		n, err := x.count(ctx, q)
		if err != nil {
			return nil, err
		}
		out.Count = &n
		return out, nil
	}

	stmt, err := q.Statement()
	if err != nil {
		return nil, err
	}
	rows, err := x.fetch(ctx, "root", stmt)
	if err != nil {
		return nil, err
	}
	if q.Kind != planner.ResultCollection && len(rows) == 0 {
		return nil, fmt.Errorf("%w: no %s matches the key", ErrNotFound, level.Entity.EntitySet)
	}
	if q.Count {
		n, err := x.count(ctx, q)
		if err != nil {
			return nil, err
		}
		out.Count = &n
	}

	root, err := expand.NewResult(map[expand.Key][]expand.Tuple{expand.RootKey: rows}, nil, level.Entity)
	if err != nil {
		return nil, err
	}
	if err := x.expand(ctx, level, root, rows); err != nil {
		return nil, err
	}

	entities, err := e.hydrator.Hydrate(ctx, root)
	if err != nil {
		return nil, err
	}
	out.Entities = entities

	if q.Kind == planner.ResultValue {
		media, ok := entities[0].Media[q.Stream.Alias()]
		if !ok || media.Data == nil {
			return nil, fmt.Errorf("%w: %s has no media", ErrNotFound, q.Stream.Alias())
		}
		out.Media = &media
	}
	return out, nil
}

// execution tracks one request's statements on a single executor.
type execution struct {
	exec    dbexec.QueryExecutor
	logger  *logging.Logger
	metrics *observability.QueryMetrics

	statements int
	rows       int64
}

func (x *execution) fetch(ctx context.Context, level string, stmt planner.SQLQuery) ([]expand.Tuple, error) {
	x.logger.DebugContext(ctx, "executing statement",
		slog.String("level", level),
		slog.String("sql", stmt.SQL),
		slog.Int("args", len(stmt.Args)),
	)
	x.statements++
	rows, err := x.exec.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", level, err)
	}
	tuples, err := scanTuples(rows)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", level, err)
	}
	x.rows += int64(len(tuples))
	return tuples, nil
}

func (x *execution) count(ctx context.Context, q *planner.Query) (int64, error) {
	stmt, err := q.CountStatement()
	if err != nil {
		return 0, err
	}
	rows, err := x.fetch(ctx, "count", stmt)
	if err != nil {
		return 0, err
	}
	if len(rows) != 1 || len(rows[0]) != 1 {
		return 0, fmt.Errorf("count statement returned %d rows", len(rows))
	}
	var raw interface{}
	for _, v := range rows[0] {
		raw = v
	}
	return countValue(planner.CountAlias, raw)
}

// expand loads every child level of level for the given parent rows and
// registers the child results on result.
func (x *execution) expand(ctx context.Context, level *planner.Level, result *expand.Result, rows []expand.Tuple) error {
	if len(level.Children) == 0 {
		return nil
	}
	children := make([]expand.Child, 0, len(level.Children))
	for _, child := range level.Children {
		parents, err := parentTuples(rows, child.Links)
		if err != nil {
			return err
		}

		var childRows []expand.Tuple
		if len(parents) > 0 {
			x.metrics.RecordParentKeys(ctx, len(parents), child.Path)
			stmts, err := child.Statements(parents)
			if err != nil {
				return err
			}
			for _, stmt := range stmts {
				batch, err := x.fetch(ctx, child.Path, stmt)
				if err != nil {
					return err
				}
				childRows = append(childRows, batch...)
			}
		}

		grouped, err := expand.Group(childRows, child.ParentAliases())
		if err != nil {
			return err
		}

		var counts map[expand.Key]int64
		if child.Count {
			counts, err = x.childCounts(ctx, child, parents)
			if err != nil {
				return err
			}
		}

		childResult, err := expand.NewResult(grouped, counts, child.Entity)
		if err != nil {
			return err
		}
		if err := x.expand(ctx, child, childResult, childRows); err != nil {
			return err
		}
		children = append(children, expand.Child{
			Name:         child.Name,
			Multiplicity: child.Multiplicity,
			Links:        child.Links,
			Result:       childResult,
		})
	}
	return result.RegisterChildren(children...)
}

func (x *execution) childCounts(ctx context.Context, child *planner.Level, parents []planner.ParentTuple) (map[expand.Key]int64, error) {
	counts := make(map[expand.Key]int64)
	if len(parents) == 0 {
		return counts, nil
	}
	stmts, err := child.CountStatements(parents)
	if err != nil {
		return nil, err
	}
	aliases := child.ParentAliases()
	for _, stmt := range stmts {
		rows, err := x.fetch(ctx, child.Path+"/$count", stmt)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			key, err := expand.KeyFor(row, aliases)
			if err != nil {
				return nil, err
			}
			n, err := countValue(planner.CountAlias, row[planner.CountAlias])
			if err != nil {
				return nil, err
			}
			counts[key] = n
		}
	}
	return counts, nil
}

// parentTuples collects the distinct link values of rows. Rows with a NULL
// link value cannot have children and are skipped.
func parentTuples(rows []expand.Tuple, links []string) ([]planner.ParentTuple, error) {
	seen := make(map[expand.Key]struct{}, len(rows))
	out := make([]planner.ParentTuple, 0, len(rows))
	for _, row := range rows {
		key, err := expand.KeyFor(row, links)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		values := make([]interface{}, len(links))
		complete := true
		for i, alias := range links {
			values[i] = row[alias]
			if values[i] == nil {
				complete = false
			}
		}
		if complete {
			out = append(out, planner.ParentTuple{Values: values})
		}
	}
	return out, nil
}

func countValue(alias string, raw interface{}) (int64, error) {
	v, err := hydrate.Coerce(alias, sqltype.EdmInt64, raw)
	if err != nil {
		return 0, err
	}
	n, _ := v.(int64)
	return n, nil
}

func scanTuples(rows dbexec.Rows) ([]expand.Tuple, error) {
	defer rows.Close()
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := make([]expand.Tuple, 0)
	for rows.Next() {
		values := make([]interface{}, len(columns))
		dest := make([]interface{}, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		tuple := make(expand.Tuple, len(columns))
		for i, col := range columns {
			tuple[col] = values[i]
		}
		out = append(out, tuple)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
