package planner

import (
	"fmt"
	"math"
	"strings"

	"tidb-odata/internal/querypath"

	sq "github.com/Masterminds/squirrel"
)

// Statement renders the root statement of q.
func (q *Query) Statement() (SQLQuery, error) {
	if q.Kind == ResultCount {
		return q.CountStatement()
	}
	l := q.Root
	b := applyOrder(l.selectBuilder(), l.order)
	if l.hasTop {
		b = b.Limit(uint64(l.top))
	}
	if l.skip > 0 {
		if !l.hasTop {
			b = b.Limit(math.MaxInt64)
		}
		b = b.Offset(uint64(l.skip))
	}
	return toSQLQuery(b)
}

// CountStatement counts the root entities matching the request, ignoring
// paging.
func (q *Query) CountStatement() (SQLQuery, error) {
	l := q.Root
	b := sq.Select("COUNT(*)").From(l.joins.Root().From())
	b = applyJoins(b, l.joins, true)
	for _, cond := range l.where {
		b = b.Where(cond)
	}
	return toSQLQuery(b)
}

// Statements renders the child statements of l for the given parent keys,
// chunked by the configured IN clause size. Levels with $top or $skip are
// paged per parent with a ROW_NUMBER() window.
func (l *Level) Statements(parents []ParentTuple) ([]SQLQuery, error) {
	var out []SQLQuery
	for _, chunk := range chunkParentTuples(parents, l.maxIn) {
		q, err := l.childStatement(chunk)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}

// CountStatements renders per-parent COUNT(*) statements for $count=true.
func (l *Level) CountStatements(parents []ParentTuple) ([]SQLQuery, error) {
	var out []SQLQuery
	parentCols := qualifiedColumnNames(l.base.Alias, l.remote)
	for _, chunk := range chunkParentTuples(parents, l.maxIn) {
		cond, args, err := buildTupleInCondition(parentCols, chunk)
		if err != nil {
			return nil, err
		}
		columns := make([]string, 0, len(parentCols)+1)
		for i, col := range parentCols {
			columns = append(columns, fmt.Sprintf("%s AS %s", col, quotedColumnNames([]string{ParentAlias(i)})[0]))
		}
		columns = append(columns, "COUNT(*) AS "+quotedColumnNames([]string{CountAlias})[0])
		b := sq.Select(columns...).From(l.joins.Root().From())
		b = applyJoins(b, l.joins, true)
		for _, w := range l.where {
			b = b.Where(w)
		}
		b = b.Where(sq.Expr(cond, args...)).GroupBy(parentCols...)
		q, err := toSQLQuery(b)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}

// Template renders the child statement for a single placeholder parent. It
// shows the statement shape without data.
func (l *Level) Template() (SQLQuery, error) {
	tuple := ParentTuple{Values: make([]interface{}, len(l.remote))}
	return l.childStatement([]ParentTuple{tuple})
}

func (l *Level) childStatement(parents []ParentTuple) (SQLQuery, error) {
	parentCols := qualifiedColumnNames(l.base.Alias, l.remote)
	cond, args, err := buildTupleInCondition(parentCols, parents)
	if err != nil {
		return SQLQuery{}, err
	}
	b := l.selectBuilder().Where(sq.Expr(cond, args...))
	if !l.hasTop && l.skip == 0 {
		return toSQLQuery(applyOrder(b.OrderBy(parentCols...), l.order))
	}
	return buildBatchWindowQuery(b, parentCols, l.order, l.Selection.Aliases(), l.top, l.hasTop, l.skip)
}

// buildBatchWindowQuery wraps inner with the ROW_NUMBER() window pattern so
// each parent gets its own $skip/$top page.
func buildBatchWindowQuery(
	inner sq.SelectBuilder,
	partitionColumns []string,
	order []OrderTerm,
	aliases []string,
	limit int,
	hasLimit bool,
	offset int,
) (SQLQuery, error) {
	if err := validateLimitOffset(limit, offset); err != nil {
		return SQLQuery{}, err
	}
	orderClause, orderArgs := orderSQL(order)
	if orderClause == "" {
		orderClause = strings.Join(partitionColumns, ", ")
	}
	inner = inner.Column(sq.Expr(
		fmt.Sprintf("ROW_NUMBER() OVER (PARTITION BY %s ORDER BY %s) AS __rn", strings.Join(partitionColumns, ", "), orderClause),
		orderArgs...,
	))

	parentAliases := make([]string, len(partitionColumns))
	for i := range partitionColumns {
		parentAliases[i] = ParentAlias(i)
	}
	outer := sq.Select(quotedColumnNames(aliases)...).
		FromSelect(inner, "__batch").
		Where("__rn > ?", offset)
	if hasLimit {
		outer = outer.Where("__rn <= ?", offset+limit)
	}
	outer = outer.OrderBy(append(quotedColumnNames(parentAliases), "__rn")...)
	return toSQLQuery(outer)
}

func (l *Level) selectBuilder() sq.SelectBuilder {
	b := sq.Select(l.Selection.Columns()...).From(l.joins.Root().From())
	b = applyJoins(b, l.joins, false)
	for _, cond := range l.where {
		b = b.Where(cond)
	}
	return b
}

// applyJoins adds the joins of plan in creation order. innerOnly keeps the
// joins that restrict the row set and drops the LEFT joins that only widen
// the projection.
func applyJoins(b sq.SelectBuilder, plan *JoinPlan, innerOnly bool) sq.SelectBuilder {
	for _, src := range plan.Joins() {
		clause := src.From() + " ON " + src.On()
		switch {
		case src.JoinType == querypath.JoinInner:
			b = b.Join(clause)
		case !innerOnly:
			b = b.LeftJoin(clause)
		}
	}
	return b
}

func toSQLQuery(b sq.SelectBuilder) (SQLQuery, error) {
	query, args, err := b.PlaceholderFormat(sq.Question).ToSql()
	if err != nil {
		return SQLQuery{}, err
	}
	return SQLQuery{SQL: query, Args: args}, nil
}

func validateLimitOffset(limit, offset int) error {
	if limit < 0 {
		return fmt.Errorf("limit must be non-negative")
	}
	if offset < 0 {
		return fmt.Errorf("offset must be non-negative")
	}
	return nil
}
