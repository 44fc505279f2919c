package planner

import (
	"errors"
	"fmt"
	"strings"

	"tidb-odata/internal/metamodel"
	"tidb-odata/internal/querypath"
	"tidb-odata/internal/sqlutil"

	sq "github.com/Masterminds/squirrel"
)

// ErrNoNavigation is returned by ExistsBuilder when a path stays within its
// owning entity; such conditions belong to the FilterTranslator.
var ErrNoNavigation = errors.New("path does not cross a navigation")

// Scope is the table a condition is evaluated against.
type Scope struct {
	Entity *metamodel.EntityType
	Alias  string
	// Variable is the lambda variable bound to this scope, if any.
	Variable string
}

// Condition builds the innermost predicate of an existential subquery.
type Condition func(scope Scope) (sq.Sqlizer, error)

// ExistsBuilder turns navigation-crossing conditions into correlated
// subqueries. Aliases are unique per builder, so one builder serves a whole
// statement.
type ExistsBuilder struct {
	aliasCounter int
}

// NewExistsBuilder returns a builder with a fresh alias sequence.
func NewExistsBuilder() *ExistsBuilder {
	return &ExistsBuilder{}
}

func (b *ExistsBuilder) nextAlias(table string) string {
	normalized := strings.NewReplacer("`", "", ".", "_").Replace(table)
	b.aliasCounter++
	return fmt.Sprintf("__%s_%d", normalized, b.aliasCounter)
}

// Build nests one EXISTS (SELECT 1 FROM ... WHERE corr AND ...) per
// navigation hop of path, starting at the deepest hop. Complex segments stay
// in the hop they belong to. cond receives the scope of the deepest hop and
// may be nil.
func (b *ExistsBuilder) Build(path querypath.Path, outerAlias string, cond Condition) (sq.Sqlizer, error) {
	return b.build(path, outerAlias, cond, false)
}

// BuildAll is the universal form: no element along path violates cond.
// It renders as NOT EXISTS (... AND NOT (cond)).
func (b *ExistsBuilder) BuildAll(path querypath.Path, outerAlias string, cond Condition) (sq.Sqlizer, error) {
	if cond == nil {
		return nil, fmt.Errorf("all requires a condition")
	}
	return b.build(path, outerAlias, cond, true)
}

func (b *ExistsBuilder) build(path querypath.Path, outerAlias string, cond Condition, universal bool) (sq.Sqlizer, error) {
	steps := path.Navigations()
	if len(steps) == 0 {
		return nil, ErrNoNavigation
	}

	aliases := make([]string, len(steps))
	for i, step := range steps {
		aliases[i] = b.nextAlias(step.Segment.Property.Navigation.Target.Table)
	}

	var inner sq.Sqlizer
	if cond != nil {
		last := len(steps) - 1
		c, err := cond(Scope{Entity: steps[last].Segment.Property.Navigation.Target, Alias: aliases[last]})
		if err != nil {
			return nil, err
		}
		if universal {
			c, err = negate(c)
			if err != nil {
				return nil, err
			}
		}
		inner = c
	}

	for i := len(steps) - 1; i >= 0; i-- {
		step := steps[i]
		nav := step.Segment.Property.Navigation
		parentAlias := outerAlias
		if i > 0 {
			parentAlias = aliases[i-1]
		}
		cols, err := prefixedJoinColumns(step.Key, step.ColumnPrefix, nav.JoinColumns)
		if err != nil {
			return nil, err
		}

		builder := sq.Select("1").From(sqlutil.TableAs(nav.Target.Table, aliases[i]))
		for _, jc := range cols {
			builder = builder.Where(sq.Expr(fmt.Sprintf("%s = %s", qualifiedColumn(aliases[i], jc.Remote), qualifiedColumn(parentAlias, jc.Local))))
		}
		if inner != nil {
			builder = builder.Where(inner)
		}
		subquery, args, err := builder.PlaceholderFormat(sq.Question).ToSql()
		if err != nil {
			return nil, err
		}
		prefix := "EXISTS"
		if universal && i == 0 {
			prefix = "NOT EXISTS"
		}
		inner = sq.Expr(fmt.Sprintf("%s (%s)", prefix, subquery), args...)
	}
	return inner, nil
}

// Count renders a correlated COUNT(*) subquery over the elements reached by
// path from outerAlias. Intermediate hops are inner joined.
func (b *ExistsBuilder) Count(path *querypath.AssociationPath, outerAlias string, cond Condition) (sq.Sqlizer, error) {
	steps := path.Navigations()
	if len(steps) == 0 {
		return nil, ErrNoNavigation
	}
	aliases := make([]string, len(steps))
	for i, step := range steps {
		aliases[i] = b.nextAlias(step.Segment.Property.Navigation.Target.Table)
	}

	builder := sq.Select("COUNT(*)")
	for i, step := range steps {
		nav := step.Segment.Property.Navigation
		cols, err := prefixedJoinColumns(step.Key, step.ColumnPrefix, nav.JoinColumns)
		if err != nil {
			return nil, err
		}
		from := sqlutil.TableAs(nav.Target.Table, aliases[i])
		if i == 0 {
			builder = builder.From(from)
			for _, jc := range cols {
				builder = builder.Where(sq.Expr(fmt.Sprintf("%s = %s", qualifiedColumn(aliases[0], jc.Remote), qualifiedColumn(outerAlias, jc.Local))))
			}
			continue
		}
		on := make([]string, len(cols))
		for j, jc := range cols {
			on[j] = fmt.Sprintf("%s = %s", qualifiedColumn(aliases[i-1], jc.Local), qualifiedColumn(aliases[i], jc.Remote))
		}
		builder = builder.Join(fmt.Sprintf("%s ON %s", from, strings.Join(on, " AND ")))
	}
	if cond != nil {
		last := len(steps) - 1
		c, err := cond(Scope{Entity: path.Target(), Alias: aliases[last]})
		if err != nil {
			return nil, err
		}
		builder = builder.Where(c)
	}
	subquery, args, err := builder.PlaceholderFormat(sq.Question).ToSql()
	if err != nil {
		return nil, err
	}
	return sq.Expr("("+subquery+")", args...), nil
}

func negate(cond sq.Sqlizer) (sq.Sqlizer, error) {
	sql, args, err := cond.ToSql()
	if err != nil {
		return nil, err
	}
	return sq.Expr("NOT ("+sql+")", args...), nil
}
