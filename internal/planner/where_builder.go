package planner

import (
	"errors"
	"fmt"
	"strings"

	"tidb-odata/internal/metamodel"
	"tidb-odata/internal/odata"
	"tidb-odata/internal/queryerr"
	"tidb-odata/internal/querypath"
	"tidb-odata/internal/sqlutil"

	sq "github.com/Masterminds/squirrel"
)

// ErrInvalidQuery marks request problems found while planning, such as an
// unsupported filter shape. It is a client error.
var ErrInvalidQuery = errors.New("invalid query")

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidQuery, fmt.Sprintf(format, args...))
}

// RootVariable names the outermost instance inside lambda predicates.
const RootVariable = "$it"

var comparisonSQL = map[string]string{
	"eq": "=",
	"ne": "<>",
	"lt": "<",
	"le": "<=",
	"gt": ">",
	"ge": ">=",
}

// FilterTranslator compiles $filter expressions into squirrel conditions.
// Conditions on paths that cross navigations are delegated to ExistsBuilder.
type FilterTranslator struct {
	exists *ExistsBuilder
}

// NewFilterTranslator returns a translator sharing the alias sequence of exists.
func NewFilterTranslator(exists *ExistsBuilder) *FilterTranslator {
	return &FilterTranslator{exists: exists}
}

type filterEnv struct {
	scope Scope
	vars  map[string]Scope
}

func (e *filterEnv) bind(name string, scope Scope) *filterEnv {
	vars := make(map[string]Scope, len(e.vars)+1)
	for k, v := range e.vars {
		vars[k] = v
	}
	scope.Variable = name
	vars[name] = scope
	return &filterEnv{scope: e.scope, vars: vars}
}

// Translate compiles expr for the entity and table alias of scope.
func (t *FilterTranslator) Translate(expr odata.Expr, scope Scope) (sq.Sqlizer, error) {
	if expr == nil {
		return nil, nil
	}
	env := &filterEnv{scope: scope, vars: map[string]Scope{RootVariable: scope}}
	return t.predicate(expr, env)
}

func (t *FilterTranslator) predicate(expr odata.Expr, env *filterEnv) (sq.Sqlizer, error) {
	switch e := expr.(type) {
	case *odata.BinaryExpr:
		switch e.Op {
		case "and", "or":
			left, err := t.predicate(e.Left, env)
			if err != nil {
				return nil, err
			}
			right, err := t.predicate(e.Right, env)
			if err != nil {
				return nil, err
			}
			if e.Op == "and" {
				return sq.And{left, right}, nil
			}
			return sq.Or{left, right}, nil
		}
		if _, ok := comparisonSQL[e.Op]; !ok {
			return nil, invalidf("unsupported operator %s", e.Op)
		}
		return t.atomic(e, env)
	case *odata.NotExpr:
		inner, err := t.predicate(e.Operand, env)
		if err != nil {
			return nil, err
		}
		return negate(inner)
	case *odata.CallExpr:
		if !isBooleanFunction(e.Name) {
			return nil, invalidf("%s does not return a boolean", e.Name)
		}
		return t.atomic(e, env)
	case *odata.LambdaExpr:
		return t.lambda(e, env)
	case *odata.PathExpr:
		if e.Count {
			return nil, invalidf("%s/$count is not a boolean", e.Path)
		}
		return t.atomic(e, env)
	case *odata.Literal:
		b, ok := e.Value.(bool)
		if !ok {
			return nil, invalidf("literal %v is not a boolean", e.Value)
		}
		if b {
			return sq.Expr("1 = 1"), nil
		}
		return sq.Expr("1 = 0"), nil
	default:
		return nil, invalidf("unsupported expression %T", expr)
	}
}

func (t *FilterTranslator) lambda(e *odata.LambdaExpr, env *filterEnv) (sq.Sqlizer, error) {
	scope, rest, err := env.resolveScope(e.Path)
	if err != nil {
		return nil, err
	}
	assoc, err := querypath.ResolveAssociation(scope.Entity, rest)
	if err != nil {
		return nil, err
	}
	if assoc.Multiplicity() != metamodel.ToMany {
		return nil, invalidf("%s/%s requires a collection navigation", e.Path, e.Op)
	}
	var cond Condition
	if e.Predicate != nil {
		cond = func(hop Scope) (sq.Sqlizer, error) {
			return t.predicate(e.Predicate, env.bind(e.Var, hop))
		}
	}
	if e.Op == "all" {
		return t.exists.BuildAll(assoc, scope.Alias, cond)
	}
	return t.exists.Build(assoc, scope.Alias, cond)
}

// pathRef is a $filter path resolved against its scope.
type pathRef struct {
	scope Scope
	attr  *querypath.AttributePath
	count *querypath.AssociationPath
}

// atomic compiles a comparison or boolean function call. Every path in it
// that crosses a navigation must share the same navigation prefix; the
// whole predicate then moves into one EXISTS subquery.
func (t *FilterTranslator) atomic(expr odata.Expr, env *filterEnv) (sq.Sqlizer, error) {
	refs := make(map[*odata.PathExpr]pathRef)
	var order []*odata.PathExpr
	if err := t.collectRefs(expr, env, refs, &order); err != nil {
		return nil, err
	}

	var nav *pathRef
	for _, pe := range order {
		ref := refs[pe]
		if ref.attr == nil || len(ref.attr.Navigations()) == 0 {
			continue
		}
		if nav == nil {
			r := ref
			nav = &r
			continue
		}
		if ref.scope.Alias != nav.scope.Alias || ref.attr.LastNavigationKey() != nav.attr.LastNavigationKey() {
			return nil, invalidf("a single comparison cannot span navigations %s and %s",
				nav.attr.LastNavigationKey(), ref.attr.LastNavigationKey())
		}
	}

	if nav == nil {
		return t.render(expr, refs, nil)
	}
	return t.exists.Build(nav.attr, nav.scope.Alias, func(hop Scope) (sq.Sqlizer, error) {
		return t.render(expr, refs, &hop)
	})
}

func (t *FilterTranslator) collectRefs(expr odata.Expr, env *filterEnv, refs map[*odata.PathExpr]pathRef, order *[]*odata.PathExpr) error {
	switch e := expr.(type) {
	case *odata.PathExpr:
		scope, rest, err := env.resolveScope(e.Path)
		if err != nil {
			return err
		}
		ref := pathRef{scope: scope}
		if e.Count {
			assoc, err := querypath.ResolveAssociation(scope.Entity, rest)
			if err != nil {
				return err
			}
			ref.count = assoc
		} else {
			attr, err := querypath.ResolveAttribute(scope.Entity, rest)
			if err != nil {
				return err
			}
			for _, seg := range attr.Segments() {
				if seg.Property.Ignore {
					return queryerr.UnknownSegment(attr.Alias(), seg.Name, seg.Scope.TypeName())
				}
			}
			if attr.IsComplex() {
				return invalidf("complex property %s cannot be compared", attr.Alias())
			}
			if attr.Property().IsStream() {
				return invalidf("stream property %s cannot be compared", attr.Alias())
			}
			ref.attr = attr
		}
		refs[e] = ref
		*order = append(*order, e)
	case *odata.BinaryExpr:
		if err := t.collectRefs(e.Left, env, refs, order); err != nil {
			return err
		}
		return t.collectRefs(e.Right, env, refs, order)
	case *odata.CallExpr:
		for _, arg := range e.Args {
			if err := t.collectRefs(arg, env, refs, order); err != nil {
				return err
			}
		}
	case *odata.Literal:
	default:
		return invalidf("unsupported operand %T", expr)
	}
	return nil
}

func (t *FilterTranslator) render(expr odata.Expr, refs map[*odata.PathExpr]pathRef, hop *Scope) (sq.Sqlizer, error) {
	switch e := expr.(type) {
	case *odata.BinaryExpr:
		left, right := e.Left, e.Right
		if isNullLiteral(left) && !isNullLiteral(right) {
			left, right = right, left
		}
		if isNullLiteral(right) {
			lhs, args, err := t.operand(left, refs, hop)
			if err != nil {
				return nil, err
			}
			switch e.Op {
			case "eq":
				return sq.Expr(lhs+" IS NULL", args...), nil
			case "ne":
				return sq.Expr(lhs+" IS NOT NULL", args...), nil
			default:
				return nil, invalidf("null can only be compared with eq or ne")
			}
		}
		lhs, largs, err := t.operand(left, refs, hop)
		if err != nil {
			return nil, err
		}
		rhs, rargs, err := t.operand(right, refs, hop)
		if err != nil {
			return nil, err
		}
		return sq.Expr(fmt.Sprintf("%s %s %s", lhs, comparisonSQL[e.Op], rhs), append(largs, rargs...)...), nil
	case *odata.CallExpr:
		subject, args, err := t.operand(e.Args[0], refs, hop)
		if err != nil {
			return nil, err
		}
		lit, ok := e.Args[1].(*odata.Literal)
		if !ok {
			return nil, invalidf("%s requires a string literal as second argument", e.Name)
		}
		needle, ok := lit.Value.(string)
		if !ok {
			return nil, invalidf("%s requires a string literal as second argument", e.Name)
		}
		pattern := sqlutil.EscapeLike(needle)
		switch e.Name {
		case "contains":
			pattern = "%" + pattern + "%"
		case "startswith":
			pattern += "%"
		case "endswith":
			pattern = "%" + pattern
		}
		return sq.Expr(fmt.Sprintf("%s LIKE ? ESCAPE '%s'", subject, sqlutil.LikeEscape), append(args, pattern)...), nil
	case *odata.PathExpr:
		col, args, err := t.operand(e, refs, hop)
		if err != nil {
			return nil, err
		}
		return sq.Expr(col+" = ?", append(args, true)...), nil
	default:
		return nil, invalidf("unsupported predicate %T", expr)
	}
}

func (t *FilterTranslator) operand(expr odata.Expr, refs map[*odata.PathExpr]pathRef, hop *Scope) (string, []interface{}, error) {
	switch e := expr.(type) {
	case *odata.Literal:
		if e.Value == nil {
			return "NULL", nil, nil
		}
		return "?", []interface{}{e.Value}, nil
	case *odata.PathExpr:
		ref, ok := refs[e]
		if !ok {
			return "", nil, invalidf("unresolved path %s", e.Path)
		}
		if ref.count != nil {
			sub, err := t.exists.Count(ref.count, ref.scope.Alias, nil)
			if err != nil {
				return "", nil, err
			}
			return sub.ToSql()
		}
		alias := ref.scope.Alias
		if len(ref.attr.Navigations()) > 0 {
			if hop == nil {
				return "", nil, invalidf("path %s needs a navigation scope", e.Path)
			}
			alias = hop.Alias
		}
		return t.column(alias, ref.attr)
	case *odata.CallExpr:
		if len(e.Args) != 1 {
			return "", nil, invalidf("%s cannot be used as a value", e.Name)
		}
		inner, args, err := t.operand(e.Args[0], refs, hop)
		if err != nil {
			return "", nil, err
		}
		switch e.Name {
		case "tolower":
			return "LOWER(" + inner + ")", args, nil
		case "toupper":
			return "UPPER(" + inner + ")", args, nil
		case "length":
			return "LENGTH(" + inner + ")", args, nil
		}
		return "", nil, invalidf("%s cannot be used as a value", e.Name)
	default:
		return "", nil, invalidf("unsupported operand %T", expr)
	}
}

// column renders the value of a scalar leaf read from alias. Description
// leaves become a correlated scalar subquery on their text table.
func (t *FilterTranslator) column(alias string, attr *querypath.AttributePath) (string, []interface{}, error) {
	return leafColumnSQL(t.exists, alias, attr)
}

func leafColumnSQL(exists *ExistsBuilder, alias string, attr *querypath.AttributePath) (string, []interface{}, error) {
	prop := attr.Property()
	if prop.Description == nil {
		return qualifiedColumn(alias, attr.Column()), nil, nil
	}
	desc := prop.Description
	cols, err := prefixedJoinColumns(attr.Alias(), attr.ColumnPrefix(), desc.JoinColumns)
	if err != nil {
		return "", nil, err
	}
	descAlias := exists.nextAlias(desc.Table)
	conds := make([]string, len(cols))
	for i, jc := range cols {
		conds[i] = fmt.Sprintf("%s = %s", qualifiedColumn(descAlias, jc.Remote), qualifiedColumn(alias, jc.Local))
	}
	return fmt.Sprintf("(SELECT %s FROM %s AS %s WHERE %s)",
		qualifiedColumn(descAlias, desc.Column),
		sqlutil.QuoteIdentifier(desc.Table),
		sqlutil.QuoteIdentifier(descAlias),
		strings.Join(conds, " AND "),
	), nil, nil
}

// resolveScope splits a lambda variable prefix off path.
func (e *filterEnv) resolveScope(path string) (Scope, string, error) {
	head, rest, found := strings.Cut(path, querypath.Separator)
	if scope, ok := e.vars[head]; ok {
		if !found || rest == "" {
			return Scope{}, "", invalidf("%s must be followed by a property", head)
		}
		return scope, rest, nil
	}
	if strings.HasPrefix(head, "$") {
		return Scope{}, "", invalidf("unknown variable %s", head)
	}
	return e.scope, path, nil
}

// SearchCondition matches term case-insensitively against every searchable
// leaf of entity.
func SearchCondition(exists *ExistsBuilder, entity *metamodel.EntityType, alias, term string) (sq.Sqlizer, error) {
	var leaves []*querypath.AttributePath
	for _, prop := range entity.Properties {
		if prop.Ignore || prop.Kind == metamodel.KindNavigation {
			continue
		}
		path, err := querypath.ResolveAttribute(entity, prop.Name)
		if err != nil {
			return nil, err
		}
		for _, leaf := range expandLeaves(path) {
			if leaf.Property().Searchable {
				leaves = append(leaves, leaf)
			}
		}
	}
	if len(leaves) == 0 {
		return nil, invalidf("%s has no searchable properties", entity.EntitySet)
	}
	pattern := "%" + sqlutil.EscapeLike(strings.ToLower(term)) + "%"
	or := make(sq.Or, 0, len(leaves))
	for _, leaf := range leaves {
		col, args, err := leafColumnSQL(exists, alias, leaf)
		if err != nil {
			return nil, err
		}
		or = append(or, sq.Expr(fmt.Sprintf("LOWER(%s) LIKE ? ESCAPE '%s'", col, sqlutil.LikeEscape), append(args, pattern)...))
	}
	return or, nil
}

func isBooleanFunction(name string) bool {
	switch name {
	case "contains", "startswith", "endswith":
		return true
	}
	return false
}

func isNullLiteral(expr odata.Expr) bool {
	lit, ok := expr.(*odata.Literal)
	return ok && lit.Value == nil
}
