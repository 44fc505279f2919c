package planner

import (
	"fmt"

	"tidb-odata/internal/metamodel"
	"tidb-odata/internal/odata"
	"tidb-odata/internal/querypath"

	sq "github.com/Masterminds/squirrel"
)

// OrderTerm is one compiled ORDER BY expression.
type OrderTerm struct {
	Expr string
	Args []interface{}
	Desc bool
}

// SQL renders the term with its direction.
func (o OrderTerm) SQL() string {
	if o.Desc {
		return o.Expr + " DESC"
	}
	return o.Expr + " ASC"
}

// BuildOrderBy compiles $orderby items for the entity planned at base.
// Attribute paths are joined through joins; Nav/$count items become a
// correlated COUNT subquery. The key columns are appended so paging is
// deterministic.
func BuildOrderBy(entity *metamodel.EntityType, base string, items []odata.OrderByItem, joins *JoinPlanBuilder, exists *ExistsBuilder) ([]OrderTerm, error) {
	src, ok := joins.Plan().Source(base)
	if !ok {
		return nil, fmt.Errorf("order base %q is not planned", base)
	}

	var terms []OrderTerm
	seen := make(map[string]bool)
	appendTerm := func(term OrderTerm) {
		if seen[term.Expr] {
			return
		}
		seen[term.Expr] = true
		terms = append(terms, term)
	}

	for _, item := range items {
		if item.Count {
			assoc, err := querypath.ResolveAssociation(entity, item.Path)
			if err != nil {
				return nil, err
			}
			sub, err := exists.Count(assoc, src.Alias, nil)
			if err != nil {
				return nil, err
			}
			expr, args, err := sub.ToSql()
			if err != nil {
				return nil, err
			}
			appendTerm(OrderTerm{Expr: expr, Args: args, Desc: item.Desc})
			continue
		}

		attr, err := querypath.ResolveAttribute(entity, item.Path)
		if err != nil {
			return nil, err
		}
		if err := joins.AddOrderBy(base, []*querypath.AttributePath{attr}); err != nil {
			return nil, err
		}
		leafSrc, err := joins.AttributeSource(base, attr)
		if err != nil {
			return nil, err
		}
		column := attr.Column()
		if desc := attr.Property().Description; desc != nil {
			column = desc.Column
		}
		appendTerm(OrderTerm{Expr: leafSrc.Column(column), Desc: item.Desc})
	}

	for _, key := range entity.KeyColumns() {
		appendTerm(OrderTerm{Expr: src.Column(key)})
	}
	return terms, nil
}

func applyOrder(b sq.SelectBuilder, terms []OrderTerm) sq.SelectBuilder {
	for _, term := range terms {
		b = b.OrderByClause(term.SQL(), term.Args...)
	}
	return b
}

func orderSQL(terms []OrderTerm) (string, []interface{}) {
	var sql string
	var args []interface{}
	for i, term := range terms {
		if i > 0 {
			sql += ", "
		}
		sql += term.SQL()
		args = append(args, term.Args...)
	}
	return sql, args
}
