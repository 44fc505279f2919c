package query

import (
	"context"

	"tidb-odata/internal/odata"
	"tidb-odata/internal/planner"
)

// Statement is one planned SQL statement labeled with its level.
type Statement struct {
	// Level is "root", "count" or the expand path of a child level.
	Level string
	SQL   string
	Args  []interface{}
}

// Explain compiles req and lists the statements Execute would run. Child
// levels are rendered for a single placeholder parent since their real
// parent keys depend on data.
func (e *Engine) Explain(ctx context.Context, req *odata.Request) ([]Statement, error) {
	q, err := e.Compile(ctx, req)
	if err != nil {
		return nil, err
	}

	var out []Statement
	if q.Kind == planner.ResultCount {
		stmt, err := q.CountStatement()
		if err != nil {
			return nil, err
		}
		return append(out, Statement{Level: "count", SQL: stmt.SQL, Args: stmt.Args}), nil
	}

	stmt, err := q.Statement()
	if err != nil {
		return nil, err
	}
	out = append(out, Statement{Level: "root", SQL: stmt.SQL, Args: stmt.Args})
	if q.Count {
		stmt, err := q.CountStatement()
		if err != nil {
			return nil, err
		}
		out = append(out, Statement{Level: "count", SQL: stmt.SQL, Args: stmt.Args})
	}
	return explainChildren(out, q.Root)
}

func explainChildren(out []Statement, level *planner.Level) ([]Statement, error) {
	for _, child := range level.Children {
		stmt, err := child.Template()
		if err != nil {
			return nil, err
		}
		out = append(out, Statement{Level: child.Path, SQL: stmt.SQL, Args: stmt.Args})
		if child.Count {
			placeholder := planner.ParentTuple{Values: make([]interface{}, len(child.Links))}
			counts, err := child.CountStatements([]planner.ParentTuple{placeholder})
			if err != nil {
				return nil, err
			}
			for _, c := range counts {
				out = append(out, Statement{Level: child.Path + "/$count", SQL: c.SQL, Args: c.Args})
			}
		}
		out, err = explainChildren(out, child)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
