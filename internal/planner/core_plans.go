package planner

import (
	"errors"
	"fmt"
	"strings"

	"tidb-odata/internal/metamodel"
	"tidb-odata/internal/odata"
	"tidb-odata/internal/sqltype"
	"tidb-odata/internal/sqlutil"
	"tidb-odata/internal/uuidutil"

	sq "github.com/Masterminds/squirrel"
)

// ErrUnknownEntitySet is returned when a request names an entity set the
// schema does not expose.
var ErrUnknownEntitySet = errors.New("unknown entity set")

// SQLQuery represents a planned SQL statement with bound args.
type SQLQuery struct {
	SQL  string
	Args []interface{}
}

// ParentTuple represents an ordered composite parent key used in child
// statements.
type ParentTuple struct {
	Values []interface{}
}

// keyPredicate matches a key predicate against the key properties of entity
// and returns the equality condition on alias.
func keyPredicate(entity *metamodel.EntityType, alias string, key []odata.KeyValue) (sq.Sqlizer, error) {
	keys := entity.KeyProperties()
	if len(key) != len(keys) {
		return nil, invalidf("%s has %d key properties, got %d values", entity.EntitySet, len(keys), len(key))
	}
	eq := sq.Eq{}
	if len(key) == 1 && key[0].Name == "" {
		value, err := keyValue(keys[0], key[0].Value)
		if err != nil {
			return nil, err
		}
		eq[qualifiedColumn(alias, keys[0].Column)] = value
		return eq, nil
	}
	for _, kv := range key {
		prop, ok := entity.Property(kv.Name)
		if !ok || !isKey(entity, prop) {
			return nil, invalidf("%s is not a key property of %s", kv.Name, entity.EntitySet)
		}
		col := qualifiedColumn(alias, prop.Column)
		if _, dup := eq[col]; dup {
			return nil, invalidf("key property %s is given twice", kv.Name)
		}
		value, err := keyValue(prop, kv.Value)
		if err != nil {
			return nil, err
		}
		eq[col] = value
	}
	return eq, nil
}

// keyValue canonicalizes Guid keys so text storage compares case-insensitively.
func keyValue(prop *metamodel.Property, value interface{}) (interface{}, error) {
	text, ok := value.(string)
	if !ok || prop.Type != sqltype.EdmGuid {
		return value, nil
	}
	canonical, err := uuidutil.Canonical(text)
	if err != nil {
		return nil, invalidf("%s is not a valid Edm.Guid key", text)
	}
	return canonical, nil
}

func isKey(entity *metamodel.EntityType, prop *metamodel.Property) bool {
	for _, name := range entity.Keys {
		if name == prop.Name {
			return true
		}
	}
	return false
}

// quotedColumnNames returns the backtick-quoted column identifiers with no table prefix.
func quotedColumnNames(columns []string) []string {
	quoted := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = sqlutil.QuoteIdentifier(col)
	}
	return quoted
}

// qualifiedColumnNames returns column identifiers prefixed with a table alias.
func qualifiedColumnNames(alias string, columns []string) []string {
	qualified := make([]string, len(columns))
	for i, col := range columns {
		qualified[i] = qualifiedColumn(alias, col)
	}
	return qualified
}

func buildTupleInCondition(quotedColumns []string, tuples []ParentTuple) (string, []interface{}, error) {
	if len(tuples) == 0 {
		return "", nil, nil
	}
	width := len(quotedColumns)
	if width == 0 {
		return "", nil, fmt.Errorf("tuple IN requires at least one column")
	}

	if width == 1 {
		placeholders := sq.Placeholders(len(tuples))
		args := make([]interface{}, 0, len(tuples))
		for _, tuple := range tuples {
			if len(tuple.Values) != 1 {
				return "", nil, fmt.Errorf("tuple width mismatch: expected 1 value")
			}
			args = append(args, tuple.Values[0])
		}
		return fmt.Sprintf("%s IN (%s)", quotedColumns[0], placeholders), args, nil
	}

	// Row-value IN lists are not portable to SQLite, so composite tuples
	// expand to a disjunction.
	args := make([]interface{}, 0, len(tuples)*width)
	conjuncts := make([]string, width)
	for i, col := range quotedColumns {
		conjuncts[i] = col + " = ?"
	}
	rowCondition := "(" + strings.Join(conjuncts, " AND ") + ")"
	rows := make([]string, 0, len(tuples))
	for _, tuple := range tuples {
		if len(tuple.Values) != width {
			return "", nil, fmt.Errorf("tuple width mismatch: expected %d values", width)
		}
		rows = append(rows, rowCondition)
		args = append(args, tuple.Values...)
	}

	return "(" + strings.Join(rows, " OR ") + ")", args, nil
}
