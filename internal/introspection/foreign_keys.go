package introspection

import (
	"fmt"
	"sort"
)

// ForeignKeyConstraint groups per-column KEY_COLUMN_USAGE rows into an ordered FK constraint mapping.
type ForeignKeyConstraint struct {
	ConstraintName    string
	ReferencedTable   string
	ColumnNames       []string
	ReferencedColumns []string
}

// ForeignKeyConstraints returns FK constraints for a table ordered by
// constraint name, with columns in ordinal position order.
func ForeignKeyConstraints(table Table) []ForeignKeyConstraint {
	if len(table.ForeignKeys) == 0 {
		return nil
	}

	grouped := make(map[string]*ForeignKeyConstraint)
	members := make(map[string][]ForeignKey)
	for i, fk := range table.ForeignKeys {
		key := fk.ConstraintName
		if key == "" {
			// Unnamed rows never merge with each other.
			key = fmt.Sprintf("__unnamed_%d", i)
		}
		if _, ok := grouped[key]; !ok {
			grouped[key] = &ForeignKeyConstraint{
				ConstraintName:  fk.ConstraintName,
				ReferencedTable: fk.ReferencedTable,
			}
		}
		members[key] = append(members[key], fk)
	}

	keys := make([]string, 0, len(grouped))
	for key := range grouped {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	result := make([]ForeignKeyConstraint, 0, len(keys))
	for _, key := range keys {
		cols := members[key]
		sort.SliceStable(cols, func(i, j int) bool {
			return cols[i].OrdinalPosition < cols[j].OrdinalPosition
		})
		group := grouped[key]
		for _, fk := range cols {
			group.ColumnNames = append(group.ColumnNames, fk.ColumnName)
			group.ReferencedColumns = append(group.ReferencedColumns, fk.ReferencedColumn)
		}
		result = append(result, *group)
	}
	return result
}
