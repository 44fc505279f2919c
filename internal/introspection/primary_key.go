package introspection

// PrimaryKeyColumns returns the key columns of a table in constraint order.
// Tables assembled by hand without PrimaryKey fall back to the columns
// flagged IsPrimaryKey, in column order.
func PrimaryKeyColumns(table Table) []Column {
	if len(table.PrimaryKey) == 0 {
		var cols []Column
		for _, col := range table.Columns {
			if col.IsPrimaryKey {
				cols = append(cols, col)
			}
		}
		return cols
	}
	cols := make([]Column, 0, len(table.PrimaryKey))
	for _, name := range table.PrimaryKey {
		if col, ok := table.Column(name); ok {
			cols = append(cols, col)
		}
	}
	return cols
}
