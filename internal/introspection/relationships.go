package introspection

import (
	"context"
	"log/slog"

	"tidb-odata/internal/naming"
)

// buildRelationships creates bidirectional relationship metadata from foreign keys.
// Composite keys are kept as positional column lists.
func buildRelationships(ctx context.Context, schema *Schema, namer *naming.Namer) {
	_, span := startSpan(ctx, "introspection.build_relationships")
	defer span.End()

	if namer == nil {
		namer = naming.Default()
	}

	// When several constraints from one table point at the same target, the
	// one-to-many side is named after the FK column to keep names distinct.
	fkCount := make(map[string]map[string]int)
	for _, table := range schema.Tables {
		if table.IsView {
			continue
		}
		for _, fk := range ForeignKeyConstraints(table) {
			if fkCount[table.Name] == nil {
				fkCount[table.Name] = make(map[string]int)
			}
			fkCount[table.Name][fk.ReferencedTable]++
		}
	}

	for i := range schema.Tables {
		table := &schema.Tables[i]
		if table.IsView {
			continue
		}
		for _, fk := range ForeignKeyConstraints(*table) {
			if len(fk.ColumnNames) == 0 || len(fk.ColumnNames) != len(fk.ReferencedColumns) {
				slog.Default().Warn("skipping foreign key with inconsistent column mapping",
					slog.String("table", table.Name),
					slog.String("constraint", fk.ConstraintName),
				)
				continue
			}
			table.Relationships = append(table.Relationships, Relationship{
				IsManyToOne:    true,
				LocalColumns:   append([]string(nil), fk.ColumnNames...),
				RemoteTable:    fk.ReferencedTable,
				RemoteColumns:  append([]string(nil), fk.ReferencedColumns...),
				NavigationName: namer.ManyToOneNavigationName(fk.ColumnNames[0]),
				ConstraintName: fk.ConstraintName,
			})
		}
	}

	for i := range schema.Tables {
		table := &schema.Tables[i]
		if table.IsView {
			continue
		}
		for j := range schema.Tables {
			other := &schema.Tables[j]
			if other.IsView {
				continue
			}
			for _, fk := range ForeignKeyConstraints(*other) {
				if fk.ReferencedTable != table.Name {
					continue
				}
				if len(fk.ColumnNames) == 0 || len(fk.ColumnNames) != len(fk.ReferencedColumns) {
					continue
				}
				isOnlyFK := fkCount[other.Name][table.Name] == 1
				table.Relationships = append(table.Relationships, Relationship{
					IsOneToMany:    true,
					LocalColumns:   append([]string(nil), fk.ReferencedColumns...),
					RemoteTable:    other.Name,
					RemoteColumns:  append([]string(nil), fk.ColumnNames...),
					NavigationName: namer.OneToManyNavigationName(other.Name, fk.ColumnNames[0], isOnlyFK),
					ConstraintName: fk.ConstraintName,
				})
			}
		}
	}
}
