// Package schemafilter applies allow/deny filters to introspected schemas
// before they are turned into entity types.
package schemafilter

import (
	"context"
	"path"
	"slices"
	"strings"

	"tidb-odata/internal/introspection"
	"tidb-odata/internal/naming"
)

// Config controls allow/deny filters for tables and columns.
type Config struct {
	AllowTables  []string            `mapstructure:"allow_tables"`
	DenyTables   []string            `mapstructure:"deny_tables"`
	ScanViews    bool                `mapstructure:"scan_views"`
	AllowColumns map[string][]string `mapstructure:"allow_columns"`
	DenyColumns  map[string][]string `mapstructure:"deny_columns"`
}

// Apply filters tables, columns and foreign keys in place, then rebuilds
// relationships so navigations never point at hidden tables or columns.
// Missing allow lists default to allow-all; deny rules always win.
func Apply(ctx context.Context, schema *introspection.Schema, cfg Config, namer *naming.Namer) {
	if schema == nil {
		return
	}

	allowedTableNames := make(map[string]bool)
	filteredTables := make([]introspection.Table, 0, len(schema.Tables))
	for _, table := range schema.Tables {
		if table.IsView && !cfg.ScanViews {
			continue
		}
		if !tableAllowed(table.Name, cfg.AllowTables, cfg.DenyTables) {
			continue
		}
		filteredTables = append(filteredTables, table)
		allowedTableNames[table.Name] = true
	}

	allowedColumnsByTable := make(map[string]map[string]bool, len(filteredTables))
	finalTables := make([]introspection.Table, 0, len(filteredTables))
	for _, table := range filteredTables {
		allowedColumns := make(map[string]bool)
		columns := make([]introspection.Column, 0, len(table.Columns))
		for _, column := range table.Columns {
			if !columnAllowed(table.Name, column.Name, cfg.AllowColumns, cfg.DenyColumns) {
				continue
			}
			columns = append(columns, column)
			allowedColumns[column.Name] = true
		}
		if len(columns) == 0 {
			delete(allowedTableNames, table.Name)
			continue
		}
		table.Columns = columns
		allowedColumnsByTable[table.Name] = allowedColumns
		finalTables = append(finalTables, table)
	}

	for i := range finalTables {
		table := &finalTables[i]
		table.ForeignKeys = filterForeignKeys(table.ForeignKeys, allowedColumnsByTable[table.Name], allowedTableNames, allowedColumnsByTable)
	}

	schema.Tables = finalTables
	introspection.RebuildRelationships(ctx, schema, namer)
}

func tableAllowed(table string, allow, deny []string) bool {
	if matchesAny(table, deny) {
		return false
	}
	if len(allow) == 0 {
		return true
	}
	return matchesAny(table, allow)
}

func columnAllowed(table, column string, allow, deny map[string][]string) bool {
	if matchesAny(column, mergePatterns(deny, table)) {
		return false
	}
	allowPatterns := mergePatterns(allow, table)
	if len(allowPatterns) == 0 {
		return true
	}
	return matchesAny(column, allowPatterns)
}

// mergePatterns combines the "*" entry with the table-specific patterns.
func mergePatterns(patterns map[string][]string, table string) []string {
	if patterns == nil {
		return nil
	}
	combined := append([]string{}, patterns["*"]...)
	for key, values := range patterns {
		if key == "*" {
			continue
		}
		if ok, err := path.Match(strings.ToLower(key), strings.ToLower(table)); err == nil && ok {
			combined = append(combined, values...)
		}
	}
	slices.Sort(combined)
	return slices.Compact(combined)
}

// filterForeignKeys drops whole constraints when any of their columns, or
// the referenced table, is hidden. A partially visible composite key would
// produce a join on the wrong columns.
func filterForeignKeys(fks []introspection.ForeignKey, allowedColumns map[string]bool, allowedTables map[string]bool, allowedColumnsByTable map[string]map[string]bool) []introspection.ForeignKey {
	dropped := make(map[string]bool)
	for _, fk := range fks {
		remoteColumns := allowedColumnsByTable[fk.ReferencedTable]
		if !allowedColumns[fk.ColumnName] || !allowedTables[fk.ReferencedTable] || !remoteColumns[fk.ReferencedColumn] {
			dropped[constraintKey(fk)] = true
		}
	}

	filtered := make([]introspection.ForeignKey, 0, len(fks))
	for _, fk := range fks {
		if dropped[constraintKey(fk)] {
			continue
		}
		filtered = append(filtered, fk)
	}
	return filtered
}

func constraintKey(fk introspection.ForeignKey) string {
	if fk.ConstraintName != "" {
		return fk.ConstraintName
	}
	return fk.ColumnName + "->" + fk.ReferencedTable
}

func matchesAny(value string, patterns []string) bool {
	value = strings.ToLower(value)
	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		// matching is case-insensitive
		ok, err := path.Match(strings.ToLower(pattern), value)
		if err != nil {
			continue
		}
		if ok {
			return true
		}
	}
	return false
}
