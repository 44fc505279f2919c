package introspection

import (
	"fmt"
	"path"
	"slices"
	"sort"
	"strconv"
	"strings"

	"tidb-odata/internal/sqltype"
	"tidb-odata/internal/uuidutil"
)

// EffectiveEdmType returns the final Edm type for a column, including
// explicit overrides resolved from type mappings.
func EffectiveEdmType(col Column) sqltype.EdmType {
	if col.HasOverrideType {
		return col.OverrideType
	}
	if col.ColumnType != "" {
		return sqltype.MapToEdm(col.ColumnType)
	}
	return sqltype.MapToEdm(col.DataType)
}

// ApplyUUIDTypeOverrides marks columns as Edm.Guid based on SQL table/column glob patterns.
// Patterns are matched case-insensitively against SQL names.
func ApplyUUIDTypeOverrides(schema *Schema, patterns map[string][]string) error {
	if schema == nil || len(patterns) == 0 {
		return nil
	}
	for ti := range schema.Tables {
		table := &schema.Tables[ti]
		columnPatterns := mergePatterns(patterns, table.Name)
		if len(columnPatterns) == 0 {
			continue
		}
		for ci := range table.Columns {
			col := &table.Columns[ci]
			if !matchesAny(col.Name, columnPatterns) {
				continue
			}
			if err := validateUUIDOverrideColumn(*col); err != nil {
				return fmt.Errorf("invalid UUID mapping for %s.%s: %w", table.Name, col.Name, err)
			}
			col.OverrideType = sqltype.EdmGuid
			col.HasOverrideType = true
		}
	}
	return nil
}

func mergePatterns(patterns map[string][]string, table string) []string {
	tableLower := strings.ToLower(table)
	keys := make([]string, 0, len(patterns))
	for key := range patterns {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var combined []string
	for _, key := range keys {
		pattern := strings.ToLower(strings.TrimSpace(key))
		if pattern == "" {
			continue
		}
		if matched, err := path.Match(pattern, tableLower); err == nil && matched {
			combined = append(combined, patterns[key]...)
		}
	}
	return slices.Compact(combined)
}

func matchesAny(value string, patterns []string) bool {
	value = strings.ToLower(value)
	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		if ok, err := path.Match(strings.ToLower(pattern), value); err == nil && ok {
			return true
		}
	}
	return false
}

func validateUUIDOverrideColumn(col Column) error {
	length, hasLength := sqlTypeLength(col)
	if uuidutil.BinaryStorage(col.DataType) {
		if !hasLength || length != 16 {
			return fmt.Errorf("%s requires length 16 for UUID binary storage", strings.ToUpper(col.DataType))
		}
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(col.DataType)) {
	case "char", "varchar":
		if !hasLength || length < 36 {
			return fmt.Errorf("%s requires length >= 36 for UUID text storage", strings.ToUpper(col.DataType))
		}
		return nil
	default:
		return fmt.Errorf("unsupported SQL type %q for UUID mapping", col.DataType)
	}
}

func sqlTypeLength(col Column) (int, bool) {
	decl := strings.TrimSpace(col.ColumnType)
	start := strings.Index(decl, "(")
	end := strings.Index(decl, ")")
	if start == -1 || end <= start+1 {
		return 0, false
	}
	inner := decl[start+1 : end]
	if idx := strings.Index(inner, ","); idx != -1 {
		inner = inner[:idx]
	}
	length, err := strconv.Atoi(strings.TrimSpace(inner))
	if err != nil {
		return 0, false
	}
	return length, true
}
