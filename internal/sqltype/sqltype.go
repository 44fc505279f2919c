// Package sqltype provides a shared mapping from SQL data types to OData
// primitive (Edm) types. The schema loader and the hydrator both rely on it
// so a column is typed the same way when described and when read back.
package sqltype

import (
	"fmt"
	"strings"
)

// EdmType is an OData primitive type.
type EdmType int

const (
	// EdmString is the default type for text and unknown SQL types.
	EdmString EdmType = iota
	EdmInt32
	EdmInt64
	EdmDecimal
	EdmDouble
	EdmBoolean
	EdmDate
	EdmDateTimeOffset
	EdmTimeOfDay
	EdmGuid
	EdmBinary
	// EdmStream marks a media property whose payload is served through $value.
	EdmStream
)

var edmNames = map[EdmType]string{
	EdmString:         "Edm.String",
	EdmInt32:          "Edm.Int32",
	EdmInt64:          "Edm.Int64",
	EdmDecimal:        "Edm.Decimal",
	EdmDouble:         "Edm.Double",
	EdmBoolean:        "Edm.Boolean",
	EdmDate:           "Edm.Date",
	EdmDateTimeOffset: "Edm.DateTimeOffset",
	EdmTimeOfDay:      "Edm.TimeOfDay",
	EdmGuid:           "Edm.Guid",
	EdmBinary:         "Edm.Binary",
	EdmStream:         "Edm.Stream",
}

// String returns the qualified Edm type name.
func (t EdmType) String() string {
	if name, ok := edmNames[t]; ok {
		return name
	}
	return "Edm.String"
}

// IsNumeric reports whether literals of this type are written unquoted.
func (t EdmType) IsNumeric() bool {
	switch t {
	case EdmInt32, EdmInt64, EdmDecimal, EdmDouble:
		return true
	default:
		return false
	}
}

// IsBinary reports whether values are raw bytes.
func (t EdmType) IsBinary() bool {
	return t == EdmBinary || t == EdmStream
}

// ParseEdmType parses a type name as written in a schema descriptor. Both the
// qualified ("Edm.Int32") and short ("Int32") forms are accepted; the empty
// string defaults to Edm.String.
func ParseEdmType(name string) (EdmType, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return EdmString, nil
	}
	if !strings.Contains(trimmed, ".") {
		trimmed = "Edm." + trimmed
	}
	for t, n := range edmNames {
		if strings.EqualFold(n, trimmed) {
			return t, nil
		}
	}
	return EdmString, fmt.Errorf("unsupported edm type %q", name)
}

// MapToEdm converts a SQL data type string to its Edm type.
// The input is case-insensitive. Size specifiers like (10,2) or (255) are stripped before matching.
// This handles both INFORMATION_SCHEMA.COLUMNS.DATA_TYPE (base type only) and COLUMN_TYPE (full type with size).
func MapToEdm(sqlType string) EdmType {
	unsigned := strings.Contains(strings.ToLower(sqlType), "unsigned")
	if idx := strings.Index(sqlType, "("); idx != -1 {
		sqlType = sqlType[:idx]
	}
	fields := strings.Fields(sqlType)
	if len(fields) == 0 {
		return EdmString
	}
	switch strings.ToUpper(fields[0]) {
	case "TINYINT", "SMALLINT", "MEDIUMINT", "YEAR":
		return EdmInt32
	case "INT", "INTEGER":
		if unsigned {
			return EdmInt64
		}
		return EdmInt32
	case "BIGINT", "SERIAL":
		return EdmInt64
	case "BIT", "BOOL", "BOOLEAN":
		return EdmBoolean
	case "FLOAT", "DOUBLE", "REAL":
		return EdmDouble
	case "DECIMAL", "NUMERIC":
		return EdmDecimal
	case "DATE":
		return EdmDate
	case "DATETIME", "TIMESTAMP":
		return EdmDateTimeOffset
	case "TIME":
		return EdmTimeOfDay
	case "BLOB", "TINYBLOB", "MEDIUMBLOB", "LONGBLOB", "BINARY", "VARBINARY":
		return EdmBinary
	default:
		return EdmString
	}
}
