package hydrate

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"tidb-odata/internal/queryerr"
	"tidb-odata/internal/sqltype"
	"tidb-odata/internal/uuidutil"
)

var dateTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// Coerce converts a driver value to the Go representation of edm. alias is
// only used in the error.
func Coerce(alias string, edm sqltype.EdmType, value interface{}) (interface{}, error) {
	if value == nil {
		return nil, nil
	}
	out, ok := coerce(edm, value)
	if !ok {
		return nil, queryerr.TypeMismatch(alias, edm.String(), value)
	}
	return out, nil
}

func coerce(edm sqltype.EdmType, value interface{}) (interface{}, bool) {
	switch edm {
	case sqltype.EdmString:
		return toString(value)
	case sqltype.EdmInt32:
		n, ok := toInt64(value)
		if !ok || n < math.MinInt32 || n > math.MaxInt32 {
			return nil, false
		}
		return n, true
	case sqltype.EdmInt64:
		return toInt64(value)
	case sqltype.EdmDouble:
		return toFloat64(value)
	case sqltype.EdmDecimal:
		return toDecimal(value)
	case sqltype.EdmBoolean:
		return toBool(value)
	case sqltype.EdmDate:
		t, ok := toTime(value)
		if !ok {
			return nil, false
		}
		return t.Format("2006-01-02"), true
	case sqltype.EdmDateTimeOffset:
		t, ok := toTime(value)
		if !ok {
			return nil, false
		}
		return t.UTC(), true
	case sqltype.EdmTimeOfDay:
		if t, ok := value.(time.Time); ok {
			return t.Format("15:04:05"), true
		}
		return toText(value)
	case sqltype.EdmGuid:
		return toGuid(value)
	case sqltype.EdmBinary, sqltype.EdmStream:
		switch v := value.(type) {
		case []byte:
			return append([]byte(nil), v...), true
		case string:
			return []byte(v), true
		}
		return nil, false
	}
	return nil, false
}

func toText(value interface{}) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	}
	return "", false
}

func toString(value interface{}) (interface{}, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case time.Time:
		return v.UTC().Format(time.RFC3339), true
	}
	return nil, false
}

func toInt64(value interface{}) (int64, bool) {
	switch v := value.(type) {
	case int64:
		return v, true
	case int32:
		return int64(v), true
	case int:
		return int64(v), true
	case uint64:
		if v > math.MaxInt64 {
			return 0, false
		}
		return int64(v), true
	case float64:
		// 2^63 is exactly representable; anything at or above it overflows.
		if math.IsNaN(v) || v != math.Trunc(v) || v < math.MinInt64 || v >= 1<<63 {
			return 0, false
		}
		return int64(v), true
	case []byte, string:
		text, _ := toText(v)
		n, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
		return n, err == nil
	}
	return 0, false
}

func toFloat64(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int64:
		return float64(v), true
	case []byte, string:
		text, _ := toText(v)
		f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		return f, err == nil
	}
	return 0, false
}

// toDecimal keeps the database text so no precision is lost.
func toDecimal(value interface{}) (interface{}, bool) {
	switch v := value.(type) {
	case []byte, string:
		text, _ := toText(v)
		text = strings.TrimSpace(text)
		if _, err := strconv.ParseFloat(text, 64); err != nil {
			return nil, false
		}
		return json.Number(text), true
	case int64:
		return json.Number(strconv.FormatInt(v, 10)), true
	case float64:
		return json.Number(strconv.FormatFloat(v, 'f', -1, 64)), true
	}
	return nil, false
}

func toBool(value interface{}) (interface{}, bool) {
	switch v := value.(type) {
	case bool:
		return v, true
	case int64:
		return v != 0, true
	case []byte, string:
		text, _ := toText(v)
		b, err := strconv.ParseBool(strings.TrimSpace(text))
		return b, err == nil
	}
	return nil, false
}

func toTime(value interface{}) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		return v, true
	case []byte, string:
		text, _ := toText(v)
		text = strings.TrimSpace(text)
		for _, layout := range dateTimeLayouts {
			if t, err := time.Parse(layout, text); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func toGuid(value interface{}) (interface{}, bool) {
	normalized, err := uuidutil.Normalize(value)
	return normalized, err == nil
}
