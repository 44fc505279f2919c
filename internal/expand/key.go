package expand

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Key is the canonical form of a parent correlation key.
type Key string

// RootKey groups the rows of the root level.
const RootKey Key = ""

// KeyOf encodes values as a Key. Drivers return the same column as []byte,
// string or a number depending on the protocol, so values are compared by
// their text form. Each value is written as "<len>:<text>" and NULL as "~",
// which keeps binary values byte-exact.
func KeyOf(values []interface{}) (Key, error) {
	var b strings.Builder
	for _, v := range values {
		if v == nil {
			b.WriteByte('~')
			continue
		}
		text := canonicalValue(v)
		b.WriteString(strconv.Itoa(len(text)))
		b.WriteByte(':')
		b.WriteString(text)
	}
	return Key(b.String()), nil
}

// KeyFor reads aliases from tuple and encodes them as a Key.
func KeyFor(tuple Tuple, aliases []string) (Key, error) {
	values := make([]interface{}, len(aliases))
	for i, alias := range aliases {
		v, ok := tuple[alias]
		if !ok {
			return "", fmt.Errorf("row has no column %q", alias)
		}
		values[i] = v
	}
	return KeyOf(values)
}

// Group buckets rows by the values of aliases. Rows keep their fetch order
// within a bucket.
func Group(rows []Tuple, aliases []string) (map[Key][]Tuple, error) {
	grouped := make(map[Key][]Tuple)
	for _, row := range rows {
		key, err := KeyFor(row, aliases)
		if err != nil {
			return nil, err
		}
		grouped[key] = append(grouped[key], row)
	}
	return grouped, nil
}

func canonicalValue(v interface{}) string {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case string:
		return val
	case int64:
		return strconv.FormatInt(val, 10)
	case int:
		return strconv.Itoa(val)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(val)
	}
}
