// Package uuidutil converts between the storage forms of Edm.Guid columns
// and the canonical text the service writes in payloads and entity ids.
package uuidutil

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidGuid is returned for values that are not a UUID in any accepted form.
var ErrInvalidGuid = errors.New("invalid Edm.Guid value")

// Canonical returns the lower-case hyphenated form of a UUID given as text.
// Surrounding whitespace and braces are tolerated.
func Canonical(text string) (string, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(text))
	if err != nil {
		return "", ErrInvalidGuid
	}
	return parsed.String(), nil
}

// Normalize accepts a scanned column value and returns its canonical text.
// Sixteen-byte slices are read as BINARY(16) storage in RFC byte order; any
// other byte slice is treated as text.
func Normalize(value interface{}) (string, error) {
	switch v := value.(type) {
	case string:
		return Canonical(v)
	case []byte:
		if len(v) == 16 {
			parsed, err := uuid.FromBytes(v)
			if err != nil {
				return "", ErrInvalidGuid
			}
			return parsed.String(), nil
		}
		return Canonical(string(v))
	case uuid.UUID:
		return v.String(), nil
	}
	return "", ErrInvalidGuid
}

// BinaryStorage reports whether a SQL type holds Guid values as raw bytes.
func BinaryStorage(dataType string) bool {
	switch strings.ToLower(strings.TrimSpace(dataType)) {
	case "binary", "varbinary":
		return true
	}
	return false
}
