package hydrate

import (
	"fmt"
	"strconv"
	"strings"

	"tidb-odata/internal/metamodel"
	"tidb-odata/internal/sqltype"
)

// IDBuilder formats canonical entity ids such as Organizations('1') and
// AdministrativeDivisions(CodePublisher='Eurostat',CodeID='NUTS1',DivisionCode='DE-BW').
type IDBuilder struct{}

// Build renders the id of an entity from its coerced key values.
func (IDBuilder) Build(entity *metamodel.EntityType, keys []interface{}) (string, error) {
	props := entity.KeyProperties()
	if len(props) != len(keys) {
		return "", fmt.Errorf("%s: expected %d key values, got %d", entity.EntitySet, len(props), len(keys))
	}
	if len(props) == 1 {
		lit, err := keyLiteral(props[0], keys[0])
		if err != nil {
			return "", err
		}
		return entity.EntitySet + "(" + lit + ")", nil
	}
	parts := make([]string, len(props))
	for i, prop := range props {
		lit, err := keyLiteral(prop, keys[i])
		if err != nil {
			return "", err
		}
		parts[i] = prop.Name + "=" + lit
	}
	return entity.EntitySet + "(" + strings.Join(parts, ",") + ")", nil
}

func keyLiteral(prop *metamodel.Property, value interface{}) (string, error) {
	if value == nil {
		return "", fmt.Errorf("key property %s is null", prop.Name)
	}
	switch prop.Type {
	case sqltype.EdmInt32, sqltype.EdmInt64, sqltype.EdmDecimal, sqltype.EdmDouble, sqltype.EdmBoolean, sqltype.EdmGuid:
		return fmt.Sprint(value), nil
	}
	var text string
	switch v := value.(type) {
	case string:
		text = v
	case []byte:
		text = string(v)
	default:
		text = fmt.Sprint(v)
	}
	return "'" + strings.ReplaceAll(text, "'", "''") + "'", nil
}

// ETag renders a weak entity tag from a version value.
func ETag(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case int64:
		return `W/"` + strconv.FormatInt(v, 10) + `"`
	case []byte:
		return `W/"` + string(v) + `"`
	default:
		return fmt.Sprintf(`W/"%v"`, v)
	}
}
