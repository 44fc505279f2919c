package response

import (
	"bytes"
	"encoding/json"
)

// Member is one name/value pair of an Object.
type Member struct {
	Name  string
	Value interface{}
}

// Object is a JSON object that keeps member order, so annotations precede
// the properties they describe and properties follow declaration order.
type Object []Member

// MarshalJSON renders the members in order.
func (o Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, m := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(m.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		value, err := json.Marshal(m.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Get returns the value of the first member called name.
func (o Object) Get(name string) (interface{}, bool) {
	for _, m := range o {
		if m.Name == name {
			return m.Value, true
		}
	}
	return nil, false
}

// insert appends m below the nested objects named by path, creating them
// when missing.
func (o Object) insert(path []string, m Member) Object {
	if len(path) == 0 {
		return append(o, m)
	}
	for i := range o {
		if o[i].Name != path[0] {
			continue
		}
		if nested, ok := o[i].Value.(Object); ok {
			o[i].Value = nested.insert(path[1:], m)
			return o
		}
	}
	return append(o, Member{Name: path[0], Value: Object{}.insert(path[1:], m)})
}
