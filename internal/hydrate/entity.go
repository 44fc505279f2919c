package hydrate

import (
	"strings"

	"tidb-odata/internal/metamodel"
	"tidb-odata/internal/sqltype"
)

// Field is one hydrated property. Value is a coerced scalar, a *Complex, or
// nil for SQL NULL.
type Field struct {
	Name  string
	Type  sqltype.EdmType
	Value interface{}
}

// Complex is the hydrated value of a complex property.
type Complex struct {
	Fields []Field
}

// Field looks up a direct member by name.
func (c *Complex) Field(name string) (Field, bool) {
	for _, f := range c.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Media describes a stream property of an entity.
type Media struct {
	ContentType string
	Data        []byte
}

// Link is an expanded navigation. Exactly one of Entities (to-many) and
// Entity (to-one) is meaningful, as given by Many.
type Link struct {
	// Name is the navigation path relative to the owning entity. Navigations
	// declared inside a complex type keep the complex prefix.
	Name     string
	Many     bool
	Entities []*Entity
	Entity   *Entity
	// Count is set when $count was requested for the expand.
	Count *int64
}

// Entity is one hydrated instance.
type Entity struct {
	Type   *metamodel.EntityType
	ID     string
	ETag   string
	Fields []Field
	// Media holds stream properties by alias.
	Media map[string]Media
	Links []Link
}

// Value walks a '/'-separated alias through complex fields.
func (e *Entity) Value(alias string) (interface{}, bool) {
	fields := e.Fields
	parts := strings.Split(alias, "/")
	for i, part := range parts {
		var found *Field
		for j := range fields {
			if fields[j].Name == part {
				found = &fields[j]
				break
			}
		}
		if found == nil {
			return nil, false
		}
		if i == len(parts)-1 {
			return found.Value, true
		}
		c, ok := found.Value.(*Complex)
		if !ok {
			return nil, false
		}
		fields = c.Fields
	}
	return nil, false
}

// Link returns the expanded navigation with the given name.
func (e *Entity) Link(name string) (Link, bool) {
	for _, l := range e.Links {
		if l.Name == name {
			return l, true
		}
	}
	return Link{}, false
}
