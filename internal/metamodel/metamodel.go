// Package metamodel holds the immutable schema descriptor the query compiler
// works against: entity types, complex (embedded) types, navigations and
// media configuration. A Schema is built once at startup, either from a YAML
// descriptor or from database introspection, and is read-only afterwards.
package metamodel

import (
	"sort"

	"tidb-odata/internal/sqltype"
)

// Multiplicity is the declared cardinality of a navigation.
type Multiplicity int

const (
	ToOne Multiplicity = iota
	ToMany
)

func (m Multiplicity) String() string {
	if m == ToMany {
		return "many"
	}
	return "one"
}

// PropertyKind tags how a property is stored.
type PropertyKind int

const (
	// KindScalar is a single column (or a description leaf read through a join).
	KindScalar PropertyKind = iota
	// KindComplex is an embedded structure whose leaves live in the owner's table.
	KindComplex
	// KindNavigation points at another entity type.
	KindNavigation
)

func (k PropertyKind) String() string {
	switch k {
	case KindComplex:
		return "complex"
	case KindNavigation:
		return "navigation"
	default:
		return "scalar"
	}
}

// JoinColumn pairs a column on the owning table with a column on the joined table.
type JoinColumn struct {
	Local  string
	Remote string
}

// Navigation describes an association to another entity type. JoinColumns
// are positional: the order defines the parent correlation key.
type Navigation struct {
	Target       *EntityType
	Multiplicity Multiplicity
	JoinColumns  []JoinColumn
}

// LocalColumns returns the owning-side join columns in declared order.
func (n *Navigation) LocalColumns() []string {
	cols := make([]string, len(n.JoinColumns))
	for i, jc := range n.JoinColumns {
		cols[i] = jc.Local
	}
	return cols
}

// RemoteColumns returns the target-side join columns in declared order.
func (n *Navigation) RemoteColumns() []string {
	cols := make([]string, len(n.JoinColumns))
	for i, jc := range n.JoinColumns {
		cols[i] = jc.Remote
	}
	return cols
}

// Media configures a stream property. Exactly one of ContentType or
// ContentTypeProperty is set.
type Media struct {
	ContentType         string
	ContentTypeProperty string
}

// Description is a scalar whose value comes from a text table joined on
// JoinColumns rather than from the owner's own table.
type Description struct {
	Table       string
	Column      string
	JoinColumns []JoinColumn
}

// Property is one member of an entity or complex type.
type Property struct {
	Name   string
	Kind   PropertyKind
	Column string
	Type   sqltype.EdmType

	Nullable   bool
	Ignore     bool
	Searchable bool
	Version    bool

	// ColumnPrefix is prepended to the columns of an embedded complex type.
	ColumnPrefix string

	Complex     *ComplexType
	Navigation  *Navigation
	Media       *Media
	Description *Description
}

// IsStream reports whether the property carries a media payload.
func (p *Property) IsStream() bool {
	return p.Media != nil
}

// StructuredType is the scope a path segment is resolved in.
type StructuredType interface {
	TypeName() string
	Property(name string) (*Property, bool)
	AllProperties() []*Property
}

// ComplexType is an embedded structure.
type ComplexType struct {
	Name       string
	Properties []*Property
	byName     map[string]*Property
}

func (c *ComplexType) TypeName() string { return c.Name }

func (c *ComplexType) Property(name string) (*Property, bool) {
	p, ok := c.byName[name]
	return p, ok
}

func (c *ComplexType) AllProperties() []*Property { return c.Properties }

// EntityType is an addressable type backed by one table.
type EntityType struct {
	Name       string
	EntitySet  string
	Table      string
	Keys       []string
	Properties []*Property

	byName   map[string]*Property
	keyProps []*Property
}

func (e *EntityType) TypeName() string { return e.Name }

func (e *EntityType) Property(name string) (*Property, bool) {
	p, ok := e.byName[name]
	return p, ok
}

func (e *EntityType) AllProperties() []*Property { return e.Properties }

// KeyProperties returns the key properties in declared key order.
func (e *EntityType) KeyProperties() []*Property {
	return e.keyProps
}

// KeyColumns returns the storage columns of the key properties.
func (e *EntityType) KeyColumns() []string {
	cols := make([]string, len(e.keyProps))
	for i, p := range e.keyProps {
		cols[i] = p.Column
	}
	return cols
}

// VersionProperty returns the optimistic-locking property, if any.
func (e *EntityType) VersionProperty() (*Property, bool) {
	for _, p := range e.Properties {
		if p.Version {
			return p, true
		}
	}
	return nil, false
}

// Schema is the immutable set of types exposed by the service.
type Schema struct {
	Namespace    string
	EntityTypes  []*EntityType
	ComplexTypes []*ComplexType

	entityByName  map[string]*EntityType
	entityBySet   map[string]*EntityType
	complexByName map[string]*ComplexType
}

// EntityType looks up an entity type by name.
func (s *Schema) EntityType(name string) (*EntityType, bool) {
	e, ok := s.entityByName[name]
	return e, ok
}

// EntitySet looks up an entity type by its entity set name.
func (s *Schema) EntitySet(name string) (*EntityType, bool) {
	e, ok := s.entityBySet[name]
	return e, ok
}

// ComplexType looks up a complex type by name.
func (s *Schema) ComplexType(name string) (*ComplexType, bool) {
	c, ok := s.complexByName[name]
	return c, ok
}

// EntitySetNames returns all entity set names sorted alphabetically.
func (s *Schema) EntitySetNames() []string {
	names := make([]string, 0, len(s.entityBySet))
	for name := range s.entityBySet {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Schema) index() {
	s.entityByName = make(map[string]*EntityType, len(s.EntityTypes))
	s.entityBySet = make(map[string]*EntityType, len(s.EntityTypes))
	s.complexByName = make(map[string]*ComplexType, len(s.ComplexTypes))
	for _, c := range s.ComplexTypes {
		s.complexByName[c.Name] = c
		c.byName = indexProperties(c.Properties)
	}
	for _, e := range s.EntityTypes {
		s.entityByName[e.Name] = e
		if e.EntitySet != "" {
			s.entityBySet[e.EntitySet] = e
		}
		e.byName = indexProperties(e.Properties)
		e.keyProps = e.keyProps[:0]
		for _, key := range e.Keys {
			if p, ok := e.byName[key]; ok {
				e.keyProps = append(e.keyProps, p)
			}
		}
	}
}

func indexProperties(props []*Property) map[string]*Property {
	byName := make(map[string]*Property, len(props))
	for _, p := range props {
		byName[p.Name] = p
	}
	return byName
}
