// Package querypath resolves "/"-separated property paths against the
// metamodel into typed path descriptors used by the planner and hydrator.
package querypath

import (
	"strings"

	"tidb-odata/internal/metamodel"
)

// Separator joins segments in path strings and selection aliases.
const Separator = "/"

// SegmentKind is the closed set of segment variants.
type SegmentKind int

const (
	ScalarSegment SegmentKind = iota
	ComplexSegment
	NavigationSegment
)

func (k SegmentKind) String() string {
	switch k {
	case ComplexSegment:
		return "complex"
	case NavigationSegment:
		return "navigation"
	default:
		return "scalar"
	}
}

// JoinType selects the join semantics for an association path.
type JoinType int

const (
	JoinLeft JoinType = iota
	JoinInner
)

func (j JoinType) String() string {
	if j == JoinInner {
		return "INNER"
	}
	return "LEFT"
}

// Segment is one resolved step of a path.
type Segment struct {
	Name     string
	Kind     SegmentKind
	Property *metamodel.Property
	// Scope is the type the segment was resolved in.
	Scope metamodel.StructuredType
}

// NavigationStep describes one navigation hop of a path together with the
// key of the hop it starts from ("" for the owning entity).
type NavigationStep struct {
	Key       string
	ParentKey string
	Segment   Segment
	// ColumnPrefix is the embedded column prefix accumulated between the
	// previous hop and this one; it qualifies the local join columns.
	ColumnPrefix string
}

// Path is a resolved path. Implementations are AttributePath and
// AssociationPath.
type Path interface {
	Owner() *metamodel.EntityType
	Alias() string
	Segments() []Segment
	Leaf() Segment
	Navigations() []NavigationStep
	Equal(other Path) bool
}

type basePath struct {
	owner    *metamodel.EntityType
	segments []Segment
	alias    string
}

func newBasePath(owner *metamodel.EntityType, segments []Segment) basePath {
	names := make([]string, len(segments))
	for i, seg := range segments {
		names[i] = seg.Name
	}
	return basePath{owner: owner, segments: segments, alias: strings.Join(names, Separator)}
}

func (p basePath) Owner() *metamodel.EntityType { return p.owner }

// Alias is the canonical "/"-joined segment string, e.g. "Address/CityName".
func (p basePath) Alias() string { return p.alias }

func (p basePath) Segments() []Segment {
	out := make([]Segment, len(p.segments))
	copy(out, p.segments)
	return out
}

func (p basePath) Leaf() Segment { return p.segments[len(p.segments)-1] }

// Navigations lists every navigation hop in order, root first.
func (p basePath) Navigations() []NavigationStep {
	var steps []NavigationStep
	parent := ""
	var prefix strings.Builder
	for i, seg := range p.segments {
		switch seg.Kind {
		case ComplexSegment:
			prefix.WriteString(seg.Property.ColumnPrefix)
		case NavigationSegment:
			key := joinNames(p.segments[:i+1])
			steps = append(steps, NavigationStep{
				Key:          key,
				ParentKey:    parent,
				Segment:      seg,
				ColumnPrefix: prefix.String(),
			})
			parent = key
			prefix.Reset()
		}
	}
	return steps
}

// LastNavigationKey returns the key of the deepest navigation hop, or "" when
// the path stays within the owning entity.
func (p basePath) LastNavigationKey() string {
	steps := p.Navigations()
	if len(steps) == 0 {
		return ""
	}
	return steps[len(steps)-1].Key
}

// HasToMany reports whether any hop is a to-many navigation.
func (p basePath) HasToMany() bool {
	for _, step := range p.Navigations() {
		if step.Segment.Property.Navigation.Multiplicity == metamodel.ToMany {
			return true
		}
	}
	return false
}

func (p basePath) equal(other Path) bool {
	if other == nil {
		return false
	}
	return p.owner == other.Owner() && p.alias == other.Alias()
}

func joinNames(segments []Segment) string {
	names := make([]string, len(segments))
	for i, seg := range segments {
		names[i] = seg.Name
	}
	return strings.Join(names, Separator)
}

// AttributePath ends at a scalar or complex property.
type AttributePath struct {
	basePath
}

// Equal reports whether both paths have the same owner and alias.
func (p *AttributePath) Equal(other Path) bool {
	if _, ok := other.(*AttributePath); !ok {
		return false
	}
	return p.equal(other)
}

// Property returns the leaf property.
func (p *AttributePath) Property() *metamodel.Property {
	return p.Leaf().Property
}

// IsComplex reports whether the leaf is an embedded structure.
func (p *AttributePath) IsComplex() bool {
	return p.Leaf().Kind == ComplexSegment
}

// CrossesEmbedded reports whether any segment before the leaf is complex.
func (p *AttributePath) CrossesEmbedded() bool {
	for _, seg := range p.segments[:len(p.segments)-1] {
		if seg.Kind == ComplexSegment {
			return true
		}
	}
	return false
}

// ColumnPrefix returns the embedded prefix that applies to the leaf, counted
// from the last navigation hop.
func (p *AttributePath) ColumnPrefix() string {
	var prefix strings.Builder
	for _, seg := range p.segments[:len(p.segments)-1] {
		switch seg.Kind {
		case ComplexSegment:
			prefix.WriteString(seg.Property.ColumnPrefix)
		case NavigationSegment:
			prefix.Reset()
		}
	}
	if p.IsComplex() {
		prefix.WriteString(p.Property().ColumnPrefix)
	}
	return prefix.String()
}

// Column returns the storage column of a scalar leaf, prefix included.
// Description leaves have no column on the owner table and return "".
func (p *AttributePath) Column() string {
	prop := p.Property()
	if prop.Kind != metamodel.KindScalar || prop.Description != nil {
		return ""
	}
	return p.ColumnPrefix() + prop.Column
}

// Entity returns the entity type whose table holds the leaf.
func (p *AttributePath) Entity() *metamodel.EntityType {
	steps := p.Navigations()
	if len(steps) == 0 {
		return p.owner
	}
	return steps[len(steps)-1].Segment.Property.Navigation.Target
}

// Child resolves a property of a complex leaf as a longer path.
func (p *AttributePath) Child(prop *metamodel.Property) *AttributePath {
	segs := make([]Segment, len(p.segments), len(p.segments)+1)
	copy(segs, p.segments)
	segs = append(segs, Segment{
		Name:     prop.Name,
		Kind:     kindOf(prop),
		Property: prop,
		Scope:    p.Property().Complex,
	})
	return &AttributePath{basePath: newBasePath(p.owner, segs)}
}

// AssociationPath ends at a navigation property.
type AssociationPath struct {
	basePath
	joinType JoinType
}

// Equal reports whether both paths have the same owner and alias.
func (p *AssociationPath) Equal(other Path) bool {
	if _, ok := other.(*AssociationPath); !ok {
		return false
	}
	return p.equal(other)
}

// Navigation returns the navigation of the final segment.
func (p *AssociationPath) Navigation() *metamodel.Navigation {
	return p.Leaf().Property.Navigation
}

// Multiplicity returns the multiplicity of the final navigation.
func (p *AssociationPath) Multiplicity() metamodel.Multiplicity {
	return p.Navigation().Multiplicity
}

// Target returns the entity type reached by the path.
func (p *AssociationPath) Target() *metamodel.EntityType {
	return p.Navigation().Target
}

// JoinType returns the join semantics for the final hop.
func (p *AssociationPath) JoinType() JoinType {
	return p.joinType
}

// WithJoinType returns a copy of the path using the given join type.
func (p *AssociationPath) WithJoinType(jt JoinType) *AssociationPath {
	cp := *p
	cp.joinType = jt
	return &cp
}

// LocalColumnPrefix returns the embedded prefix that qualifies the local
// join columns of the final navigation.
func (p *AssociationPath) LocalColumnPrefix() string {
	steps := p.Navigations()
	return steps[len(steps)-1].ColumnPrefix
}

func kindOf(prop *metamodel.Property) SegmentKind {
	switch prop.Kind {
	case metamodel.KindComplex:
		return ComplexSegment
	case metamodel.KindNavigation:
		return NavigationSegment
	default:
		return ScalarSegment
	}
}
