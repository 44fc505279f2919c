package planner

import (
	"fmt"
	"sort"
	"strings"

	"tidb-odata/internal/metamodel"
	"tidb-odata/internal/queryerr"
	"tidb-odata/internal/querypath"
	"tidb-odata/internal/sqlutil"
)

// RootKey is the JoinPlan key of the base entity.
const RootKey = ""

// Source is one table occurrence in the FROM clause.
type Source struct {
	Key    string
	Alias  string
	Table  string
	Entity *metamodel.EntityType
	Parent *Source
	// JoinColumns pair a column of Parent (Local, prefix applied) with a
	// column of this source (Remote).
	JoinColumns  []metamodel.JoinColumn
	Multiplicity metamodel.Multiplicity
	JoinType     querypath.JoinType
	// Description marks a description-table join keyed by attribute alias.
	Description bool
}

// Column returns the alias-qualified, quoted column reference.
func (s *Source) Column(column string) string {
	return qualifiedColumn(s.Alias, column)
}

// From renders the table reference with its alias.
func (s *Source) From() string {
	return sqlutil.TableAs(s.Table, s.Alias)
}

// On renders the structural correlation of s with its parent.
func (s *Source) On() string {
	pairs := make([]string, len(s.JoinColumns))
	for i, jc := range s.JoinColumns {
		pairs[i] = fmt.Sprintf("%s = %s", s.Parent.Column(jc.Local), s.Column(jc.Remote))
	}
	return strings.Join(pairs, " AND ")
}

// JoinPlan maps canonical path keys to sources. The root source is stored
// under RootKey.
type JoinPlan struct {
	sources map[string]*Source
	order   []*Source
}

// Root returns the base entity source.
func (p *JoinPlan) Root() *Source {
	return p.sources[RootKey]
}

// Source looks up the source for a path key.
func (p *JoinPlan) Source(key string) (*Source, bool) {
	s, ok := p.sources[key]
	return s, ok
}

// Joins returns the joined sources in creation order, root excluded.
func (p *JoinPlan) Joins() []*Source {
	return p.order[1:]
}

// Len returns the number of sources including the root.
func (p *JoinPlan) Len() int {
	return len(p.order)
}

// JoinPlanBuilder accumulates joins for one compilation. It is not safe for
// concurrent use and is discarded with the compiled statement.
type JoinPlanBuilder struct {
	plan *JoinPlan
}

// NewJoinPlanBuilder starts a plan whose root is entity.
func NewJoinPlanBuilder(entity *metamodel.EntityType) *JoinPlanBuilder {
	root := &Source{Key: RootKey, Alias: "t0", Table: entity.Table, Entity: entity}
	return &JoinPlanBuilder{plan: &JoinPlan{
		sources: map[string]*Source{RootKey: root},
		order:   []*Source{root},
	}}
}

// Plan returns the plan built so far.
func (b *JoinPlanBuilder) Plan() *JoinPlan {
	return b.plan
}

// AddAssociations joins every navigation hop of paths rooted at base.
// Shorter paths are added first so longer ones reuse their prefixes.
func (b *JoinPlanBuilder) AddAssociations(base string, paths []*querypath.AssociationPath) error {
	sorted := append([]*querypath.AssociationPath(nil), paths...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Segments()) < len(sorted[j].Segments())
	})
	for _, path := range sorted {
		if err := b.addHops(base, path, path.JoinType()); err != nil {
			return err
		}
	}
	return nil
}

// AddInner joins the hops of path with INNER semantics for the final hop.
// Used for the navigation target of a resource path.
func (b *JoinPlanBuilder) AddInner(base string, path *querypath.AssociationPath) (*Source, error) {
	if err := b.addHops(base, path, querypath.JoinInner); err != nil {
		return nil, err
	}
	src, _ := b.plan.Source(scopedKey(base, path.Alias()))
	return src, nil
}

// AddAttributes joins the navigation hops crossed by paths and one
// description join per description attribute.
func (b *JoinPlanBuilder) AddAttributes(base string, paths []*querypath.AttributePath) error {
	sorted := append([]*querypath.AttributePath(nil), paths...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Segments()) < len(sorted[j].Segments())
	})
	for _, path := range sorted {
		if err := b.addHops(base, path, querypath.JoinLeft); err != nil {
			return err
		}
		prop := path.Property()
		if prop.Kind == metamodel.KindScalar && prop.Description != nil {
			if err := b.addDescription(base, path); err != nil {
				return err
			}
		}
	}
	return nil
}

// AddOrderBy is AddAttributes for ordering paths. Ordering cannot fan out
// rows, so crossing a to-many navigation is rejected.
func (b *JoinPlanBuilder) AddOrderBy(base string, paths []*querypath.AttributePath) error {
	for _, path := range paths {
		if path.HasToMany() {
			return queryerr.JoinPlan(path.Alias(), "ordering across a to-many navigation is not supported")
		}
		if path.IsComplex() {
			return queryerr.JoinPlan(path.Alias(), "ordering by a complex property is not supported")
		}
	}
	return b.AddAttributes(base, paths)
}

// AttributeSource returns the source holding the leaf of an attribute path.
func (b *JoinPlanBuilder) AttributeSource(base string, path *querypath.AttributePath) (*Source, error) {
	return b.plan.AttributeSource(base, path)
}

// AttributeSource returns the source holding the leaf of an attribute path.
func (p *JoinPlan) AttributeSource(base string, path *querypath.AttributePath) (*Source, error) {
	key := scopedKey(base, path.LastNavigationKey())
	if prop := path.Property(); prop.Kind == metamodel.KindScalar && prop.Description != nil {
		key = scopedKey(base, path.Alias())
	}
	src, ok := p.Source(key)
	if !ok {
		return nil, queryerr.JoinPlan(path.Alias(), "no join planned for %q", key)
	}
	return src, nil
}

func (b *JoinPlanBuilder) addHops(base string, path querypath.Path, last querypath.JoinType) error {
	if _, ok := b.plan.Source(base); !ok {
		return queryerr.JoinPlan(path.Alias(), "base source %q is not planned", base)
	}
	steps := path.Navigations()
	for i, step := range steps {
		key := scopedKey(base, step.Key)
		jt := querypath.JoinLeft
		if i == len(steps)-1 && path.Leaf().Kind == querypath.NavigationSegment {
			jt = last
		}
		if existing, ok := b.plan.Source(key); ok {
			if jt == querypath.JoinInner {
				existing.JoinType = querypath.JoinInner
			}
			continue
		}
		parent, ok := b.plan.Source(scopedKey(base, step.ParentKey))
		if !ok {
			return queryerr.JoinPlan(path.Alias(), "missing parent join for %q", step.Key)
		}
		nav := step.Segment.Property.Navigation
		if nav == nil || nav.Target == nil {
			return queryerr.JoinPlan(step.Key, "navigation target is missing")
		}
		cols, err := prefixedJoinColumns(step.Key, step.ColumnPrefix, nav.JoinColumns)
		if err != nil {
			return err
		}
		b.add(&Source{
			Key:          key,
			Table:        nav.Target.Table,
			Entity:       nav.Target,
			Parent:       parent,
			JoinColumns:  cols,
			Multiplicity: nav.Multiplicity,
			JoinType:     jt,
		})
	}
	return nil
}

func (b *JoinPlanBuilder) addDescription(base string, path *querypath.AttributePath) error {
	key := scopedKey(base, path.Alias())
	if _, ok := b.plan.Source(key); ok {
		return nil
	}
	parent, ok := b.plan.Source(scopedKey(base, path.LastNavigationKey()))
	if !ok {
		return queryerr.JoinPlan(path.Alias(), "missing parent join for description")
	}
	desc := path.Property().Description
	cols, err := prefixedJoinColumns(path.Alias(), path.ColumnPrefix(), desc.JoinColumns)
	if err != nil {
		return err
	}
	b.add(&Source{
		Key:          key,
		Table:        desc.Table,
		Parent:       parent,
		JoinColumns:  cols,
		Multiplicity: metamodel.ToOne,
		JoinType:     querypath.JoinLeft,
		Description:  true,
	})
	return nil
}

func (b *JoinPlanBuilder) add(src *Source) {
	src.Alias = fmt.Sprintf("t%d", len(b.plan.order))
	b.plan.sources[src.Key] = src
	b.plan.order = append(b.plan.order, src)
}

func prefixedJoinColumns(path, prefix string, cols []metamodel.JoinColumn) ([]metamodel.JoinColumn, error) {
	if len(cols) == 0 {
		return nil, queryerr.JoinPlan(path, "navigation has no join columns")
	}
	out := make([]metamodel.JoinColumn, len(cols))
	for i, jc := range cols {
		if jc.Local == "" || jc.Remote == "" {
			return nil, queryerr.JoinPlan(path, "join column pair %d is incomplete", i)
		}
		out[i] = metamodel.JoinColumn{Local: prefix + jc.Local, Remote: jc.Remote}
	}
	return out, nil
}

func scopedKey(base, key string) string {
	switch {
	case base == "":
		return key
	case key == "":
		return base
	default:
		return base + querypath.Separator + key
	}
}

func qualifiedColumn(alias, column string) string {
	return sqlutil.Qualified(alias, column)
}
