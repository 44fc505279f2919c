package planner

import (
	"fmt"
	"strings"

	"tidb-odata/internal/metamodel"
	"tidb-odata/internal/queryerr"
	"tidb-odata/internal/querypath"
	"tidb-odata/internal/sqlutil"
)

// Hidden aliases start with HiddenPrefix. They carry correlation and
// metadata columns and are never hydrated as properties.
const (
	HiddenPrefix      = "$"
	LinkAliasPrefix   = "$link/"
	ParentAliasPrefix = "$parent/"
	MediaAliasPrefix  = "$media/"
	ETagAlias         = "$etag"
	CountAlias        = "$count"
)

// IsHiddenAlias reports whether alias is an internal column.
func IsHiddenAlias(alias string) bool {
	return strings.HasPrefix(alias, HiddenPrefix)
}

// LinkAlias is the hidden alias for a parent-side correlation column.
func LinkAlias(column string) string {
	return LinkAliasPrefix + column
}

// ParentAlias is the hidden alias for the i-th child-side correlation column.
func ParentAlias(i int) string {
	return fmt.Sprintf("%s%d", ParentAliasPrefix, i)
}

// MediaAlias is the hidden alias carrying the dynamic content type of a stream.
func MediaAlias(streamAlias string) string {
	return MediaAliasPrefix + streamAlias
}

// SelectRequest lists what a level projects.
type SelectRequest struct {
	// Base is the JoinPlan key of the selected entity.
	Base  string
	All   bool
	Paths []*querypath.AttributePath
}

// Selection is one projected column.
type Selection struct {
	// Path is nil for hidden columns.
	Path   *querypath.AttributePath
	Source *Source
	Column string
	Alias  string
}

// SQL renders the select expression with its alias.
func (s Selection) SQL() string {
	return fmt.Sprintf("%s AS %s", s.Source.Column(s.Column), sqlutil.QuoteIdentifier(s.Alias))
}

// SelectionPlan is the ordered, duplicate-free projection of one level.
type SelectionPlan struct {
	items   []Selection
	byAlias map[string]int
}

// Selections returns the projection in order.
func (p *SelectionPlan) Selections() []Selection {
	return p.items
}

// Aliases returns the projected aliases in order.
func (p *SelectionPlan) Aliases() []string {
	out := make([]string, len(p.items))
	for i, item := range p.items {
		out[i] = item.Alias
	}
	return out
}

// Columns renders every select expression.
func (p *SelectionPlan) Columns() []string {
	out := make([]string, len(p.items))
	for i, item := range p.items {
		out[i] = item.SQL()
	}
	return out
}

// Lookup returns the selection with the given alias.
func (p *SelectionPlan) Lookup(alias string) (Selection, bool) {
	i, ok := p.byAlias[alias]
	if !ok {
		return Selection{}, false
	}
	return p.items[i], true
}

// Link selects a base-table column under its LinkAlias so child levels can
// be matched to the rows of this level.
func (p *SelectionPlan) Link(source *Source, column string) string {
	alias := LinkAlias(column)
	p.add(Selection{Source: source, Column: column, Alias: alias})
	return alias
}

func (p *SelectionPlan) addParent(source *Source, column string, i int) {
	p.add(Selection{Source: source, Column: column, Alias: ParentAlias(i)})
}

func (p *SelectionPlan) add(sel Selection) {
	if _, dup := p.byAlias[sel.Alias]; dup {
		return
	}
	p.byAlias[sel.Alias] = len(p.items)
	p.items = append(p.items, sel)
}

// BuildSelection expands the requested paths (and every property when All is
// set) into leaf selections. Complex properties expand to
// all their leaves, description leaves are read from their join, and the key
// properties are always appended.
func BuildSelection(entity *metamodel.EntityType, req SelectRequest, joins *JoinPlanBuilder) (*SelectionPlan, error) {
	if entity == nil {
		return nil, queryerr.ErrNullEntityType
	}
	base, ok := joins.Plan().Source(req.Base)
	if !ok {
		return nil, queryerr.JoinPlan(req.Base, "selection base is not planned")
	}
	plan := &SelectionPlan{byAlias: make(map[string]int)}

	var leaves []*querypath.AttributePath
	if req.All {
		for _, prop := range entity.Properties {
			if prop.Ignore || prop.Kind == metamodel.KindNavigation {
				continue
			}
			path, err := querypath.ResolveAttribute(entity, prop.Name)
			if err != nil {
				return nil, err
			}
			leaves = append(leaves, expandLeaves(path)...)
		}
	}
	for _, path := range req.Paths {
		if len(path.Navigations()) > 0 {
			return nil, queryerr.MalformedPath(path.Alias(), "select paths cannot cross navigations, use $expand")
		}
		for _, seg := range path.Segments() {
			if seg.Property.Ignore {
				return nil, queryerr.UnknownSegment(path.Alias(), seg.Name, seg.Scope.TypeName())
			}
		}
		leaves = append(leaves, expandLeaves(path)...)
	}
	for _, key := range entity.KeyProperties() {
		path, err := querypath.ResolveAttribute(entity, key.Name)
		if err != nil {
			return nil, err
		}
		leaves = append(leaves, path)
	}

	if err := joins.AddAttributes(req.Base, leaves); err != nil {
		return nil, err
	}

	for _, leaf := range leaves {
		prop := leaf.Property()
		if prop.Description != nil {
			src, err := joins.AttributeSource(req.Base, leaf)
			if err != nil {
				return nil, err
			}
			plan.add(Selection{Path: leaf, Source: src, Column: prop.Description.Column, Alias: leaf.Alias()})
			continue
		}
		plan.add(Selection{Path: leaf, Source: base, Column: leaf.Column(), Alias: leaf.Alias()})

		if prop.Media != nil && prop.Media.ContentTypeProperty != "" {
			mime, ok := leaf.Leaf().Scope.Property(prop.Media.ContentTypeProperty)
			if !ok {
				return nil, queryerr.JoinPlan(leaf.Alias(), "content type property %s is missing", prop.Media.ContentTypeProperty)
			}
			plan.add(Selection{Source: base, Column: leaf.ColumnPrefix() + mime.Column, Alias: MediaAlias(leaf.Alias())})
		}
	}

	if version, ok := entity.VersionProperty(); ok {
		plan.add(Selection{Source: base, Column: version.Column, Alias: ETagAlias})
	}
	return plan, nil
}

// expandLeaves flattens a complex path into its scalar leaves, skipping
// navigations and ignored properties declared inside the complex type.
func expandLeaves(path *querypath.AttributePath) []*querypath.AttributePath {
	if !path.IsComplex() {
		return []*querypath.AttributePath{path}
	}
	var out []*querypath.AttributePath
	for _, prop := range path.Property().Complex.Properties {
		if prop.Ignore || prop.Kind == metamodel.KindNavigation {
			continue
		}
		out = append(out, expandLeaves(path.Child(prop))...)
	}
	return out
}
