package planner

import (
	"fmt"
	"strings"

	"tidb-odata/internal/metamodel"
	"tidb-odata/internal/odata"
	"tidb-odata/internal/queryerr"
	"tidb-odata/internal/querypath"

	sq "github.com/Masterminds/squirrel"
)

// ResultKind describes the shape of a request result.
type ResultKind int

const (
	// ResultCollection is a list of entities.
	ResultCollection ResultKind = iota
	// ResultEntity is a single entity addressed by key or to-one navigation.
	ResultEntity
	// ResultCount is a bare /$count.
	ResultCount
	// ResultValue is the raw media of a stream property.
	ResultValue
)

func (k ResultKind) String() string {
	switch k {
	case ResultCollection:
		return "collection"
	case ResultEntity:
		return "entity"
	case ResultCount:
		return "count"
	case ResultValue:
		return "value"
	default:
		return "unknown"
	}
}

// Query is a compiled request.
type Query struct {
	Kind ResultKind
	Root *Level
	// Count requests the total number of matching root entities.
	Count bool
	// Stream is the addressed stream property of a ResultValue query.
	Stream *querypath.AttributePath
}

// Depth returns the deepest expand level, 0 without $expand.
func (q *Query) Depth() int {
	return q.Root.maxDepth()
}

// Level is the root statement or one $expand child statement family.
type Level struct {
	// Path joins the expand names from the root, "" for the root level.
	Path string
	// Name is the navigation path relative to the parent level.
	Name         string
	Navigation   *metamodel.Property
	Entity       *metamodel.EntityType
	Multiplicity metamodel.Multiplicity
	Selection    *SelectionPlan
	// Links are the parent aliases whose values key this level's rows.
	// Child rows carry the same values under ParentAlias(i).
	Links    []string
	Count    bool
	Children []*Level

	depth  int
	joins  *JoinPlan
	base   *Source
	where  []sq.Sqlizer
	order  []OrderTerm
	top    int
	hasTop bool
	skip   int
	remote []string
	maxIn  int
}

// ParentAliases returns the hidden aliases carrying the parent key in
// child rows.
func (l *Level) ParentAliases() []string {
	out := make([]string, len(l.remote))
	for i := range l.remote {
		out[i] = ParentAlias(i)
	}
	return out
}

func (l *Level) maxDepth() int {
	depth := l.depth
	for _, child := range l.Children {
		if d := child.maxDepth(); d > depth {
			depth = d
		}
	}
	return depth
}

// Compiler turns requests into Query plans for one schema.
type Compiler struct {
	schema *metamodel.Schema
	limits Limits
}

// NewCompiler returns a compiler bound to schema.
func NewCompiler(schema *metamodel.Schema, limits Limits) *Compiler {
	return &Compiler{schema: schema, limits: limits}
}

// Compile plans every statement needed to answer req.
func (c *Compiler) Compile(req *odata.Request) (*Query, error) {
	if req == nil {
		return nil, fmt.Errorf("request is nil")
	}
	res := req.Resource
	entity, ok := c.schema.EntitySet(res.EntitySet)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntitySet, res.EntitySet)
	}

	jb := NewJoinPlanBuilder(entity)
	exists := NewExistsBuilder()
	base := jb.Plan().Root()
	baseKey := RootKey
	current := entity
	query := &Query{Kind: ResultCollection}

	var where []sq.Sqlizer
	single := false
	if len(res.Key) > 0 {
		pred, err := keyPredicate(entity, base.Alias, res.Key)
		if err != nil {
			return nil, err
		}
		where = append(where, pred)
		single = true
	}

	navPath := ""
	for i, seg := range res.Navigation {
		prop, ok := current.Property(seg.Name)
		if !ok || prop.Ignore {
			return nil, queryerr.UnknownSegment(seg.Name, seg.Name, current.Name)
		}
		if prop.IsStream() {
			if !res.Value || i != len(res.Navigation)-1 || len(seg.Key) > 0 {
				return nil, invalidf("stream %s must be followed by /$value", seg.Name)
			}
			if !single {
				return nil, invalidf("stream %s requires a single entity", seg.Name)
			}
			stream, err := querypath.ResolveAttribute(current, seg.Name)
			if err != nil {
				return nil, err
			}
			query.Kind = ResultValue
			query.Stream = stream
			break
		}
		if prop.Kind != metamodel.KindNavigation {
			return nil, invalidf("%s is not a navigation property", seg.Name)
		}
		if !single {
			return nil, invalidf("navigation %s requires a single entity", seg.Name)
		}
		if navPath == "" {
			navPath = seg.Name
		} else {
			navPath += querypath.Separator + seg.Name
		}
		assoc, err := querypath.ResolveAssociation(entity, navPath)
		if err != nil {
			return nil, err
		}
		src, err := jb.AddInner(RootKey, assoc)
		if err != nil {
			return nil, err
		}
		current, base, baseKey = assoc.Target(), src, navPath
		single = assoc.Multiplicity() == metamodel.ToOne
		if len(seg.Key) > 0 {
			if single {
				return nil, invalidf("%s is single-valued and takes no key", seg.Name)
			}
			pred, err := keyPredicate(current, src.Alias, seg.Key)
			if err != nil {
				return nil, err
			}
			where = append(where, pred)
			single = true
		}
	}
	if res.Value && query.Kind != ResultValue {
		return nil, invalidf("$value must follow a stream property")
	}

	opts := req.Options
	switch {
	case query.Kind == ResultValue:
		opts = odata.QueryOptions{Select: &odata.SelectOption{Paths: []string{query.Stream.Alias()}}}
	case res.Count:
		if single {
			return nil, invalidf("/$count requires a collection")
		}
		query.Kind = ResultCount
		opts = odata.QueryOptions{Filter: opts.Filter, Search: opts.Search}
	case single:
		query.Kind = ResultEntity
		opts.Top, opts.Skip, opts.OrderBy, opts.Count = nil, nil, nil, false
	default:
		query.Count = opts.Count
	}

	root := &Level{
		Entity:       current,
		Multiplicity: metamodel.ToMany,
		where:        where,
		maxIn:        c.limits.MaxInClause,
	}
	if single {
		root.Multiplicity = metamodel.ToOne
	}
	if err := c.compileLevel(root, jb, baseKey, opts, exists); err != nil {
		return nil, err
	}
	query.Root = root
	return query, nil
}

func (c *Compiler) compileLevel(level *Level, jb *JoinPlanBuilder, baseKey string, opts odata.QueryOptions, exists *ExistsBuilder) error {
	base, ok := jb.Plan().Source(baseKey)
	if !ok {
		return queryerr.JoinPlan(baseKey, "level base is not planned")
	}
	entity := level.Entity

	req := SelectRequest{Base: baseKey, All: opts.Select == nil || opts.Select.All}
	if opts.Select != nil {
		for _, raw := range opts.Select.Paths {
			path, err := querypath.Resolve(entity, raw)
			if err != nil {
				return err
			}
			// Navigations named in $select are materialized by $expand.
			if attr, ok := path.(*querypath.AttributePath); ok {
				req.Paths = append(req.Paths, attr)
			}
		}
	}
	selection, err := BuildSelection(entity, req, jb)
	if err != nil {
		return err
	}
	level.Selection = selection

	scope := Scope{Entity: entity, Alias: base.Alias}
	if opts.Filter != nil {
		cond, err := NewFilterTranslator(exists).Translate(opts.Filter, scope)
		if err != nil {
			return err
		}
		level.where = append(level.where, cond)
	}
	if opts.Search != "" {
		cond, err := SearchCondition(exists, entity, base.Alias, opts.Search)
		if err != nil {
			return err
		}
		level.where = append(level.where, cond)
	}

	order, err := BuildOrderBy(entity, baseKey, opts.OrderBy, jb, exists)
	if err != nil {
		return err
	}
	level.order = order
	level.top, level.hasTop = c.limits.effectiveTop(opts.Top, level.depth == 0)
	if opts.Skip != nil {
		level.skip = *opts.Skip
	}
	level.Count = opts.Count
	level.base = base

	if err := c.compileExpands(level, opts.Expand, exists); err != nil {
		return err
	}
	level.joins = jb.Plan()
	return nil
}

func (c *Compiler) compileExpands(parent *Level, items []odata.ExpandItem, exists *ExistsBuilder) error {
	items = expandWildcard(parent.Entity, items)
	if len(items) == 0 {
		return nil
	}
	depth := parent.depth + 1
	if err := c.limits.checkDepth(depth); err != nil {
		return err
	}

	seen := make(map[string]bool, len(items))
	for _, item := range items {
		assoc, err := querypath.ResolveAssociation(parent.Entity, item.Path)
		if err != nil {
			return err
		}
		steps := assoc.Navigations()
		if len(steps) != 1 {
			return invalidf("$expand path %s must name a single navigation", item.Path)
		}
		if seen[assoc.Alias()] {
			return invalidf("%s is expanded twice", assoc.Alias())
		}
		seen[assoc.Alias()] = true

		step := steps[0]
		nav := step.Segment.Property.Navigation
		cols, err := prefixedJoinColumns(step.Key, step.ColumnPrefix, nav.JoinColumns)
		if err != nil {
			return err
		}

		child := &Level{
			Path:         joinPath(parent.Path, assoc.Alias()),
			Name:         assoc.Alias(),
			Navigation:   step.Segment.Property,
			Entity:       nav.Target,
			Multiplicity: nav.Multiplicity,
			depth:        depth,
			maxIn:        c.limits.MaxInClause,
		}
		for _, jc := range cols {
			child.Links = append(child.Links, parent.Selection.Link(parent.base, jc.Local))
			child.remote = append(child.remote, jc.Remote)
		}

		opts := item.Options
		if child.Multiplicity == metamodel.ToOne {
			opts.Top, opts.Skip, opts.OrderBy, opts.Count = nil, nil, nil, false
		}
		if err := c.compileLevel(child, NewJoinPlanBuilder(nav.Target), RootKey, opts, exists); err != nil {
			return err
		}
		for i, col := range child.remote {
			child.Selection.addParent(child.base, col, i)
		}
		parent.Children = append(parent.Children, child)
	}
	return nil
}

// expandWildcard replaces a "*" item by one item per navigation property not
// expanded explicitly.
func expandWildcard(entity *metamodel.EntityType, items []odata.ExpandItem) []odata.ExpandItem {
	var wildcard *odata.ExpandItem
	explicit := make(map[string]bool)
	out := make([]odata.ExpandItem, 0, len(items))
	for i := range items {
		if items[i].Path == "*" {
			wildcard = &items[i]
			continue
		}
		explicit[items[i].Path] = true
		out = append(out, items[i])
	}
	if wildcard == nil {
		return out
	}
	for _, prop := range entity.Properties {
		if prop.Kind != metamodel.KindNavigation || prop.Ignore || explicit[prop.Name] {
			continue
		}
		out = append(out, odata.ExpandItem{Path: prop.Name, Options: wildcard.Options})
	}
	return out
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return strings.Join([]string{parent, name}, querypath.Separator)
}
