// Package expand holds the fetched rows of one expand level grouped by
// parent key, together with the results registered for nested levels.
package expand

import (
	"tidb-odata/internal/metamodel"
	"tidb-odata/internal/queryerr"
)

// Tuple is one fetched row keyed by select alias.
type Tuple map[string]interface{}

// Child is a nested level registered under its parent Result.
type Child struct {
	// Name is the navigation path relative to the parent entity.
	Name         string
	Multiplicity metamodel.Multiplicity
	// Links are the parent row aliases whose values key Result's rows.
	Links  []string
	Result *Result
}

// Result is the aggregated output of one level. It is built once per level
// and only read after registration completes.
type Result struct {
	entity   *metamodel.EntityType
	rows     map[Key][]Tuple
	counts   map[Key]int64
	children []Child
	byName   map[string]int
}

// NewResult wraps the rows of one level. A nil counts map means counts were
// not requested.
func NewResult(rows map[Key][]Tuple, counts map[Key]int64, entity *metamodel.EntityType) (*Result, error) {
	if entity == nil {
		return nil, queryerr.ErrNullEntityType
	}
	if rows == nil {
		rows = make(map[Key][]Tuple)
	}
	return &Result{
		entity: entity,
		rows:   rows,
		counts: counts,
		byName: make(map[string]int),
	}, nil
}

// Entity returns the entity type of the rows.
func (r *Result) Entity() *metamodel.EntityType {
	return r.entity
}

// RegisterChildren attaches nested results. The batch is checked as a whole
// before anything is attached: a name registered earlier or twice within
// the batch fails with ErrDuplicateExpandRegistration and leaves r unchanged.
func (r *Result) RegisterChildren(children ...Child) error {
	batch := make(map[string]bool, len(children))
	for _, child := range children {
		if child.Result == nil {
			return queryerr.ErrNullEntityType
		}
		if _, exists := r.byName[child.Name]; exists || batch[child.Name] {
			return queryerr.DuplicateRegistration(child.Name)
		}
		batch[child.Name] = true
	}
	for _, child := range children {
		r.byName[child.Name] = len(r.children)
		r.children = append(r.children, child)
	}
	return nil
}

// Children returns the registered children in registration order.
func (r *Result) Children() []Child {
	return r.children
}

// Child looks up a registered child by name.
func (r *Result) Child(name string) (Child, bool) {
	i, ok := r.byName[name]
	if !ok {
		return Child{}, false
	}
	return r.children[i], true
}

// Rows returns the rows of one parent, or nil for an unknown key.
func (r *Result) Rows(key Key) []Tuple {
	return r.rows[key]
}

// HasCount reports whether per-parent counts were requested.
func (r *Result) HasCount() bool {
	return r.counts != nil
}

// Count returns the count of one parent, 0 for an unknown key.
func (r *Result) Count(key Key) int64 {
	return r.counts[key]
}

// RowCountShallow is the number of distinct parent keys.
func (r *Result) RowCountShallow() int {
	return len(r.rows)
}

// RowCountDeep is the total number of rows over all parents.
func (r *Result) RowCountDeep() int {
	total := 0
	for _, rows := range r.rows {
		total += len(rows)
	}
	return total
}
