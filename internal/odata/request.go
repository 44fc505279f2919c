// Package odata parses OData resource paths and system query options into a
// Request. It is purely syntactic: names are resolved later against the
// metamodel by the planner.
package odata

import "fmt"

// Request is a parsed read request.
type Request struct {
	Resource ResourcePath
	Options  QueryOptions
}

// ResourcePath addresses an entity set, a single entity or a navigation
// chain below it.
type ResourcePath struct {
	EntitySet string
	Key       []KeyValue
	// Navigation holds segments after the entity set. The last segment may
	// name a stream property when Value is set.
	Navigation []PathSegment
	// Count is set for a trailing /$count.
	Count bool
	// Value is set for a trailing /$value.
	Value bool
}

// PathSegment is one navigation step with an optional key predicate.
type PathSegment struct {
	Name string
	Key  []KeyValue
}

// KeyValue is one key predicate value. Name is empty for the short form
// EntitySet('1').
type KeyValue struct {
	Name  string
	Value interface{}
}

// QueryOptions holds the system query options of one level. Expand items
// carry their own nested options.
type QueryOptions struct {
	Select  *SelectOption
	Expand  []ExpandItem
	Filter  Expr
	OrderBy []OrderByItem
	Top     *int
	Skip    *int
	Count   bool
	Search  string
}

// SelectOption is a parsed $select. A nil *SelectOption means all properties.
type SelectOption struct {
	All   bool
	Paths []string
}

// ExpandItem is one $expand entry. Path "*" expands every navigation.
type ExpandItem struct {
	Path    string
	Options QueryOptions
}

// OrderByItem is one $orderby entry. Count marks a Nav/$count ordering.
type OrderByItem struct {
	Path  string
	Count bool
	Desc  bool
}

// SyntaxError reports an unparsable request part.
type SyntaxError struct {
	Option  string
	Offset  int
	Message string
}

func (e *SyntaxError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("invalid %s at position %d: %s", e.Option, e.Offset, e.Message)
	}
	return fmt.Sprintf("invalid %s: %s", e.Option, e.Message)
}

func syntaxErrorf(option string, offset int, format string, args ...interface{}) *SyntaxError {
	return &SyntaxError{Option: option, Offset: offset, Message: fmt.Sprintf(format, args...)}
}
