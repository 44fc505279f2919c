package planner

import "fmt"

const (
	DefaultMaxTop         = 1000
	DefaultTop            = 100
	DefaultMaxExpandDepth = 5
	DefaultMaxInClause    = 500
)

// ErrExpandTooDeep is returned when $expand nests deeper than the configured
// maximum.
var ErrExpandTooDeep = fmt.Errorf("%w: $expand is nested too deeply", ErrInvalidQuery)

// Limits bound the size of a compiled request. Zero disables a limit.
type Limits struct {
	// MaxTop caps $top on every level.
	MaxTop int
	// DefaultTop applies to the root collection when $top is absent.
	DefaultTop int
	// MaxExpandDepth is the deepest allowed $expand nesting.
	MaxExpandDepth int
	// MaxInClause caps the parent tuples bound into one child statement.
	MaxInClause int
}

// DefaultLimits returns the limits used when configuration leaves them unset.
func DefaultLimits() Limits {
	return Limits{
		MaxTop:         DefaultMaxTop,
		DefaultTop:     DefaultTop,
		MaxExpandDepth: DefaultMaxExpandDepth,
		MaxInClause:    DefaultMaxInClause,
	}
}

// effectiveTop resolves the row limit of a level. ok is false when the level
// is unbounded.
func (l Limits) effectiveTop(requested *int, root bool) (top int, ok bool) {
	switch {
	case requested != nil:
		top, ok = *requested, true
	case root && l.DefaultTop > 0:
		top, ok = l.DefaultTop, true
	default:
		return 0, false
	}
	if l.MaxTop > 0 && top > l.MaxTop {
		top = l.MaxTop
	}
	return top, ok
}

func (l Limits) checkDepth(depth int) error {
	if l.MaxExpandDepth > 0 && depth > l.MaxExpandDepth {
		return fmt.Errorf("%w (max %d)", ErrExpandTooDeep, l.MaxExpandDepth)
	}
	return nil
}

func chunkParentTuples(values []ParentTuple, max int) [][]ParentTuple {
	if len(values) == 0 {
		return nil
	}
	if max <= 0 || len(values) <= max {
		return [][]ParentTuple{values}
	}
	chunks := make([][]ParentTuple, 0, (len(values)+max-1)/max)
	for start := 0; start < len(values); start += max {
		end := start + max
		if end > len(values) {
			end = len(values)
		}
		chunks = append(chunks, values[start:end])
	}
	return chunks
}
