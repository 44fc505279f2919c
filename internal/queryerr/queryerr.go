// Package queryerr defines the closed set of error kinds raised while
// compiling a request into SQL and hydrating the results.
//
// Callers match kinds with errors.Is against the exported sentinels. Mapping
// to transport status codes happens at the HTTP boundary, never here.
package queryerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a core failure.
type Kind int

const (
	KindUnknown Kind = iota
	// KindPathResolution covers unknown segments, malformed paths and
	// segments that follow a scalar leaf. Always a client error.
	KindPathResolution
	// KindJoinPlan indicates a metadata/query mismatch.
	KindJoinPlan
	// KindDuplicateExpandRegistration is a programming invariant violation.
	KindDuplicateExpandRegistration
	KindNullEntityType
	// KindHydrationTypeMismatch means a projected value does not fit the
	// declared property type.
	KindHydrationTypeMismatch
)

func (k Kind) String() string {
	switch k {
	case KindPathResolution:
		return "PathResolutionError"
	case KindJoinPlan:
		return "JoinPlanError"
	case KindDuplicateExpandRegistration:
		return "DuplicateExpandRegistration"
	case KindNullEntityType:
		return "NullEntityType"
	case KindHydrationTypeMismatch:
		return "HydrationTypeMismatch"
	default:
		return "Unknown"
	}
}

// IsClientError reports whether the kind is caused by the request itself.
func (k Kind) IsClientError() bool {
	return k == KindPathResolution
}

// Reason refines a kind. Only path resolution uses more than one reason.
type Reason string

const (
	ReasonNone                Reason = ""
	ReasonUnknownSegment      Reason = "UnknownPathSegment"
	ReasonTrailingAfterScalar Reason = "TrailingSegmentsAfterScalar"
	ReasonMalformedPath       Reason = "MalformedPath"
)

// Error is the tagged error value returned by the core packages.
type Error struct {
	Kind    Kind
	Reason  Reason
	Path    string
	Segment string
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Reason != ReasonNone {
		b.WriteString(string(e.Reason))
	} else {
		b.WriteString(e.Kind.String())
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " (path %q", e.Path)
		if e.Segment != "" {
			fmt.Fprintf(&b, ", segment %q", e.Segment)
		}
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinels by kind and, when the target carries one, by reason.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == ReasonNone || t.Reason == e.Reason
}

var (
	ErrPathResolution              = &Error{Kind: KindPathResolution}
	ErrUnknownPathSegment          = &Error{Kind: KindPathResolution, Reason: ReasonUnknownSegment}
	ErrTrailingSegmentsAfterScalar = &Error{Kind: KindPathResolution, Reason: ReasonTrailingAfterScalar}
	ErrMalformedPath               = &Error{Kind: KindPathResolution, Reason: ReasonMalformedPath}
	ErrJoinPlan                    = &Error{Kind: KindJoinPlan}
	ErrDuplicateExpandRegistration = &Error{Kind: KindDuplicateExpandRegistration}
	ErrNullEntityType              = &Error{Kind: KindNullEntityType}
	ErrHydrationTypeMismatch       = &Error{Kind: KindHydrationTypeMismatch}
)

// UnknownSegment builds a path resolution error for a segment with no match.
func UnknownSegment(path, segment, scope string) error {
	return &Error{
		Kind:    KindPathResolution,
		Reason:  ReasonUnknownSegment,
		Path:    path,
		Segment: segment,
		Message: fmt.Sprintf("no property named %q on %s", segment, scope),
	}
}

// TrailingAfterScalar builds a path resolution error for segments following a scalar.
func TrailingAfterScalar(path, scalar string) error {
	return &Error{
		Kind:    KindPathResolution,
		Reason:  ReasonTrailingAfterScalar,
		Path:    path,
		Segment: scalar,
		Message: fmt.Sprintf("%q is a scalar property and cannot be traversed", scalar),
	}
}

// MalformedPath builds a path resolution error for syntactically invalid paths.
func MalformedPath(path, message string) error {
	return &Error{Kind: KindPathResolution, Reason: ReasonMalformedPath, Path: path, Message: message}
}

// JoinPlan builds a join planning error.
func JoinPlan(path, format string, args ...interface{}) error {
	return &Error{Kind: KindJoinPlan, Path: path, Message: fmt.Sprintf(format, args...)}
}

// DuplicateRegistration builds the error raised when an expand level is registered twice.
func DuplicateRegistration(path string) error {
	return &Error{
		Kind:    KindDuplicateExpandRegistration,
		Path:    path,
		Message: "expand result already registered for association",
	}
}

// TypeMismatch builds a hydration error for a value that does not fit its property type.
func TypeMismatch(alias, edmType string, value interface{}) error {
	return &Error{
		Kind:    KindHydrationTypeMismatch,
		Path:    alias,
		Message: fmt.Sprintf("cannot convert %T to %s", value, edmType),
	}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Kind
	}
	return KindUnknown
}
