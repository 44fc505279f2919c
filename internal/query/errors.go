package query

import (
	"errors"

	"tidb-odata/internal/odata"
	"tidb-odata/internal/planner"
	"tidb-odata/internal/queryerr"
)

// ErrNotFound is returned for unknown entity sets, keys that match no row
// and empty streams.
var ErrNotFound = errors.New("resource not found")

// ErrorClass groups errors by who has to act on them.
type ErrorClass int

const (
	// ClassInternal is a server fault or a modeling error.
	ClassInternal ErrorClass = iota
	// ClassClient is a malformed or unsupported request.
	ClassClient
	// ClassNotFound is an addressed resource that does not exist.
	ClassNotFound
)

func (c ErrorClass) String() string {
	switch c {
	case ClassClient:
		return "client_error"
	case ClassNotFound:
		return "not_found"
	default:
		return "error"
	}
}

// Classify returns the class of err.
func Classify(err error) ErrorClass {
	if errors.Is(err, ErrNotFound) {
		return ClassNotFound
	}
	var syntaxErr *odata.SyntaxError
	if errors.As(err, &syntaxErr) {
		return ClassClient
	}
	if errors.Is(err, planner.ErrInvalidQuery) || errors.Is(err, planner.ErrNoNavigation) {
		return ClassClient
	}
	if queryerr.KindOf(err).IsClientError() {
		return ClassClient
	}
	return ClassInternal
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	return Classify(err).String()
}
