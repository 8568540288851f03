package query

import (
	"fmt"
	"net/http"
)

// Kind classifies an operator failure for the transport layer, the way
// api/v1.ErrOffsetOutOfRange attaches a status code to its error value.
type Kind int

const (
	// KindInternal covers reader/store failures unrelated to the request.
	KindInternal Kind = iota
	// KindInvalidArgument is the kind for malformed skip/fetch or offset
	// windows. The operators in this package do not return it: a window
	// past the end of the candidate set yields an empty result.
	KindInvalidArgument
)

// OpError is the error type returned by the Limit and MergeAndHydrate
// operators.
type OpError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("query: %s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// HTTPStatus is the status code the query transport should respond with
// for this error, the same attach-a-transport-code-to-a-domain-error
// pattern as api/v1.ErrOffsetOutOfRange.
func (e *OpError) HTTPStatus() int {
	switch e.Kind {
	case KindInvalidArgument:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func internalErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Kind: KindInternal, Op: op, Err: err}
}

func invalidArgErr(op string, err error) error {
	return &OpError{Kind: KindInvalidArgument, Op: op, Err: err}
}
