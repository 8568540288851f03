package apiv1

import (
	"fmt"
	"net/http"
)

// ErrOffsetOutOfRange is returned by the mutation log when a caller asks
// for an offset below the lowest or above the highest retained offset.
type ErrOffsetOutOfRange struct {
	Offset uint64
}

func (e ErrOffsetOutOfRange) Error() string {
	return fmt.Sprintf("offset out of range: %d", e.Offset)
}

// HTTPStatus is the status code the log transport should respond with
// for this error.
func (e ErrOffsetOutOfRange) HTTPStatus() int {
	return http.StatusNotFound
}
