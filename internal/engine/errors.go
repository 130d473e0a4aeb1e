package engine

import (
	"errors"
	"fmt"
)

// ErrConflict signals that the quotation changed under the caller between the
// read and the write. Callers should refetch and retry.
var ErrConflict = errors.New("quotation was modified concurrently")

// ValidationError reports input that fails a domain rule before any write
// happens.
type ValidationError struct {
	Msg string
}

func (e ValidationError) Error() string { return e.Msg }

func validationf(format string, args ...any) error {
	return ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// InvalidTransitionError reports an action attempted from a status that does
// not allow it.
type InvalidTransitionError struct {
	Status string
	Action string
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid quotation transition: cannot %s from status %s", e.Action, e.Status)
}
