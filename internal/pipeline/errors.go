package pipeline

import "errors"

// ErrInvalidRequest marks input rejected before any disk or network work.
var ErrInvalidRequest = errors.New("invalid request")

// ValidationError carries a message that is safe to show to the caller.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func (e *ValidationError) Is(target error) bool { return target == ErrInvalidRequest }

func invalid(msg string) error {
	return &ValidationError{Msg: msg}
}
