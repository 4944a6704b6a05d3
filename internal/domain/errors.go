package domain

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyInput      = errors.New("input is empty")
	ErrInputTooLong    = errors.New("input too long")
	ErrDependency      = errors.New("dependency failure")
	ErrNotFound        = errors.New("not found")
	ErrInvalidState    = errors.New("invalid state")
	ErrVersionConflict = errors.New("version conflict")
	ErrForbidden       = errors.New("admin capability required")
)

// InputTooLongError is returned before any model call when a message or job
// description exceeds its configured maximum.
type InputTooLongError struct {
	Field string
	Max   int
	Got   int
}

func (e *InputTooLongError) Error() string {
	return fmt.Sprintf("%s too long: %d characters, maximum is %d", e.Field, e.Got, e.Max)
}

func (e *InputTooLongError) Is(target error) bool {
	return target == ErrInputTooLong
}

// DependencyError wraps a failed model call the caller should retry later.
type DependencyError struct {
	Op  string
	Err error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *DependencyError) Unwrap() error {
	return e.Err
}

func (e *DependencyError) Is(target error) bool {
	return target == ErrDependency
}
