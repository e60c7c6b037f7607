// Package errs holds the error categories shared by the ingest pipeline.
// Domain errors wrap one of the category sentinels so callers can classify
// them with errors.Is without knowing the concrete failure.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is returned when a request is malformed or incomplete.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound is returned when there is nothing to act on.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when the target already exists.
	ErrConflict = errors.New("conflict")
	// ErrExternal is returned when an object store or codec tool fails.
	ErrExternal = errors.New("external dependency failed")
	// ErrTimeout is returned when a bounded operation runs out of time.
	ErrTimeout = errors.New("timed out")
	// ErrIO is returned on local filesystem failures. Callers may retry.
	ErrIO = errors.New("i/o failure")
	// ErrUnauthorized is returned when no caller identity is present.
	ErrUnauthorized = errors.New("unauthorized")
)

// Invalid wraps a formatted message as an input error.
func Invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// NotFound wraps a formatted message as a not-found error.
func NotFound(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Conflictf wraps a formatted message as a conflict error.
func Conflictf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// Unauthorized wraps a formatted message as a missing-identity error.
func Unauthorized(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrUnauthorized, fmt.Sprintf(format, args...))
}

// IO wraps a filesystem error.
func IO(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %v", ErrIO, op, err)
}

// External wraps an error coming from a dependency such as the object store.
func External(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %v", ErrExternal, op, err)
}

// Category returns the sentinel that err wraps, or nil when err is
// unclassified.
func Category(err error) error {
	for _, c := range []error{ErrInvalidInput, ErrNotFound, ErrConflict, ErrTimeout, ErrExternal, ErrIO, ErrUnauthorized} {
		if errors.Is(err, c) {
			return c
		}
	}
	return nil
}
