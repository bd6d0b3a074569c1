package domain

import (
	"context"
	"errors"
)

var (
	// ErrCapacityExceeded is returned when the queue is at its configured
	// maximum size and cannot admit another item.
	ErrCapacityExceeded = errors.New("queue capacity exceeded")

	// ErrDuplicateActive is returned when an item with the same id is
	// already pending or processing.
	ErrDuplicateActive = errors.New("operation id already pending or processing")

	// ErrNotFound is returned when the referenced item does not exist.
	ErrNotFound = errors.New("operation not found")

	// ErrRetryExhausted marks a terminal failure with no retry budget left.
	ErrRetryExhausted = errors.New("retry budget exhausted")

	// ErrOperationTimeout is returned when an operation exceeds its
	// configured execution timeout.
	ErrOperationTimeout = errors.New("operation timed out")

	// ErrNotRunning is returned when the queue manager is used outside
	// its running lifecycle state.
	ErrNotRunning = errors.New("queue manager is not running")
)

// ErrorClass is the classification of an execution failure, used to
// select a retry condition.
type ErrorClass string

const (
	ClassNetwork      ErrorClass = "network_error"
	ClassTimeout      ErrorClass = "timeout"
	ClassServer       ErrorClass = "server_error"
	ClassRateLimit    ErrorClass = "rate_limit"
	ClassConflict     ErrorClass = "conflict"
	ClassUnclassified ErrorClass = "unclassified"
)

// ClassifiedError wraps a sync failure with its error class so the
// retry policy can pick the right condition.
type ClassifiedError struct {
	Class ErrorClass
	Err   error
}

func (e *ClassifiedError) Error() string {
	return string(e.Class) + ": " + e.Err.Error()
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// NewClassifiedError wraps err with the given class.
func NewClassifiedError(class ErrorClass, err error) error {
	return &ClassifiedError{Class: class, Err: err}
}

// Classify extracts the error class from err. Deadline expiry maps to
// timeout; anything without an explicit class is unclassified.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassUnclassified
	}

	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified.Class
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrOperationTimeout) {
		return ClassTimeout
	}

	return ClassUnclassified
}
