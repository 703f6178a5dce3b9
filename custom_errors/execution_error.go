package custom_errors

import (
	"context"
	"errors"
	"fmt"
)

// ErrorClass decides what the worker pool does with a failed attempt.
type ErrorClass int

const (
	// ClassTransient failures are retried according to the backoff policy.
	ClassTransient ErrorClass = iota
	// ClassPermanent failures end the job as failed regardless of retries left.
	ClassPermanent
	// ClassHandlerNotFound fails the job immediately.
	ClassHandlerNotFound
)

func (c ErrorClass) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassPermanent:
		return "permanent"
	case ClassHandlerNotFound:
		return "handler_not_found"
	}
	return "unknown"
}

// TransientError marks a network/timeout class failure.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// PermanentError marks a validation/business-rule failure that retrying cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent: %v", e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a TransientError. A nil err stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// Permanent wraps err as a PermanentError. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Permanentf is a fmt.Errorf shorthand for handlers rejecting a payload.
func Permanentf(format string, args ...any) error {
	return &PermanentError{Err: fmt.Errorf(format, args...)}
}

// Classify maps a handler error onto the taxonomy. Anything not explicitly
// classified is transient.
func Classify(err error) ErrorClass {
	var permanent *PermanentError
	var transient *TransientError

	switch {
	case errors.Is(err, ErrHandlerNotFound):
		return ClassHandlerNotFound
	case errors.Is(err, ErrJobCancelled):
		return ClassPermanent
	case errors.As(err, &permanent):
		return ClassPermanent
	case errors.As(err, &transient):
		return ClassTransient
	case errors.Is(err, context.DeadlineExceeded):
		return ClassTransient
	}
	return ClassTransient
}
