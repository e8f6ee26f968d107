package job

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Class distinguishes failures the queue may retry from failures it must
// not. Handlers classify their own errors with Transient and Permanent;
// anything unclassified is treated as transient so flaky infrastructure
// gets the benefit of the retry budget.
type Class string

const (
	// ClassTransient marks network and storage hiccups, timeouts, and other
	// failures worth retrying.
	ClassTransient Class = "transient"
	// ClassPermanent marks validation and not-found failures that will not
	// succeed on retry regardless of remaining budget.
	ClassPermanent Class = "permanent"
)

// HandlerError wraps a business failure reported by a job handler together
// with its retry classification.
type HandlerError struct {
	Class Class
	Err   error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler error (%s): %v", e.Class, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// Transient wraps err as a retryable handler failure.
func Transient(err error) error {
	return &HandlerError{Class: ClassTransient, Err: err}
}

// Permanent wraps err as a non-retryable handler failure.
func Permanent(err error) error {
	return &HandlerError{Class: ClassPermanent, Err: err}
}

// Transientf is shorthand for Transient(fmt.Errorf(...)).
func Transientf(format string, args ...any) error {
	return Transient(fmt.Errorf(format, args...))
}

// Permanentf is shorthand for Permanent(fmt.Errorf(...)).
func Permanentf(format string, args ...any) error {
	return Permanent(fmt.Errorf(format, args...))
}

// TimeoutError records that an attempt exceeded its execution deadline.
// The handler is signalled via its context but its actual termination is
// cooperative; the queue records the attempt as failed regardless.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("attempt exceeded timeout of %s", e.Timeout)
}

// Classify returns the retry class of err. Explicitly classified handler
// errors keep their class; deadline expiry is transient (a slow dependency
// may recover); everything else defaults to transient.
func Classify(err error) Class {
	var he *HandlerError
	if errors.As(err, &he) {
		return he.Class
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		return ClassTransient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	return ClassTransient
}

// IsPermanent reports whether err is classified as a permanent failure.
func IsPermanent(err error) bool { return Classify(err) == ClassPermanent }
