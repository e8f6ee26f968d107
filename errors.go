package conveyor

import (
	"errors"
	"fmt"
)

var (
	// Store errors.
	ErrNoStore     = errors.New("conveyor: no store configured")
	ErrStoreClosed = errors.New("conveyor: store closed")

	// ErrNotFound is returned for an unknown job ID or a job belonging to a
	// different tenant. The two cases are deliberately indistinguishable so
	// a tenant cannot probe for the existence of another tenant's jobs.
	ErrNotFound = errors.New("conveyor: job not found")

	// ErrForbidden is returned when the requester is not the job's owner.
	ErrForbidden = errors.New("conveyor: forbidden")

	// ErrJobAlreadyExists is returned when creating a job whose ID is taken.
	ErrJobAlreadyExists = errors.New("conveyor: job already exists")

	// ErrInvalidTransition is returned when a requested status change is not
	// an edge of the job state machine, including cancel or delete attempted
	// against an incompatible status.
	ErrInvalidTransition = errors.New("conveyor: invalid state transition")

	// ErrVersionConflict is returned by compare-and-transition when the
	// expected version is stale. Callers re-read and retry or give up.
	ErrVersionConflict = errors.New("conveyor: version conflict")

	// ErrRetriesExhausted marks the terminal form of a repeatedly failing job.
	ErrRetriesExhausted = errors.New("conveyor: retries exhausted")

	// ErrCancelRequested is the cancellation cause attached to a running
	// attempt's context when its job is cancelled.
	ErrCancelRequested = errors.New("conveyor: cancel requested")
)

// ValidationError describes a malformed submission parameter. It is
// surfaced synchronously to the caller before any record is created.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("conveyor: invalid %s: %s", e.Field, e.Reason)
}

// Validation builds a ValidationError for the given field.
func Validation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
