package job

import (
	"context"
	"time"

	"github.com/timottowitz/conveyor/id"
)

// Filter controls job list queries. Zero-valued fields match everything.
type Filter struct {
	// Statuses filters to jobs in any of the given statuses.
	Statuses []Status
	// Types filters to jobs of any of the given types.
	Types []Type
	// DedupeKey filters to jobs carrying this dedupe key.
	DedupeKey string
	// CreatedAfter and CreatedBefore bound the creation timestamp.
	CreatedAfter  time.Time
	CreatedBefore time.Time
	// EligibleAt, when non-zero, restricts to jobs whose RunAt is at or
	// before the given instant. Used by the scheduler.
	EligibleAt time.Time
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
}

// MatchStatus reports whether s passes the filter's status set.
func (f Filter) MatchStatus(s Status) bool {
	if len(f.Statuses) == 0 {
		return true
	}
	for _, want := range f.Statuses {
		if s == want {
			return true
		}
	}
	return false
}

// MatchType reports whether t passes the filter's type set.
func (f Filter) MatchType(t Type) bool {
	if len(f.Types) == 0 {
		return true
	}
	for _, want := range f.Types {
		if t == want {
			return true
		}
	}
	return false
}

// Mutation is applied to a job inside CompareAndTransition. It receives the
// store's current copy of the job; returning an error aborts the update
// without incrementing the version.
type Mutation func(j *Job) error

// Store defines the persistence contract for jobs. It is the only shared
// mutable resource in the system; all writes after Create go through
// CompareAndTransition so no two components can claim or transition the
// same job concurrently.
type Store interface {
	// Create persists a new job. The job's Version must be its initial
	// value; returns ErrJobAlreadyExists if the ID is taken.
	Create(ctx context.Context, j *Job) error

	// Get retrieves a job scoped to its tenant. An unknown ID and a job
	// belonging to a different tenant both return ErrNotFound.
	Get(ctx context.Context, tenantID string, jobID id.JobID) (*Job, error)

	// ListByTenant returns the tenant's jobs matching the filter, ordered by
	// priority rank descending then CreatedAt ascending.
	ListByTenant(ctx context.Context, tenantID string, f Filter) ([]*Job, error)

	// CompareAndTransition atomically applies mutate to the job iff its
	// stored version equals expectedVersion, then increments the version and
	// stamps UpdatedAt. Returns the updated job, ErrVersionConflict on a
	// stale version, or ErrNotFound.
	CompareAndTransition(ctx context.Context, jobID id.JobID, expectedVersion int64, mutate Mutation) (*Job, error)

	// Delete removes a terminal job scoped to its tenant. Returns
	// ErrInvalidTransition if the job is not terminal, ErrNotFound otherwise.
	Delete(ctx context.Context, tenantID string, jobID id.JobID) error

	// ActiveTenants returns the tenants that currently have jobs in
	// pending or queued status, for the scheduler's round-robin.
	ActiveTenants(ctx context.Context) ([]string, error)
}
