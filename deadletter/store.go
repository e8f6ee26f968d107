package deadletter

import (
	"context"
	"time"

	"github.com/timottowitz/conveyor/id"
)

// ListOpts controls pagination and filtering for dead letter list queries.
type ListOpts struct {
	// Limit is the maximum number of entries to return. Zero means no limit.
	Limit int
	// Offset is the number of entries to skip.
	Offset int
	// Type filters by job type. Empty means all types.
	Type string
}

// Store defines the persistence contract for the dead letter archive.
// All reads and writes are scoped to a tenant; an entry belonging to a
// different tenant is indistinguishable from a missing one.
type Store interface {
	// PushDeadLetter adds a failed job entry to the dead letter archive.
	PushDeadLetter(ctx context.Context, entry *Entry) error

	// ListDeadLetters returns a tenant's entries matching the given options,
	// newest first.
	ListDeadLetters(ctx context.Context, tenantID string, opts ListOpts) ([]*Entry, error)

	// GetDeadLetter retrieves an entry by ID within the tenant's scope.
	GetDeadLetter(ctx context.Context, tenantID string, entryID id.DeadLetterID) (*Entry, error)

	// ReplayDeadLetter marks an entry as replayed. The actual resubmission
	// is handled at the service layer.
	ReplayDeadLetter(ctx context.Context, tenantID string, entryID id.DeadLetterID) error

	// PurgeDeadLetters removes a tenant's entries with FailedAt before the
	// given time. Returns the number of entries removed.
	PurgeDeadLetters(ctx context.Context, tenantID string, before time.Time) (int64, error)

	// CountDeadLetters returns the number of entries archived for a tenant.
	CountDeadLetters(ctx context.Context, tenantID string) (int64, error)
}
