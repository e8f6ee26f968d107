package deadletter

import (
	"context"
	"maps"
	"time"

	"github.com/timottowitz/conveyor/id"
	"github.com/timottowitz/conveyor/job"
)

// Service provides high-level dead letter operations over a Store.
type Service struct {
	store    Store
	jobStore job.Store
}

// NewService creates a dead letter service.
func NewService(store Store, jobStore job.Store) *Service {
	return &Service{store: store, jobStore: jobStore}
}

// Push builds an Entry from a failed job and persists it.
// The error string is captured from the original handler error.
func (s *Service) Push(ctx context.Context, j *job.Job, jobErr error) error {
	now := time.Now().UTC()
	entry := &Entry{
		ID:         id.NewDeadLetterID(),
		JobID:      j.ID,
		TenantID:   j.TenantID,
		OwnerID:    j.OwnerID,
		Type:       j.Type,
		Payload:    j.Payload,
		Priority:   j.Priority,
		Error:      jobErr.Error(),
		Attempt:    j.Attempt,
		MaxRetries: j.MaxRetries,
		Timeout:    j.Timeout,
		Metadata:   maps.Clone(j.Metadata),
		FailedAt:   now,
		CreatedAt:  now,
	}
	return s.store.PushDeadLetter(ctx, entry)
}

// Replay resubmits a dead letter entry as a new pending job and marks the
// entry as replayed. The new job gets a fresh ID, a zeroed attempt counter,
// and runs immediately. The entry's original job ID is recorded in the new
// job's metadata under "replayed_from".
func (s *Service) Replay(ctx context.Context, tenantID string, entryID id.DeadLetterID) (*job.Job, error) {
	entry, err := s.store.GetDeadLetter(ctx, tenantID, entryID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	meta := maps.Clone(entry.Metadata)
	if meta == nil {
		meta = make(map[string]string, 1)
	}
	meta["replayed_from"] = entry.JobID.String()

	j := &job.Job{
		ID:         id.NewJobID(),
		TenantID:   entry.TenantID,
		OwnerID:    entry.OwnerID,
		Type:       entry.Type,
		Payload:    entry.Payload,
		Priority:   entry.Priority,
		Status:     job.StatusPending,
		MaxRetries: entry.MaxRetries,
		Timeout:    entry.Timeout,
		Metadata:   meta,
		RunAt:      now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.jobStore.Create(ctx, j); err != nil {
		return nil, err
	}

	if err := s.store.ReplayDeadLetter(ctx, tenantID, entryID); err != nil {
		// The job is already submitted. Surface the error but keep the job.
		return j, err
	}

	return j, nil
}

// Store returns the underlying dead letter store for direct access
// to list, get, purge, and count operations.
func (s *Service) Store() Store {
	return s.store
}
