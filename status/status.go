// Package status exposes read-only job visibility queries. It never
// mutates jobs; lifecycle changes go through the scheduler, the worker
// pool, or the cancel controller.
package status

import (
	"context"
	"fmt"

	"github.com/timottowitz/conveyor/id"
	"github.com/timottowitz/conveyor/job"
)

// Snapshot is the externally visible view of a job.
type Snapshot struct {
	ID       id.JobID     `json:"id"`
	Type     job.Type     `json:"type"`
	Status   job.Status   `json:"status"`
	Priority job.Priority `json:"priority"`
	Attempt  int          `json:"attempt"`
	// AttemptsLeft is the number of executions still available. Zero for
	// terminal jobs.
	AttemptsLeft int      `json:"attempts_left"`
	LastError    string   `json:"last_error,omitempty"`
	Job          *job.Job `json:"job"`
}

// Service answers job status queries against the store.
type Service struct {
	store job.Store
}

// NewService returns a Service backed by store.
func NewService(store job.Store) *Service {
	return &Service{store: store}
}

// Get returns the snapshot of a single job scoped to its tenant.
func (s *Service) Get(ctx context.Context, tenantID string, jobID id.JobID) (*Snapshot, error) {
	j, err := s.store.Get(ctx, tenantID, jobID)
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return snapshot(j), nil
}

// List returns snapshots of the tenant's jobs matching the filter, ordered
// by priority then submission time.
func (s *Service) List(ctx context.Context, tenantID string, f job.Filter) ([]*Snapshot, error) {
	jobs, err := s.store.ListByTenant(ctx, tenantID, f)
	if err != nil {
		return nil, fmt.Errorf("list jobs for tenant %s: %w", tenantID, err)
	}
	out := make([]*Snapshot, len(jobs))
	for i, j := range jobs {
		out[i] = snapshot(j)
	}
	return out, nil
}

func snapshot(j *job.Job) *Snapshot {
	left := 0
	if !j.Terminal() {
		// A job may execute MaxRetries+1 times in total.
		left = j.MaxRetries + 1 - j.Attempt
		if left < 0 {
			left = 0
		}
	}
	return &Snapshot{
		ID:           j.ID,
		Type:         j.Type,
		Status:       j.Status,
		Priority:     j.Priority,
		Attempt:      j.Attempt,
		AttemptsLeft: left,
		LastError:    j.LastError,
		Job:          j,
	}
}
