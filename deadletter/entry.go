package deadletter

import (
	"time"

	"github.com/timottowitz/conveyor/id"
	"github.com/timottowitz/conveyor/job"
)

// Entry represents a job that has exhausted its retry budget and been
// archived to the dead letter store for inspection or replay.
type Entry struct {
	ID         id.DeadLetterID   `json:"id"`
	JobID      id.JobID          `json:"job_id"`
	TenantID   string            `json:"tenant_id"`
	OwnerID    string            `json:"owner_id,omitempty"`
	Type       job.Type          `json:"type"`
	Payload    []byte            `json:"payload"`
	Priority   job.Priority      `json:"priority"`
	Error      string            `json:"error"`
	Attempt    int               `json:"attempt"`
	MaxRetries int               `json:"max_retries"`
	Timeout    time.Duration     `json:"timeout"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	FailedAt   time.Time         `json:"failed_at"`
	ReplayedAt *time.Time        `json:"replayed_at,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}
