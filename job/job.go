package job

import (
	"fmt"
	"time"

	"github.com/timottowitz/conveyor"
	"github.com/timottowitz/conveyor/id"
)

// Status represents the lifecycle state of a job.
type Status string

const (
	// StatusPending means the job has been accepted and is waiting to be
	// claimed by the scheduler.
	StatusPending Status = "pending"
	// StatusQueued means the scheduler has claimed the job for dispatch,
	// or a failed job has been re-queued for a retry attempt.
	StatusQueued Status = "queued"
	// StatusRunning means a worker is currently executing the job.
	StatusRunning Status = "running"
	// StatusCompleted means the job finished successfully.
	StatusCompleted Status = "completed"
	// StatusFailed means the job failed and will not be retried.
	StatusFailed Status = "failed"
	// StatusCancelled means the job was explicitly cancelled.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is a terminal status. Terminal jobs never
// transition again and become eligible for deletion by their owner.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// transitions enumerates the edges of the job state machine. Cancelled is
// additionally reachable from every non-terminal status, handled in
// CanTransition. The failed→queued edge is the retry path.
var transitions = map[Status][]Status{
	StatusPending: {StatusQueued},
	StatusQueued:  {StatusRunning},
	StatusRunning: {StatusCompleted, StatusFailed},
	StatusFailed:  {StatusQueued},
}

// CanTransition reports whether from→to is a valid edge of the state
// machine.
func CanTransition(from, to Status) bool {
	if to == StatusCancelled {
		return !from.Terminal()
	}
	// failed is terminal unless the retry manager grants the failed→queued
	// edge, which is listed explicitly.
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Priority is the caller-declared urgency class affecting dequeue order.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// priorityRanks orders priorities for scheduling. Higher ranks dequeue first.
var priorityRanks = map[Priority]int{
	PriorityLow:    0,
	PriorityNormal: 1,
	PriorityHigh:   2,
	PriorityUrgent: 3,
}

// Rank returns the numeric scheduling rank of p. Unknown priorities rank
// below low so they never jump the queue.
func (p Priority) Rank() int { return priorityRanks[p] }

// Valid reports whether p is a member of the closed priority set.
func (p Priority) Valid() bool {
	_, ok := priorityRanks[p]
	return ok
}

// Type identifies which registered handler executes a job. The set of types
// is closed at startup by handler registration.
type Type string

// Job represents a single unit of asynchronous work. Payload is opaque to
// the queue and immutable after creation. Every field mutation after Create
// goes through Store.CompareAndTransition keyed on Version.
type Job struct {
	ID       id.JobID `json:"id"`
	TenantID string   `json:"tenant_id"`
	OwnerID  string   `json:"owner_id"`
	Type     Type     `json:"type"`
	Payload  []byte   `json:"payload"`

	Priority   Priority      `json:"priority"`
	Status     Status        `json:"status"`
	Attempt    int           `json:"attempt"`
	MaxRetries int           `json:"max_retries"`
	Timeout    time.Duration `json:"timeout"`

	// RunAt is the earliest time the job is eligible for dispatch. Retries
	// re-queue with RunAt pushed into the future by the backoff delay.
	RunAt time.Time `json:"run_at"`

	// DedupeKey is an optional caller-derived idempotency key. Bulk
	// submission with SkipExisting refuses to create a second non-terminal
	// job with the same (type, dedupe key) pair.
	DedupeKey string `json:"dedupe_key,omitempty"`

	// Metadata is an opaque key/value bag for caller bookkeeping. The queue
	// writes only the batch correlation and replay linkage keys.
	Metadata map[string]string `json:"metadata,omitempty"`

	LastError string `json:"last_error,omitempty"`

	// Version is the optimistic-concurrency counter. It increments on every
	// successful CompareAndTransition; a stale expected version is rejected
	// with ErrVersionConflict.
	Version int64 `json:"version"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Terminal reports whether the job has reached a terminal status.
func (j *Job) Terminal() bool { return j.Status.Terminal() }

// Clone returns a deep copy of the job. Stores hand out clones so callers
// can mutate without racing the store's canonical record.
func (j *Job) Clone() *Job {
	cp := *j
	if j.Payload != nil {
		cp.Payload = append([]byte(nil), j.Payload...)
	}
	if j.Metadata != nil {
		cp.Metadata = make(map[string]string, len(j.Metadata))
		for k, v := range j.Metadata {
			cp.Metadata[k] = v
		}
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// Transition moves the job to a new status, enforcing the state machine.
// Terminal statuses stamp CompletedAt. The caller applies this inside a
// CompareAndTransition mutation so the edge check and the version check
// land atomically.
func (j *Job) Transition(to Status) error {
	if !CanTransition(j.Status, to) {
		return fmt.Errorf("%w: %s to %s", conveyor.ErrInvalidTransition, j.Status, to)
	}
	j.Status = to
	if to.Terminal() {
		now := time.Now().UTC()
		j.CompletedAt = &now
	}
	return nil
}
