// Package ext defines the extension system for conveyor. Extensions are
// notified of lifecycle events (job submitted, completed, failed, etc.)
// and can react to them — logging, metrics, audit trails.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/timottowitz/conveyor/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobSubmitted is called after a job is accepted into the queue.
type JobSubmitted interface {
	OnJobSubmitted(ctx context.Context, j *job.Job) error
}

// JobStarted is called when a worker begins executing an attempt.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobCompleted is called when a job finishes successfully.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobFailed is called when a job fails terminally.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, jobErr error) error
}

// JobRetrying is called when a failed attempt is granted a retry.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error
}

// JobCancelled is called when a job reaches the cancelled status.
type JobCancelled interface {
	OnJobCancelled(ctx context.Context, j *job.Job) error
}

// JobDeadLettered is called when an exhausted job is archived to the dead
// letter store.
type JobDeadLettered interface {
	OnJobDeadLettered(ctx context.Context, j *job.Job, jobErr error) error
}

// ──────────────────────────────────────────────────
// Other hooks
// ──────────────────────────────────────────────────

// Shutdown is called when the queue is shutting down gracefully.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
