// Package worker provides the job execution engine — an Executor that
// invokes registered handlers through middleware, and a Pool that manages
// concurrent worker goroutines consuming the scheduler's dispatch channel.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/timottowitz/conveyor"
	"github.com/timottowitz/conveyor/deadletter"
	"github.com/timottowitz/conveyor/ext"
	"github.com/timottowitz/conveyor/job"
	"github.com/timottowitz/conveyor/middleware"
	"github.com/timottowitz/conveyor/retry"
)

// Executor runs a single job attempt through middleware and the registered
// handler, then handles retry logic, dead letter push, status transitions,
// and lifecycle events. Every status write is a version-checked transition,
// so a stale dispatch or a concurrent cancellation loses cleanly.
type Executor struct {
	registry       *job.Registry
	extensions     *ext.Registry
	store          job.Store
	deadletters    *deadletter.Service
	policy         *retry.Policy
	mw             middleware.Middleware
	lastErrorLimit int
	logger         *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	registry *job.Registry,
	extensions *ext.Registry,
	store job.Store,
	deadletters *deadletter.Service,
	policy *retry.Policy,
	lastErrorLimit int,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		registry:       registry,
		extensions:     extensions,
		store:          store,
		deadletters:    deadletters,
		policy:         policy,
		mw:             middleware.Chain(mws...),
		lastErrorLimit: lastErrorLimit,
		logger:         logger,
	}
}

// Execute runs one attempt of a dispatched job.
// On success: marks completed, emits JobCompleted.
// On transient failure with budget remaining: re-queues with backoff,
// emits JobRetrying.
// On permanent failure or exhausted budget: marks failed, archives to the
// dead letter store, emits JobFailed + JobDeadLettered.
// A job whose version moved since dispatch is skipped without error.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	started, err := e.startAttempt(ctx, j)
	if err != nil {
		// Lost the claim: a duplicate dispatch, a cancellation, or a
		// deletion got there first.
		e.logger.Debug("attempt skipped",
			slog.String("job_id", j.ID.String()),
			slog.String("reason", err.Error()),
		)
		return nil
	}
	j = started

	e.extensions.EmitJobStarted(ctx, j)

	handler, ok := e.registry.Get(j.Type)
	if !ok {
		// Persisted job from a previous deploy whose handler no longer
		// exists. Never retry.
		return e.handleFailure(ctx, j, job.Permanentf("no handler registered for job type %q", j.Type))
	}

	start := time.Now()
	terminal := func(ctx context.Context) error {
		return handler(ctx, j.Payload)
	}
	execErr := e.mw(ctx, j, terminal)
	elapsed := time.Since(start)

	if execErr != nil {
		if errors.Is(context.Cause(ctx), conveyor.ErrCancelRequested) {
			// The controller already flipped the store record to cancelled;
			// the early return is all that is left to do.
			return nil
		}
		return e.handleFailure(ctx, j, execErr)
	}

	return e.handleSuccess(ctx, j, elapsed)
}

// startAttempt transitions the job to running at the dispatched version and
// stamps the attempt counter.
func (e *Executor) startAttempt(ctx context.Context, j *job.Job) (*job.Job, error) {
	return e.store.CompareAndTransition(ctx, j.ID, j.Version, func(cur *job.Job) error {
		if err := cur.Transition(job.StatusRunning); err != nil {
			return err
		}
		cur.Attempt++
		now := time.Now().UTC()
		cur.StartedAt = &now
		return nil
	})
}

// handleSuccess marks the job as completed and emits the lifecycle event.
func (e *Executor) handleSuccess(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	completed, err := e.store.CompareAndTransition(ctx, j.ID, j.Version, func(cur *job.Job) error {
		if transitionErr := cur.Transition(job.StatusCompleted); transitionErr != nil {
			return transitionErr
		}
		cur.LastError = ""
		return nil
	})
	if err != nil {
		return e.resolveConflict(ctx, j, err, "completion")
	}

	e.extensions.EmitJobCompleted(ctx, completed, elapsed)
	return nil
}

// handleFailure records the failure and either re-queues for a retry or
// archives the job to the dead letter store.
func (e *Executor) handleFailure(ctx context.Context, j *job.Job, handlerErr error) error {
	class := job.Classify(handlerErr)
	decision := e.policy.Decide(j.Attempt, j.MaxRetries, class)
	if !decision.Retry && class == job.ClassTransient && j.Attempt > j.MaxRetries {
		handlerErr = fmt.Errorf("%w: %w", conveyor.ErrRetriesExhausted, handlerErr)
	}
	lastError := e.sanitizeError(handlerErr)

	failed, err := e.store.CompareAndTransition(ctx, j.ID, j.Version, func(cur *job.Job) error {
		if transitionErr := cur.Transition(job.StatusFailed); transitionErr != nil {
			return transitionErr
		}
		cur.LastError = lastError
		return nil
	})
	if err != nil {
		return e.resolveConflict(ctx, j, err, "failure")
	}

	if decision.Retry {
		return e.scheduleRetry(ctx, failed, handlerErr, decision.Delay)
	}
	return e.sendToDeadLetter(ctx, failed, handlerErr)
}

// scheduleRetry re-queues a failed job with the backoff delay applied.
func (e *Executor) scheduleRetry(ctx context.Context, j *job.Job, handlerErr error, delay time.Duration) error {
	nextRunAt := time.Now().UTC().Add(delay)

	queued, err := e.store.CompareAndTransition(ctx, j.ID, j.Version, func(cur *job.Job) error {
		if transitionErr := cur.Transition(job.StatusQueued); transitionErr != nil {
			return transitionErr
		}
		cur.RunAt = nextRunAt
		cur.CompletedAt = nil
		return nil
	})
	if err != nil {
		return e.resolveConflict(ctx, j, err, "retry")
	}

	e.extensions.EmitJobRetrying(ctx, queued, queued.Attempt, nextRunAt)

	e.logger.Info("job scheduled for retry",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", string(j.Type)),
		slog.Int("attempt", queued.Attempt),
		slog.Int("max_retries", queued.MaxRetries),
		slog.Duration("delay", delay),
	)

	return fmt.Errorf("job %s attempt %d/%d: %w", j.Type, queued.Attempt, queued.MaxRetries+1, handlerErr)
}

// sendToDeadLetter archives a terminally failed job and emits events.
func (e *Executor) sendToDeadLetter(ctx context.Context, j *job.Job, handlerErr error) error {
	if e.deadletters != nil {
		if dlErr := e.deadletters.Push(ctx, j, handlerErr); dlErr != nil {
			e.logger.Error("failed to archive job to dead letter store",
				slog.String("job_id", j.ID.String()),
				slog.String("error", dlErr.Error()),
			)
		}
	}

	e.extensions.EmitJobFailed(ctx, j, handlerErr)
	e.extensions.EmitJobDeadLettered(ctx, j, handlerErr)

	e.logger.Warn("job failed terminally",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", string(j.Type)),
		slog.Int("attempt", j.Attempt),
		slog.String("error", handlerErr.Error()),
	)

	return handlerErr
}

// resolveConflict handles a version conflict on an outcome transition. The
// usual cause is a concurrent cancellation between handler return and the
// status write; a cancelled job needs no further action.
func (e *Executor) resolveConflict(ctx context.Context, j *job.Job, casErr error, stage string) error {
	if errors.Is(casErr, conveyor.ErrVersionConflict) || errors.Is(casErr, conveyor.ErrNotFound) {
		cur, getErr := e.store.Get(ctx, j.TenantID, j.ID)
		if getErr == nil && cur.Status == job.StatusCancelled {
			return nil
		}
	}
	e.logger.Error("failed to record attempt outcome",
		slog.String("job_id", j.ID.String()),
		slog.String("stage", stage),
		slog.String("error", casErr.Error()),
	)
	return casErr
}

// sanitizeError renders a handler error for storage, truncated to the
// configured limit so an unbounded error message cannot bloat the record.
func (e *Executor) sanitizeError(err error) string {
	msg := err.Error()
	if e.lastErrorLimit > 0 && len(msg) > e.lastErrorLimit {
		msg = msg[:e.lastErrorLimit]
	}
	return msg
}
