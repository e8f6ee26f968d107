package cancel

import (
	"errors"
	"fmt"
	"log/slog"

	"context"

	"github.com/timottowitz/conveyor"
	"github.com/timottowitz/conveyor/id"
	"github.com/timottowitz/conveyor/job"
)

// casRetries bounds the re-read loop when a cancel races other transitions.
const casRetries = 3

// Controller cancels jobs on behalf of their owners. Pending and queued
// jobs are cancelled immediately in the store; running jobs are marked
// cancelled and their attempt's context is signalled so the handler can
// stop early.
type Controller struct {
	store   job.Store
	signals *Registry
	logger  *slog.Logger
}

// NewController creates a cancellation controller.
func NewController(store job.Store, signals *Registry, logger *slog.Logger) *Controller {
	return &Controller{store: store, signals: signals, logger: logger}
}

// Cancel requests cancellation of a job. The requester must be the job's
// owner; an empty requester bypasses the ownership check for internal use.
//
// Returns ErrNotFound for unknown or cross-tenant jobs, ErrForbidden for a
// non-owner requester, and ErrInvalidTransition if the job is already
// terminal.
func (c *Controller) Cancel(ctx context.Context, tenantID string, jobID id.JobID, requester string) error {
	for attempt := 0; ; attempt++ {
		j, err := c.store.Get(ctx, tenantID, jobID)
		if err != nil {
			return err
		}
		if requester != "" && j.OwnerID != requester {
			return conveyor.ErrForbidden
		}
		if j.Terminal() {
			return fmt.Errorf("%w: %s to %s", conveyor.ErrInvalidTransition, j.Status, job.StatusCancelled)
		}

		wasRunning := j.Status == job.StatusRunning

		_, err = c.store.CompareAndTransition(ctx, jobID, j.Version, func(cur *job.Job) error {
			if transitionErr := cur.Transition(job.StatusCancelled); transitionErr != nil {
				return transitionErr
			}
			cur.LastError = conveyor.ErrCancelRequested.Error()
			return nil
		})
		if err == nil {
			if wasRunning {
				// Best-effort early stop; the handler may ignore it. The
				// store record is already cancelled either way.
				c.signals.Signal(jobID, conveyor.ErrCancelRequested)
			}
			c.logger.Info("job cancelled",
				slog.String("job_id", jobID.String()),
				slog.String("tenant_id", tenantID),
			)
			return nil
		}
		if errors.Is(err, conveyor.ErrVersionConflict) && attempt < casRetries {
			// The job transitioned under us (claimed, started, finished).
			// Re-read and retry against the fresh status.
			continue
		}
		return err
	}
}
