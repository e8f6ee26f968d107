package middleware

import (
	"context"
	"errors"
	"log/slog"

	"github.com/timottowitz/conveyor/job"
)

// Timeout returns middleware that enforces a per-job execution deadline.
// If the job has a non-zero Timeout, a context.WithTimeout wraps the handler
// call. When the deadline elapses the attempt is abandoned immediately and
// recorded as a *job.TimeoutError, which classifies as transient so it can
// be retried under the job's retry budget. A handler that ignores its
// context and keeps running becomes a straggler: its eventual return value
// is discarded, and any outcome it would have produced loses the version
// race against the already-recorded timeout.
func Timeout(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		if j.Timeout <= 0 {
			return next(ctx)
		}

		logger.Debug("job timeout set",
			slog.String("job_id", j.ID.String()),
			slog.Duration("timeout", j.Timeout),
		)
		tctx, cancel := context.WithTimeout(ctx, j.Timeout)
		defer cancel()

		// Buffered so the straggler goroutine can exit after a late return.
		done := make(chan error, 1)
		panicked := make(chan any, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					panicked <- r
				}
			}()
			done <- next(tctx)
		}()

		select {
		case r := <-panicked:
			// Surface on the calling goroutine so the recover middleware
			// sees it. A straggler that panics after the deadline lands in
			// the buffered channel and is discarded with the attempt.
			panic(r)
		case err := <-done:
			if err != nil && errors.Is(err, context.DeadlineExceeded) && tctx.Err() == context.DeadlineExceeded {
				// Only translate a deadline that this middleware imposed. A
				// cancellation from the parent context passes through
				// untouched.
				if ctx.Err() == nil {
					return &job.TimeoutError{Timeout: j.Timeout}
				}
			}
			return err
		case <-tctx.Done():
			if ctx.Err() != nil {
				// Parent cancellation, not the attempt deadline.
				return ctx.Err()
			}
			logger.Warn("attempt abandoned at deadline",
				slog.String("job_id", j.ID.String()),
				slog.Duration("timeout", j.Timeout),
			)
			return &job.TimeoutError{Timeout: j.Timeout}
		}
	}
}
