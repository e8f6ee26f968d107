package middleware

import (
	"context"
	"log/slog"
	"runtime/debug"

	"github.com/timottowitz/conveyor/job"
)

// Recover returns middleware that recovers from panics in the handler chain.
// Panics are converted to permanent handler errors and logged with a stack
// trace. A panicking handler is assumed to be a code defect, so retrying it
// would fail the same way.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("job handler panicked",
					slog.String("job_type", string(j.Type)),
					slog.String("job_id", j.ID.String()),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				retErr = job.Permanentf("panic in job %s: %v", j.Type, r)
			}
		}()
		return next(ctx)
	}
}
