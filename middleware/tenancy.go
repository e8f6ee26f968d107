package middleware

import (
	"context"

	"github.com/timottowitz/conveyor/job"
	"github.com/timottowitz/conveyor/tenancy"
)

// Tenancy returns middleware that restores the submitting tenant and owner
// from the job into the context. This ensures handlers see the same identity
// as the original submit caller.
func Tenancy() Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		ctx = tenancy.Restore(ctx, j.TenantID, j.OwnerID)
		return next(ctx)
	}
}
