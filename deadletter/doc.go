// Package deadletter provides the archive for jobs that have exhausted
// their retry budget. It supports inspection, replay, and purging.
//
// When a job fails terminally with no retries remaining, the executor
// calls [Service.Push] to archive it. The original payload, error message,
// and attempt counts are preserved for debugging.
//
// # Entry
//
// An [Entry] captures:
//   - JobID / TenantID / Type: original job identity
//   - Payload: the raw JSON payload at time of failure
//   - Error: the final error message
//   - Attempt / MaxRetries: exhausted retry budget
//   - FailedAt: when the terminal failure occurred
//   - ReplayedAt: set when the entry is replayed (nil if not yet replayed)
//
// # Service
//
// [Service] wraps the dead letter store with high-level operations:
//
//	svc := deadletter.NewService(store, jobStore)
//
//	// Push is called automatically by the executor on terminal failure.
//	svc.Push(ctx, failedJob, err)
//
//	// Access the underlying store for list/get/purge/count.
//	svc.Store().ListDeadLetters(ctx, tenantID, deadletter.ListOpts{Limit: 50})
//
// # Replay
//
// Replaying an entry resubmits the original job as a fresh pending job
// with a new ID and a zeroed attempt counter. The new job's metadata
// records the original job ID under "replayed_from", and the entry's
// ReplayedAt timestamp is set.
//
// All operations are tenant-scoped: an entry belonging to another tenant
// behaves exactly like a missing one.
package deadletter
