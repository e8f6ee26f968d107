// Package job defines the Job entity, its state machine, the persistence
// contract, and the typed handler registry.
//
// # Job Entity
//
// A [Job] is a single unit of asynchronous work scoped to a tenant. Its
// lifecycle is:
//
//	pending → queued → running → {completed | failed | cancelled}
//
// plus failed → queued when the retry policy grants another attempt.
// Cancelled is reachable from any non-terminal status. [CanTransition]
// encodes the edges; [Job.Transition] enforces them.
//
// # Optimistic Concurrency
//
// Every mutation after creation goes through
// [Store.CompareAndTransition], keyed on the job's Version counter. A
// component observing a stale version gets ErrVersionConflict and must
// re-read; this removes the check-then-act race between, for example, a
// cancellation request and the scheduler's claim.
//
// # Typed Handlers
//
// Job types form a closed set: each [Type] is bound to a [Definition]
// at startup via [RegisterDefinition], which wraps the typed handler in
// JSON payload decoding. Submitting an unregistered type is rejected at
// the submission boundary.
//
// # Error Classification
//
// Handlers report failures as transient (retryable) or permanent via
// [Transient] and [Permanent]. Unclassified errors default to transient.
package job
