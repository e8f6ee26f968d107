// Package conveyor is a multi-tenant background job queue. It decouples
// slow, failure-prone work (bulk content storage, bulk assignment,
// long-running analysis) from the synchronous request path: callers submit
// a job descriptor and immediately receive a tracking handle; the queue
// guarantees the job eventually runs, retries transient failures with
// backoff, enforces per-attempt timeouts, and supports cooperative
// cancellation.
//
// The root package holds the Queue coordinator, configuration, and the
// error taxonomy. Subsystems live in their own packages:
//
//   - job: the Job entity, state machine, store contract, handler registry
//   - scheduler: priority + tenant-fair dispatch loop
//   - worker: bounded execution pool and the per-attempt executor
//   - retry / backoff: retry policy and delay strategies
//   - cancel: cooperative cancellation controller
//   - status: read-only query surface for polling callers
//   - deadletter: archive and replay for exhausted jobs
//   - store/...: pluggable persistence backends (memory, postgres, redis)
//
// Use the engine package to wire everything together. There is no
// process-wide queue instance: construct one explicitly and pass it to the
// layers that need it.
package conveyor
