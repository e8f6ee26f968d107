// Package cancel implements cooperative job cancellation. A Registry tracks
// the cancel function of every in-flight attempt; a Controller flips job
// status in the store and signals the running attempt's context. The store
// status is the source of truth — the context signal only asks the handler
// to stop early.
package cancel

import (
	"context"
	"sync"

	"github.com/timottowitz/conveyor/id"
)

// Registry tracks cancel functions for in-flight job attempts. The worker
// pool registers each attempt before execution and removes it after.
type Registry struct {
	mu     sync.Mutex
	active map[string]context.CancelCauseFunc
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{active: make(map[string]context.CancelCauseFunc)}
}

// Track associates a cancel function with a running job attempt.
func (r *Registry) Track(jobID id.JobID, fn context.CancelCauseFunc) {
	r.mu.Lock()
	r.active[jobID.String()] = fn
	r.mu.Unlock()
}

// Untrack removes a job's cancel function after its attempt finishes.
func (r *Registry) Untrack(jobID id.JobID) {
	r.mu.Lock()
	delete(r.active, jobID.String())
	r.mu.Unlock()
}

// Signal cancels the context of a running attempt with the given cause.
// Returns false if the job is not executing on this process.
func (r *Registry) Signal(jobID id.JobID, cause error) bool {
	r.mu.Lock()
	fn, ok := r.active[jobID.String()]
	r.mu.Unlock()

	if !ok {
		return false
	}
	fn(cause)
	return true
}

// CancelAll cancels every in-flight attempt with the given cause. Used
// when a shutdown deadline expires.
func (r *Registry) CancelAll(cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, fn := range r.active {
		fn(cause)
	}
}

// Active returns the number of attempts currently tracked.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
