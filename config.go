package conveyor

import "time"

// Config holds configuration for the Queue.
type Config struct {
	// Concurrency is the maximum number of jobs executed concurrently
	// across all tenants.
	Concurrency int

	// TenantConcurrency is the default cap on simultaneously running jobs
	// per tenant. Zero means no per-tenant cap beyond Concurrency.
	// Individual tenants may be overridden via the tenant manager.
	TenantConcurrency int

	// TenantSlice is how many jobs the scheduler claims for one tenant
	// before moving to the next tenant in the round-robin. Larger slices
	// favor throughput, smaller slices favor fairness.
	TenantSlice int

	// PollInterval is how often the scheduler scans for eligible work when
	// the queue is drained.
	PollInterval time.Duration

	// ShutdownTimeout is the maximum time Stop waits for in-flight jobs
	// before cancelling them.
	ShutdownTimeout time.Duration

	// DefaultTimeout is the per-attempt execution deadline applied when a
	// submission does not specify one.
	DefaultTimeout time.Duration

	// DefaultMaxRetries is the retry budget applied when a submission does
	// not specify one.
	DefaultMaxRetries int

	// LastErrorLimit caps the stored length of a job's sanitized failure
	// description.
	LastErrorLimit int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:       10,
		TenantConcurrency: 4,
		TenantSlice:       2,
		PollInterval:      250 * time.Millisecond,
		ShutdownTimeout:   30 * time.Second,
		DefaultTimeout:    5 * time.Minute,
		DefaultMaxRetries: 3,
		LastErrorLimit:    512,
	}
}
