package job

import "time"

// Options configures per-job behavior such as retries, priority, and the
// per-attempt timeout.
type Options struct {
	// Priority determines dequeue ordering within a tenant.
	Priority Priority

	// MaxRetries is the maximum number of additional attempts after the
	// first.
	MaxRetries int

	// Timeout is the per-attempt execution deadline.
	Timeout time.Duration

	// RunAt schedules the job for future execution. Zero means immediate.
	RunAt time.Time

	// DedupeKey is an optional idempotency key; see Job.DedupeKey.
	DedupeKey string

	// Metadata seeds the job's caller bookkeeping bag.
	Metadata map[string]string
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		Priority:   PriorityNormal,
		MaxRetries: 3,
		Timeout:    5 * time.Minute,
	}
}

// Option is a functional option for configuring a job submission or
// definition.
type Option func(*Options)

// WithPriority sets the job priority.
func WithPriority(p Priority) Option {
	return func(o *Options) {
		o.Priority = p
	}
}

// WithMaxRetries sets the maximum number of retry attempts.
func WithMaxRetries(n int) Option {
	return func(o *Options) {
		o.MaxRetries = n
	}
}

// WithTimeout sets the per-attempt execution deadline.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// WithRunAt schedules the job for execution at a specific time.
func WithRunAt(t time.Time) Option {
	return func(o *Options) {
		o.RunAt = t
	}
}

// WithDedupeKey sets the idempotency key used by bulk deduplication.
func WithDedupeKey(k string) Option {
	return func(o *Options) {
		o.DedupeKey = k
	}
}

// WithMetadata merges entries into the job's metadata bag.
func WithMetadata(md map[string]string) Option {
	return func(o *Options) {
		if o.Metadata == nil {
			o.Metadata = make(map[string]string, len(md))
		}
		for k, v := range md {
			o.Metadata[k] = v
		}
	}
}
