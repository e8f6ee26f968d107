package job

import "context"

// Definition is a typed job definition with a handler function.
// T is the payload type (must be JSON-serializable).
type Definition[T any] struct {
	// Type is the unique identifier for this job kind.
	Type Type

	// Handler is the function that processes the job payload. The context
	// carries the attempt deadline and the job's cancellation token; the
	// handler must observe ctx.Done() for cancellation to take effect.
	Handler func(ctx context.Context, payload T) error

	// Opts configures retries, priority, and timeout defaults for jobs of
	// this type. Per-submission options override them.
	Opts Options
}

// NewDefinition creates a typed job definition.
func NewDefinition[T any](t Type, handler func(ctx context.Context, payload T) error, opts ...Option) *Definition[T] {
	def := &Definition[T]{
		Type:    t,
		Handler: handler,
		Opts:    DefaultOptions(),
	}
	for _, opt := range opts {
		opt(&def.Opts)
	}
	return def
}
