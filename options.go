package conveyor

import (
	"context"
	"log/slog"
	"time"
)

// Option configures a Queue.
type Option func(*Queue) error

// Storer is the minimal store interface held by the Queue. It covers
// lifecycle operations only; the full job.Store contract is consumed by the
// subsystem layers, which do not create an import cycle with this package.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// runner is an internal interface for subsystem lifecycle (scheduler, pool).
type runner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// shutdownEmitter is an internal interface for extension shutdown events.
type shutdownEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Queue is the coordinator for background job processing. Create one with
// New and functional options, then wire subsystems with engine.Build. The
// Queue holds subsystem references via internal interfaces to avoid import
// cycles; it is passed explicitly to the layers that need it rather than
// exposed through package-level state.
type Queue struct {
	config     Config
	logger     *slog.Logger
	store      Storer
	runners    []runner
	extensions shutdownEmitter

	started bool
}

// New creates a Queue with the given options.
func New(opts ...Option) (*Queue, error) {
	q := &Queue{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(q); err != nil {
			return nil, err
		}
	}
	return q, nil
}

// Logger returns the queue's logger.
func (q *Queue) Logger() *slog.Logger { return q.logger }

// Store returns the queue's store.
func (q *Queue) Store() Storer { return q.store }

// Config returns a copy of the queue's configuration.
func (q *Queue) Config() Config { return q.config }

// AddRunner registers a subsystem lifecycle (called by the engine package).
// Runners are started in registration order and stopped in reverse.
func (q *Queue) AddRunner(r runner) { q.runners = append(q.runners, r) }

// SetExtensions sets the extension emitter (called by the engine package).
func (q *Queue) SetExtensions(e shutdownEmitter) { q.extensions = e }

// Start begins job processing.
func (q *Queue) Start(ctx context.Context) error {
	if len(q.runners) == 0 {
		return ErrNoStore
	}
	for _, r := range q.runners {
		if err := r.Start(ctx); err != nil {
			return err
		}
	}
	q.started = true
	return nil
}

// Stop gracefully shuts down the queue. Runners stop in reverse order so
// the scheduler stops feeding work before the pool drains.
func (q *Queue) Stop(ctx context.Context) error {
	if q.started {
		for i := len(q.runners) - 1; i >= 0; i-- {
			if err := q.runners[i].Stop(ctx); err != nil {
				q.logger.Error("runner stop error", "error", err)
			}
		}
	}
	if q.extensions != nil {
		q.extensions.EmitShutdown(ctx)
	}
	if q.store != nil {
		return q.store.Close()
	}
	return nil
}

// WithConcurrency sets the maximum number of concurrently executing jobs.
func WithConcurrency(n int) Option {
	return func(q *Queue) error {
		q.config.Concurrency = n
		return nil
	}
}

// WithTenantConcurrency sets the default per-tenant cap on running jobs.
func WithTenantConcurrency(n int) Option {
	return func(q *Queue) error {
		q.config.TenantConcurrency = n
		return nil
	}
}

// WithTenantSlice sets how many jobs one tenant may claim per round-robin
// pass.
func WithTenantSlice(n int) Option {
	return func(q *Queue) error {
		q.config.TenantSlice = n
		return nil
	}
}

// WithPollInterval sets how often the scheduler polls for eligible work.
func WithPollInterval(d time.Duration) Option {
	return func(q *Queue) error {
		q.config.PollInterval = d
		return nil
	}
}

// WithDefaultTimeout sets the per-attempt deadline used when a submission
// does not specify one.
func WithDefaultTimeout(d time.Duration) Option {
	return func(q *Queue) error {
		q.config.DefaultTimeout = d
		return nil
	}
}

// WithDefaultMaxRetries sets the retry budget used when a submission does
// not specify one.
func WithDefaultMaxRetries(n int) Option {
	return func(q *Queue) error {
		q.config.DefaultMaxRetries = n
		return nil
	}
}

// WithLogger sets the structured logger for the queue.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) error {
		q.logger = l
		return nil
	}
}

// WithStore sets the persistence backend for the queue. The store must
// implement Storer at minimum; typically it also implements job.Store and
// deadletter.Store.
func WithStore(s Storer) Option {
	return func(q *Queue) error {
		q.store = s
		return nil
	}
}
