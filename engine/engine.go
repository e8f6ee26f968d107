package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/timottowitz/conveyor"
	"github.com/timottowitz/conveyor/backoff"
	"github.com/timottowitz/conveyor/cancel"
	"github.com/timottowitz/conveyor/deadletter"
	"github.com/timottowitz/conveyor/ext"
	"github.com/timottowitz/conveyor/id"
	"github.com/timottowitz/conveyor/job"
	mw "github.com/timottowitz/conveyor/middleware"
	"github.com/timottowitz/conveyor/observability"
	"github.com/timottowitz/conveyor/retry"
	"github.com/timottowitz/conveyor/scheduler"
	"github.com/timottowitz/conveyor/status"
	"github.com/timottowitz/conveyor/tenant"
	"github.com/timottowitz/conveyor/worker"
)

// Engine wraps a Queue with typed subsystem access.
// Use Build() to create one from a Queue.
type Engine struct {
	q           *conveyor.Queue
	extensions  *ext.Registry
	registry    *job.Registry
	jobStore    job.Store
	deadletters *deadletter.Service
	statusSvc   *status.Service
	limits      *tenant.Manager
	signals     *cancel.Registry
	controller  *cancel.Controller
	scheduler   *scheduler.Scheduler
	pool        *worker.Pool
	bo          backoff.Strategy
	mws         []mw.Middleware
	tenantCaps  []tenant.Limit
	logger      *slog.Logger

	// Per-type submission defaults captured at registration.
	mu       sync.RWMutex
	defaults map[job.Type]job.Options

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware adds middleware to the engine's chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithBackoff sets the retry backoff strategy for the engine.
// If not set, backoff.DefaultStrategy() (exponential with jitter) is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) {
		eng.bo = b
	}
}

// WithTenantLimit overrides the concurrency cap for specific tenants.
// Tenants not listed fall back to the queue's default per-tenant cap.
func WithTenantLimit(limits ...tenant.Limit) Option {
	return func(eng *Engine) {
		eng.tenantCaps = append(eng.tenantCaps, limits...)
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// When set, the tracing middleware uses this provider instead of the global
// one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// When set, both the metrics middleware and the observability extension use
// this provider instead of the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine from an existing Queue.
// The Queue's store must implement job.Store and deadletter.Store.
func Build(q *conveyor.Queue, opts ...Option) (*Engine, error) {
	logger := q.Logger()
	store := q.Store()

	if store == nil {
		return nil, conveyor.ErrNoStore
	}

	js, ok := store.(job.Store)
	if !ok {
		return nil, fmt.Errorf("conveyor: store does not implement job.Store")
	}
	ds, ok := store.(deadletter.Store)
	if !ok {
		return nil, fmt.Errorf("conveyor: store does not implement deadletter.Store")
	}

	eng := &Engine{
		q:          q,
		extensions: ext.NewRegistry(logger),
		registry:   job.NewRegistry(),
		jobStore:   js,
		defaults:   make(map[job.Type]job.Options),
		logger:     logger,
	}

	for _, opt := range opts {
		opt(eng)
	}

	if eng.bo == nil {
		eng.bo = backoff.DefaultStrategy()
	}

	config := q.Config()

	eng.deadletters = deadletter.NewService(ds, js)
	eng.statusSvc = status.NewService(js)
	eng.limits = tenant.NewManager(config.Concurrency, config.TenantConcurrency, eng.tenantCaps...)
	eng.signals = cancel.NewRegistry()
	eng.controller = cancel.NewController(js, eng.signals, logger)

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer("github.com/timottowitz/conveyor"))
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter("github.com/timottowitz/conveyor"))
	} else {
		metricsMw = mw.Metrics()
	}

	// Register the observability metrics extension.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		obsExt = observability.NewMetricsExtensionWithMeter(
			eng.meterProvider.Meter("github.com/timottowitz/conveyor/observability"))
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	// Default middleware stack: recover → tracing → metrics → logging →
	// tenancy → timeout.
	defaultMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Tenancy(),
		mw.Timeout(logger),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	policy := retry.NewPolicy(eng.bo)
	executor := worker.NewExecutor(
		eng.registry, eng.extensions, js, eng.deadletters,
		policy, config.LastErrorLimit, logger, allMws...,
	)

	eng.scheduler = scheduler.New(js, eng.limits, logger,
		scheduler.WithTenantSlice(config.TenantSlice),
		scheduler.WithPollInterval(config.PollInterval),
		scheduler.WithBuffer(config.Concurrency),
	)
	eng.pool = worker.NewPool(
		eng.scheduler.Jobs(), executor, eng.limits, eng.signals, logger,
		worker.WithPoolConcurrency(config.Concurrency),
	)

	// Wire back into the Queue. The scheduler registers first so shutdown
	// stops it before draining the pool.
	q.AddRunner(eng.scheduler)
	q.AddRunner(eng.pool)
	q.SetExtensions(eng.extensions)

	return eng, nil
}

// Register registers a typed job definition with the engine. The
// definition's options become submission defaults for its type.
func Register[T any](eng *Engine, def *job.Definition[T]) {
	job.RegisterDefinition(eng.registry, def)
	opts := def.Opts
	if opts.Timeout <= 0 {
		// A definition without its own deadline inherits the queue default.
		// Submissions themselves must carry a positive timeout.
		opts.Timeout = eng.q.Config().DefaultTimeout
	}
	eng.mu.Lock()
	eng.defaults[def.Type] = opts
	eng.mu.Unlock()
}

// SubmitRequest carries one job submission.
type SubmitRequest struct {
	// TenantID scopes the job. Required.
	TenantID string
	// OwnerID identifies the submitting principal; only the owner may
	// cancel or delete the job. Required.
	OwnerID string
	// Type selects the registered handler. Required.
	Type job.Type
	// Payload is the serialized job input, opaque to the queue.
	Payload []byte
	// Opts override the type's registered defaults.
	Opts []job.Option
}

// Submit validates, serializes, and enqueues a typed payload.
func Submit[T any](ctx context.Context, eng *Engine, tenantID, ownerID string, t job.Type, payload T, opts ...job.Option) (*job.Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for job %q: %w", t, err)
	}
	return eng.SubmitRaw(ctx, SubmitRequest{
		TenantID: tenantID,
		OwnerID:  ownerID,
		Type:     t,
		Payload:  data,
		Opts:     opts,
	})
}

// SubmitRaw validates and enqueues a job with a pre-serialized payload.
// The job starts in pending status and becomes eligible at its RunAt time.
func (eng *Engine) SubmitRaw(ctx context.Context, req SubmitRequest) (*job.Job, error) {
	j, err := eng.buildJob(req)
	if err != nil {
		return nil, err
	}
	if err := eng.jobStore.Create(ctx, j); err != nil {
		return nil, err
	}
	eng.extensions.EmitJobSubmitted(ctx, j)
	return j, nil
}

// buildJob validates a request and materializes the pending job.
func (eng *Engine) buildJob(req SubmitRequest) (*job.Job, error) {
	if req.TenantID == "" {
		return nil, conveyor.Validation("tenant_id", "required")
	}
	if req.OwnerID == "" {
		return nil, conveyor.Validation("owner_id", "required")
	}
	if req.Type == "" {
		return nil, conveyor.Validation("type", "required")
	}
	if _, ok := eng.registry.Get(req.Type); !ok {
		return nil, conveyor.Validation("type", fmt.Sprintf("no handler registered for %q", req.Type))
	}

	eng.mu.RLock()
	jobOpts, ok := eng.defaults[req.Type]
	eng.mu.RUnlock()
	if !ok {
		jobOpts = job.DefaultOptions()
	}
	// The defaults entry is shared across submissions of this type; clone
	// the metadata map so per-submission writes never reach it.
	jobOpts.Metadata = maps.Clone(jobOpts.Metadata)
	for _, opt := range req.Opts {
		opt(&jobOpts)
	}

	if !jobOpts.Priority.Valid() {
		return nil, conveyor.Validation("priority", fmt.Sprintf("unknown priority %q", jobOpts.Priority))
	}
	if jobOpts.MaxRetries < 0 {
		return nil, conveyor.Validation("max_retries", "must be >= 0")
	}
	if jobOpts.Timeout <= 0 {
		return nil, conveyor.Validation("timeout", "must be positive")
	}

	now := time.Now().UTC()
	runAt := now
	if !jobOpts.RunAt.IsZero() {
		runAt = jobOpts.RunAt.UTC()
	}

	return &job.Job{
		ID:         id.NewJobID(),
		TenantID:   req.TenantID,
		OwnerID:    req.OwnerID,
		Type:       req.Type,
		Payload:    req.Payload,
		Priority:   jobOpts.Priority,
		Status:     job.StatusPending,
		MaxRetries: jobOpts.MaxRetries,
		Timeout:    jobOpts.Timeout,
		RunAt:      runAt,
		DedupeKey:  jobOpts.DedupeKey,
		Metadata:   jobOpts.Metadata,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// Cancel requests cancellation of a job on behalf of requester. Pending and
// queued jobs are cancelled before their handler ever runs; a running job's
// handler is asked to stop through its context. The job always finishes in
// cancelled status, never completed.
func (eng *Engine) Cancel(ctx context.Context, tenantID string, jobID id.JobID, requester string) error {
	if err := eng.controller.Cancel(ctx, tenantID, jobID, requester); err != nil {
		return err
	}
	if j, err := eng.jobStore.Get(ctx, tenantID, jobID); err == nil {
		eng.extensions.EmitJobCancelled(ctx, j)
	}
	return nil
}

// Delete removes a terminal job on behalf of requester. Non-terminal jobs
// cannot be deleted; cancel first.
func (eng *Engine) Delete(ctx context.Context, tenantID string, jobID id.JobID, requester string) error {
	j, err := eng.jobStore.Get(ctx, tenantID, jobID)
	if err != nil {
		return err
	}
	if requester != "" && j.OwnerID != requester {
		return conveyor.ErrForbidden
	}
	return eng.jobStore.Delete(ctx, tenantID, jobID)
}

// Get returns the status snapshot of a single job.
func (eng *Engine) Get(ctx context.Context, tenantID string, jobID id.JobID) (*status.Snapshot, error) {
	return eng.statusSvc.Get(ctx, tenantID, jobID)
}

// List returns status snapshots of the tenant's jobs matching the filter.
func (eng *Engine) List(ctx context.Context, tenantID string, f job.Filter) ([]*status.Snapshot, error) {
	return eng.statusSvc.List(ctx, tenantID, f)
}

// Start begins job processing.
func (eng *Engine) Start(ctx context.Context) error {
	return eng.q.Start(ctx)
}

// Stop gracefully shuts down the engine. When ctx carries no deadline the
// queue's shutdown timeout applies.
func (eng *Engine) Stop(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancelFn context.CancelFunc
		ctx, cancelFn = context.WithTimeout(ctx, eng.q.Config().ShutdownTimeout)
		defer cancelFn()
	}
	return eng.q.Stop(ctx)
}

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the job registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Queue returns the underlying Queue.
func (eng *Engine) Queue() *conveyor.Queue { return eng.q }

// DeadLetters returns the dead letter service for inspection and replay.
func (eng *Engine) DeadLetters() *deadletter.Service { return eng.deadletters }

// Limits returns the tenant concurrency manager.
func (eng *Engine) Limits() *tenant.Manager { return eng.limits }

// WorkerID returns the identity of this process's worker pool.
func (eng *Engine) WorkerID() id.WorkerID { return eng.pool.WorkerID() }

// notTerminal is the status set used by dedupe lookups.
var notTerminal = []job.Status{job.StatusPending, job.StatusQueued, job.StatusRunning}

// hasNonTerminalDuplicate reports whether the tenant already has a live job
// with the same (type, dedupe key) pair.
func (eng *Engine) hasNonTerminalDuplicate(ctx context.Context, tenantID string, t job.Type, key string) (id.JobID, bool, error) {
	existing, err := eng.jobStore.ListByTenant(ctx, tenantID, job.Filter{
		Statuses:  notTerminal,
		Types:     []job.Type{t},
		DedupeKey: key,
		Limit:     1,
	})
	if err != nil {
		return id.JobID{}, false, err
	}
	if len(existing) == 0 {
		return id.JobID{}, false, nil
	}
	return existing[0].ID, true, nil
}
