package worker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/timottowitz/conveyor/cancel"
	"github.com/timottowitz/conveyor/id"
	"github.com/timottowitz/conveyor/job"
	"github.com/timottowitz/conveyor/tenant"
)

// Pool manages a set of concurrent worker goroutines consuming dispatched
// jobs from the scheduler's channel and executing them through the Executor.
// Each attempt runs under a cancellable context registered with the cancel
// registry; the tenant slot acquired by the scheduler is released here after
// execution.
type Pool struct {
	in       <-chan *job.Job
	executor *Executor
	limits   *tenant.Manager
	signals  *cancel.Registry

	concurrency int
	workerID    id.WorkerID
	logger      *slog.Logger

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of concurrent worker goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// NewPool creates a worker pool consuming from the given dispatch channel.
func NewPool(
	in <-chan *job.Job,
	executor *Executor,
	limits *tenant.Manager,
	signals *cancel.Registry,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	p := &Pool{
		in:          in,
		executor:    executor,
		limits:      limits,
		signals:     signals,
		concurrency: 10,
		workerID:    id.NewWorkerID(),
		logger:      logger,
		stopCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.runLoop()
	}

	return nil
}

// Stop signals all workers to stop and waits for them to finish. If the
// context has a deadline, active attempts are cancelled when time runs out.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active attempts")
		p.signals.CancelAll(context.Canceled)
		p.wg.Wait()
	}

	return nil
}

// runLoop is run by each worker goroutine.
func (p *Pool) runLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		case j := <-p.in:
			p.run(j)
		}
	}
}

// run executes one dispatched job under a cancellable context and releases
// the tenant slot afterwards.
func (p *Pool) run(j *job.Job) {
	ctx, cancelFn := context.WithCancelCause(context.Background())
	p.signals.Track(j.ID, cancelFn)

	if err := p.executor.Execute(ctx, j); err != nil {
		p.logger.Debug("job attempt finished with error",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", string(j.Type)),
			slog.String("error", err.Error()),
		)
	}

	p.signals.Untrack(j.ID)
	cancelFn(nil)
	p.limits.Release(j.TenantID)
}
