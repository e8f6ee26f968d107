// Package scheduler claims eligible jobs from the store and hands them to
// the worker pool. Claims go through the store's version check, so any
// number of scheduler instances can poll the same store without dispatching
// a job twice at the same version.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/timottowitz/conveyor"
	"github.com/timottowitz/conveyor/job"
	"github.com/timottowitz/conveyor/tenant"
)

// Scheduler polls the store for eligible jobs and dispatches them to the
// out channel in priority order, visiting tenants round-robin so a single
// busy tenant cannot starve the others.
type Scheduler struct {
	store        job.Store
	limits       *tenant.Manager
	logger       *slog.Logger
	slice        int
	pollInterval time.Duration

	out    chan *job.Job
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool

	// cursor rotates the round-robin starting tenant across rounds.
	cursor int
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTenantSlice sets how many jobs one tenant may claim per round.
func WithTenantSlice(n int) Option {
	return func(s *Scheduler) { s.slice = n }
}

// WithPollInterval sets how often the scheduler polls for eligible work.
func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.pollInterval = d }
}

// WithBuffer sets the capacity of the dispatch channel. Usually the worker
// pool's concurrency.
func WithBuffer(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.out = make(chan *job.Job, n)
		}
	}
}

// New creates a Scheduler.
func New(store job.Store, limits *tenant.Manager, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:        store,
		limits:       limits,
		logger:       logger,
		slice:        2,
		pollInterval: 250 * time.Millisecond,
		out:          make(chan *job.Job, 16),
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Jobs returns the channel of claimed jobs for the worker pool to consume.
// Every job on the channel is already queued in the store; the worker's
// queued→running version check is what makes execution exactly-once even
// if a job is dispatched more than once.
func (s *Scheduler) Jobs() <-chan *job.Job { return s.out }

// Start launches the dispatch loop. It returns immediately.
func (s *Scheduler) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	s.running = true

	s.logger.Info("scheduler starting",
		slog.Int("tenant_slice", s.slice),
		slog.Duration("poll_interval", s.pollInterval),
	)

	s.wg.Add(1)
	go s.dispatchLoop()
	return nil
}

// Stop signals the dispatch loop to stop and waits for it to finish.
func (s *Scheduler) Stop(_ context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) dispatchLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.dispatchRound(context.Background())
		}
	}
}

// dispatchRound makes one fair pass over the active tenants. The starting
// tenant rotates each round so tenants ahead in sort order get no lasting
// advantage.
func (s *Scheduler) dispatchRound(ctx context.Context) {
	tenants, err := s.store.ActiveTenants(ctx)
	if err != nil {
		s.logger.Error("active tenants query failed", slog.String("error", err.Error()))
		return
	}
	if len(tenants) == 0 {
		return
	}

	start := s.cursor % len(tenants)
	s.cursor++

	now := time.Now().UTC()
	for i := range tenants {
		select {
		case <-s.stopCh:
			return
		default:
		}
		s.dispatchTenant(ctx, tenants[(start+i)%len(tenants)], now)
	}
}

// dispatchTenant claims up to the tenant's slice of eligible jobs and sends
// them to the out channel. The tenant slot acquired here is released by the
// worker after execution.
func (s *Scheduler) dispatchTenant(ctx context.Context, tenantID string, now time.Time) {
	jobs, err := s.store.ListByTenant(ctx, tenantID, job.Filter{
		Statuses:   []job.Status{job.StatusPending, job.StatusQueued},
		EligibleAt: now,
		Limit:      s.slice,
	})
	if err != nil {
		s.logger.Error("eligible jobs query failed",
			slog.String("tenant_id", tenantID),
			slog.String("error", err.Error()),
		)
		return
	}

	for _, j := range jobs {
		if !s.limits.Acquire(tenantID) {
			// Tenant or global cap reached; the remaining jobs wait for the
			// next round.
			return
		}

		claimed, claimErr := s.claim(ctx, j)
		if claimErr != nil {
			s.limits.Release(tenantID)
			if errors.Is(claimErr, conveyor.ErrVersionConflict) || errors.Is(claimErr, conveyor.ErrNotFound) {
				// Another scheduler or a cancellation got there first.
				continue
			}
			s.logger.Error("claim failed",
				slog.String("job_id", j.ID.String()),
				slog.String("error", claimErr.Error()),
			)
			continue
		}

		select {
		case s.out <- claimed:
		case <-s.stopCh:
			// The job stays queued and will be re-dispatched on restart.
			s.limits.Release(tenantID)
			return
		}
	}
}

// claim transitions a pending job to queued at the version the scheduler
// observed. A job already queued (a retry whose RunAt arrived) is claimed
// by the version bump alone.
func (s *Scheduler) claim(ctx context.Context, j *job.Job) (*job.Job, error) {
	return s.store.CompareAndTransition(ctx, j.ID, j.Version, func(cur *job.Job) error {
		if cur.Status == job.StatusPending {
			return cur.Transition(job.StatusQueued)
		}
		return nil
	})
}
