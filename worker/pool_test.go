package worker_test

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/timottowitz/conveyor/cancel"
	"github.com/timottowitz/conveyor/ext"
	"github.com/timottowitz/conveyor/job"
	"github.com/timottowitz/conveyor/store/memory"
	"github.com/timottowitz/conveyor/tenant"
	"github.com/timottowitz/conveyor/worker"
)

func newTestPool(t *testing.T, s *memory.Store, reg *job.Registry, buffer int) (*worker.Pool, chan *job.Job) {
	t.Helper()
	in := make(chan *job.Job, buffer)
	e := newExecutor(s, reg, ext.NewRegistry(slog.Default()))
	p := worker.NewPool(
		in, e,
		tenant.NewManager(0, 0),
		cancel.NewRegistry(),
		slog.Default(),
		worker.WithPoolConcurrency(2),
	)
	return p, in
}

func TestPool_StartStop(t *testing.T) {
	s := memory.New()
	p, _ := newTestPool(t, s, job.NewRegistry(), 1)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err) // second start is a no-op
	}

	ctx, cancelFn := context.WithTimeout(context.Background(), time.Second)
	defer cancelFn()
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestPool_ProcessesJobs(t *testing.T) {
	s := memory.New()
	reg := job.NewRegistry()

	var ran atomic.Int32
	job.RegisterDefinition(reg, job.NewDefinition("ok", func(_ context.Context, _ struct{}) error {
		ran.Add(1)
		return nil
	}))

	p, in := newTestPool(t, s, reg, 4)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		ctx, cancelFn := context.WithTimeout(context.Background(), time.Second)
		defer cancelFn()
		_ = p.Stop(ctx)
	}()

	first := queuedJob(t, s, "ok", 0)
	second := queuedJob(t, s, "ok", 0)
	in <- first
	in <- second

	deadline := time.Now().Add(2 * time.Second)
	for ran.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("handler ran %d times, want 2", ran.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}

	for _, j := range []*job.Job{first, second} {
		got, err := s.Get(context.Background(), "acme", j.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Status != job.StatusCompleted {
			t.Errorf("job %s: Status = %q, want completed", j.ID, got.Status)
		}
	}
}

func TestPool_ReleasesTenantSlots(t *testing.T) {
	s := memory.New()
	reg := job.NewRegistry()

	job.RegisterDefinition(reg, job.NewDefinition("ok", func(_ context.Context, _ struct{}) error {
		return nil
	}))

	in := make(chan *job.Job, 4)
	limits := tenant.NewManager(0, 1)
	e := newExecutor(s, reg, ext.NewRegistry(slog.Default()))
	p := worker.NewPool(in, e, limits, cancel.NewRegistry(), slog.Default())
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		ctx, cancelFn := context.WithTimeout(context.Background(), time.Second)
		defer cancelFn()
		_ = p.Stop(ctx)
	}()

	// Each dispatch holds a tenant slot until the pool releases it. With a
	// per-tenant cap of one, processing three jobs proves release happens.
	for range 3 {
		j := queuedJob(t, s, "ok", 0)
		acquireBy := time.Now().Add(2 * time.Second)
		for !limits.Acquire("acme") {
			if time.Now().After(acquireBy) {
				t.Fatal("tenant slot not released from previous job")
			}
			time.Sleep(5 * time.Millisecond)
		}
		in <- j

		deadline := time.Now().Add(2 * time.Second)
		for {
			got, err := s.Get(context.Background(), "acme", j.ID)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got.Status == job.StatusCompleted {
				break
			}
			if time.Now().After(deadline) {
				t.Fatalf("job %s stuck in %q", j.ID, got.Status)
			}
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func TestPool_StopDrainsInFlight(t *testing.T) {
	s := memory.New()
	reg := job.NewRegistry()

	started := make(chan struct{})
	var finished atomic.Bool
	job.RegisterDefinition(reg, job.NewDefinition("slow", func(_ context.Context, _ struct{}) error {
		close(started)
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
		return nil
	}))

	p, in := newTestPool(t, s, reg, 1)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	in <- queuedJob(t, s, "slow", 0)
	<-started

	ctx, cancelFn := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelFn()
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !finished.Load() {
		t.Error("Stop returned before the in-flight job finished")
	}
}
