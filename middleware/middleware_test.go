package middleware_test

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/timottowitz/conveyor/id"
	"github.com/timottowitz/conveyor/job"
	"github.com/timottowitz/conveyor/middleware"
	"github.com/timottowitz/conveyor/tenancy"
)

func TestChain_ExecutionOrder(t *testing.T) {
	var order []string

	mw1 := func(ctx context.Context, _ *job.Job, next middleware.Handler) error {
		order = append(order, "mw1-before")
		err := next(ctx)
		order = append(order, "mw1-after")
		return err
	}

	mw2 := func(ctx context.Context, _ *job.Job, next middleware.Handler) error {
		order = append(order, "mw2-before")
		err := next(ctx)
		order = append(order, "mw2-after")
		return err
	}

	chain := middleware.Chain(mw1, mw2)
	j := &job.Job{Type: "test", ID: id.NewJobID()}
	handler := func(_ context.Context) error {
		order = append(order, "handler")
		return nil
	}

	err := chain(context.Background(), j, handler)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []string{"mw1-before", "mw2-before", "handler", "mw2-after", "mw1-after"}
	if len(order) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(order), order)
	}
	for i, want := range expected {
		if order[i] != want {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want)
		}
	}
}

func TestChain_Empty(t *testing.T) {
	chain := middleware.Chain()
	called := false
	handler := func(_ context.Context) error {
		called = true
		return nil
	}

	err := chain(context.Background(), &job.Job{ID: id.NewJobID()}, handler)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called with empty chain")
	}
}

func TestChain_PropagatesError(t *testing.T) {
	mw := func(ctx context.Context, _ *job.Job, next middleware.Handler) error {
		return next(ctx)
	}
	chain := middleware.Chain(mw)
	want := errors.New("handler error")

	err := chain(context.Background(), &job.Job{ID: id.NewJobID()}, func(_ context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestRecover_CatchesPanic(t *testing.T) {
	logger := slog.Default()
	mw := middleware.Recover(logger)
	j := &job.Job{Type: "panicky", ID: id.NewJobID()}

	err := mw(context.Background(), j, func(_ context.Context) error {
		panic("test panic")
	})
	if err == nil {
		t.Fatal("expected error from panic recovery")
	}
	if got := err.Error(); !strings.Contains(got, "panic in job panicky: test panic") {
		t.Errorf("unexpected error message: %q", got)
	}
	// A panic is a code defect, never worth retrying.
	if !job.IsPermanent(err) {
		t.Error("expected panic error to classify as permanent")
	}
}

func TestRecover_PassesThrough(t *testing.T) {
	logger := slog.Default()
	mw := middleware.Recover(logger)
	j := &job.Job{Type: "normal", ID: id.NewJobID()}

	called := false
	err := mw(context.Background(), j, func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called")
	}
}

func TestLogging_Success(t *testing.T) {
	logger := slog.Default()
	mw := middleware.Logging(logger)
	j := &job.Job{Type: "log-test", ID: id.NewJobID(), TenantID: "acme"}

	called := false
	err := mw(context.Background(), j, func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called")
	}
}

func TestLogging_Error(t *testing.T) {
	logger := slog.Default()
	mw := middleware.Logging(logger)
	j := &job.Job{Type: "log-test", ID: id.NewJobID(), TenantID: "acme"}
	want := errors.New("fail")

	err := mw(context.Background(), j, func(_ context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestTenancy_RestoresFromJob(t *testing.T) {
	mw := middleware.Tenancy()
	j := &job.Job{
		Type:     "scoped",
		ID:       id.NewJobID(),
		TenantID: "acme",
		OwnerID:  "user-1",
	}

	err := mw(context.Background(), j, func(ctx context.Context) error {
		tenantID, ok := tenancy.TenantFromContext(ctx)
		if !ok {
			t.Fatal("expected tenant in context")
		}
		if tenantID != "acme" {
			t.Errorf("tenant = %q, want %q", tenantID, "acme")
		}
		ownerID, ok := tenancy.OwnerFromContext(ctx)
		if !ok {
			t.Fatal("expected owner in context")
		}
		if ownerID != "user-1" {
			t.Errorf("owner = %q, want %q", ownerID, "user-1")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTenancy_NoOpWhenEmpty(t *testing.T) {
	mw := middleware.Tenancy()
	j := &job.Job{Type: "unscoped", ID: id.NewJobID()}

	err := mw(context.Background(), j, func(ctx context.Context) error {
		if _, ok := tenancy.TenantFromContext(ctx); ok {
			t.Fatal("expected no tenant in context for unscoped job")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTimeout_OverrunReturnsTimeoutError(t *testing.T) {
	logger := slog.Default()
	mw := middleware.Timeout(logger)
	j := &job.Job{Type: "slow", ID: id.NewJobID(), Timeout: 10 * time.Millisecond}

	err := mw(context.Background(), j, func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})

	var te *job.TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected *job.TimeoutError, got %v", err)
	}
	if te.Timeout != 10*time.Millisecond {
		t.Errorf("Timeout = %v, want 10ms", te.Timeout)
	}
	// Timeouts are transient so they consume the retry budget.
	if job.Classify(err) != job.ClassTransient {
		t.Error("expected timeout error to classify as transient")
	}
}

func TestTimeout_AbandonsHandlerIgnoringContext(t *testing.T) {
	logger := slog.Default()
	mw := middleware.Timeout(logger)
	j := &job.Job{Type: "stubborn", ID: id.NewJobID(), Timeout: 20 * time.Millisecond}

	finished := make(chan struct{})
	start := time.Now()
	err := mw(context.Background(), j, func(_ context.Context) error {
		// Never checks ctx.Done() and eventually reports success.
		time.Sleep(300 * time.Millisecond)
		close(finished)
		return nil
	})

	var te *job.TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected *job.TimeoutError, got %v", err)
	}
	if elapsed := time.Since(start); elapsed >= 300*time.Millisecond {
		t.Errorf("attempt not abandoned at deadline, blocked for %v", elapsed)
	}
	select {
	case <-finished:
		t.Fatal("straggler finished before the timeout was returned")
	default:
	}
	// The straggler's late success is discarded.
	<-finished
}

func TestTimeout_PanicReachesRecover(t *testing.T) {
	logger := slog.Default()
	chain := middleware.Chain(middleware.Recover(logger), middleware.Timeout(logger))
	j := &job.Job{Type: "panicky", ID: id.NewJobID(), Timeout: time.Second}

	err := chain(context.Background(), j, func(_ context.Context) error {
		panic("mid-attempt panic")
	})
	if err == nil {
		t.Fatal("expected error from panic recovery")
	}
	if !job.IsPermanent(err) {
		t.Error("expected panic error to classify as permanent")
	}
	if !strings.Contains(err.Error(), "mid-attempt panic") {
		t.Errorf("unexpected error message: %q", err.Error())
	}
}

func TestTimeout_ZeroTimeoutNoDeadline(t *testing.T) {
	logger := slog.Default()
	mw := middleware.Timeout(logger)
	j := &job.Job{Type: "unbounded", ID: id.NewJobID()}

	err := mw(context.Background(), j, func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); ok {
			t.Fatal("expected no deadline for zero-timeout job")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTimeout_ParentCancellationPassesThrough(t *testing.T) {
	logger := slog.Default()
	mw := middleware.Timeout(logger)
	j := &job.Job{Type: "cancelled", ID: id.NewJobID(), Timeout: time.Minute}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := mw(ctx, j, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	var te *job.TimeoutError
	if errors.As(err, &te) {
		t.Fatal("parent cancellation must not be reported as a timeout")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
