package cancel_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/timottowitz/conveyor"
	"github.com/timottowitz/conveyor/cancel"
	"github.com/timottowitz/conveyor/id"
	"github.com/timottowitz/conveyor/job"
	"github.com/timottowitz/conveyor/store/memory"
)

func newStoredJob(t *testing.T, s *memory.Store, status job.Status) *job.Job {
	t.Helper()
	now := time.Now().UTC()
	j := &job.Job{
		ID:         id.NewJobID(),
		TenantID:   "acme",
		OwnerID:    "user-1",
		Type:       "send-email",
		Payload:    []byte(`{}`),
		Priority:   job.PriorityNormal,
		Status:     job.StatusPending,
		MaxRetries: 3,
		RunAt:      now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.Create(context.Background(), j); err != nil {
		t.Fatalf("Create: %v", err)
	}
	// Walk the job to the requested status through legal transitions.
	path := map[job.Status][]job.Status{
		job.StatusPending:   nil,
		job.StatusQueued:    {job.StatusQueued},
		job.StatusRunning:   {job.StatusQueued, job.StatusRunning},
		job.StatusCompleted: {job.StatusQueued, job.StatusRunning, job.StatusCompleted},
		job.StatusFailed:    {job.StatusQueued, job.StatusRunning, job.StatusFailed},
		job.StatusCancelled: {job.StatusCancelled},
	}
	cur := j
	for _, next := range path[status] {
		var err error
		cur, err = s.CompareAndTransition(context.Background(), j.ID, cur.Version, func(rec *job.Job) error {
			return rec.Transition(next)
		})
		if err != nil {
			t.Fatalf("transition to %s: %v", next, err)
		}
	}
	return cur
}

func TestCancel_PendingJob(t *testing.T) {
	s := memory.New()
	c := cancel.NewController(s, cancel.NewRegistry(), slog.Default())
	j := newStoredJob(t, s, job.StatusPending)

	if err := c.Cancel(context.Background(), "acme", j.ID, "user-1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	got, err := s.Get(context.Background(), "acme", j.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != job.StatusCancelled {
		t.Errorf("Status = %q, want cancelled", got.Status)
	}
	if got.LastError != conveyor.ErrCancelRequested.Error() {
		t.Errorf("LastError = %q, want cancel reason", got.LastError)
	}
}

func TestCancel_QueuedJob(t *testing.T) {
	s := memory.New()
	c := cancel.NewController(s, cancel.NewRegistry(), slog.Default())
	j := newStoredJob(t, s, job.StatusQueued)

	if err := c.Cancel(context.Background(), "acme", j.ID, "user-1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	got, _ := s.Get(context.Background(), "acme", j.ID)
	if got.Status != job.StatusCancelled {
		t.Errorf("Status = %q, want cancelled", got.Status)
	}
}

func TestCancel_RunningJobSignalsAttempt(t *testing.T) {
	s := memory.New()
	signals := cancel.NewRegistry()
	c := cancel.NewController(s, signals, slog.Default())
	j := newStoredJob(t, s, job.StatusRunning)

	ctx, cancelFn := context.WithCancelCause(context.Background())
	signals.Track(j.ID, cancelFn)
	defer signals.Untrack(j.ID)

	if err := c.Cancel(context.Background(), "acme", j.ID, "user-1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	select {
	case <-ctx.Done():
		if cause := context.Cause(ctx); !errors.Is(cause, conveyor.ErrCancelRequested) {
			t.Errorf("cause = %v, want ErrCancelRequested", cause)
		}
	default:
		t.Error("running attempt context not signalled")
	}

	got, _ := s.Get(context.Background(), "acme", j.ID)
	if got.Status != job.StatusCancelled {
		t.Errorf("Status = %q, want cancelled", got.Status)
	}
}

func TestCancel_TerminalJobRejected(t *testing.T) {
	for _, status := range []job.Status{job.StatusCompleted, job.StatusFailed, job.StatusCancelled} {
		t.Run(string(status), func(t *testing.T) {
			s := memory.New()
			c := cancel.NewController(s, cancel.NewRegistry(), slog.Default())
			j := newStoredJob(t, s, status)

			err := c.Cancel(context.Background(), "acme", j.ID, "user-1")
			if !errors.Is(err, conveyor.ErrInvalidTransition) {
				t.Errorf("err = %v, want ErrInvalidTransition", err)
			}
		})
	}
}

func TestCancel_NotFound(t *testing.T) {
	s := memory.New()
	c := cancel.NewController(s, cancel.NewRegistry(), slog.Default())

	err := c.Cancel(context.Background(), "acme", id.NewJobID(), "user-1")
	if !errors.Is(err, conveyor.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCancel_WrongTenantIndistinguishableFromMissing(t *testing.T) {
	s := memory.New()
	c := cancel.NewController(s, cancel.NewRegistry(), slog.Default())
	j := newStoredJob(t, s, job.StatusPending)

	err := c.Cancel(context.Background(), "globex", j.ID, "user-1")
	if !errors.Is(err, conveyor.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCancel_WrongRequesterForbidden(t *testing.T) {
	s := memory.New()
	c := cancel.NewController(s, cancel.NewRegistry(), slog.Default())
	j := newStoredJob(t, s, job.StatusPending)

	err := c.Cancel(context.Background(), "acme", j.ID, "intruder")
	if !errors.Is(err, conveyor.ErrForbidden) {
		t.Errorf("err = %v, want ErrForbidden", err)
	}

	got, _ := s.Get(context.Background(), "acme", j.ID)
	if got.Status != job.StatusPending {
		t.Errorf("Status = %q, want pending (forbidden cancel must not mutate)", got.Status)
	}
}

func TestCancel_EmptyRequesterSkipsOwnerCheck(t *testing.T) {
	s := memory.New()
	c := cancel.NewController(s, cancel.NewRegistry(), slog.Default())
	j := newStoredJob(t, s, job.StatusPending)

	if err := c.Cancel(context.Background(), "acme", j.ID, ""); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
}

func TestCancel_SucceedsAfterConcurrentClaim(t *testing.T) {
	s := memory.New()
	c := cancel.NewController(s, cancel.NewRegistry(), slog.Default())
	j := newStoredJob(t, s, job.StatusPending)

	// The scheduler claims the job before the cancel arrives. The
	// controller works from the current version, not the caller's.
	_, err := s.CompareAndTransition(context.Background(), j.ID, j.Version, func(rec *job.Job) error {
		return rec.Transition(job.StatusQueued)
	})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	if err := c.Cancel(context.Background(), "acme", j.ID, "user-1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	got, _ := s.Get(context.Background(), "acme", j.ID)
	if got.Status != job.StatusCancelled {
		t.Errorf("Status = %q, want cancelled", got.Status)
	}
}
