package status_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/timottowitz/conveyor"
	"github.com/timottowitz/conveyor/id"
	"github.com/timottowitz/conveyor/job"
	"github.com/timottowitz/conveyor/status"
	"github.com/timottowitz/conveyor/store/memory"
)

func seedJob(t *testing.T, s *memory.Store, typ job.Type, priority job.Priority) *job.Job {
	t.Helper()
	now := time.Now().UTC()
	j := &job.Job{
		ID:         id.NewJobID(),
		TenantID:   "acme",
		OwnerID:    "user-1",
		Type:       typ,
		Payload:    []byte(`{}`),
		Priority:   priority,
		Status:     job.StatusPending,
		MaxRetries: 3,
		RunAt:      now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.Create(context.Background(), j); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return j
}

func TestGet_ReturnsSnapshot(t *testing.T) {
	s := memory.New()
	svc := status.NewService(s)
	j := seedJob(t, s, "send-email", job.PriorityHigh)

	snap, err := svc.Get(context.Background(), "acme", j.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if snap.Status != job.StatusPending {
		t.Errorf("Status = %q, want pending", snap.Status)
	}
	if snap.AttemptsLeft != 4 {
		t.Errorf("AttemptsLeft = %d, want 4 (MaxRetries+1)", snap.AttemptsLeft)
	}
	if snap.Job == nil || snap.Job.ID != j.ID {
		t.Error("snapshot missing the underlying job")
	}
}

func TestGet_WrongTenant(t *testing.T) {
	s := memory.New()
	svc := status.NewService(s)
	j := seedJob(t, s, "send-email", job.PriorityNormal)

	_, err := svc.Get(context.Background(), "globex", j.ID)
	if !errors.Is(err, conveyor.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestGet_TerminalJobHasNoAttemptsLeft(t *testing.T) {
	s := memory.New()
	svc := status.NewService(s)
	j := seedJob(t, s, "send-email", job.PriorityNormal)

	cur := j
	for _, next := range []job.Status{job.StatusQueued, job.StatusRunning, job.StatusCompleted} {
		var err error
		cur, err = s.CompareAndTransition(context.Background(), j.ID, cur.Version, func(rec *job.Job) error {
			return rec.Transition(next)
		})
		if err != nil {
			t.Fatalf("transition to %s: %v", next, err)
		}
	}

	snap, err := svc.Get(context.Background(), "acme", j.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if snap.AttemptsLeft != 0 {
		t.Errorf("AttemptsLeft = %d, want 0 for terminal job", snap.AttemptsLeft)
	}
}

func TestList_FiltersAndOrders(t *testing.T) {
	s := memory.New()
	svc := status.NewService(s)

	seedJob(t, s, "send-email", job.PriorityLow)
	urgent := seedJob(t, s, "send-email", job.PriorityUrgent)
	seedJob(t, s, "resize-image", job.PriorityNormal)

	snaps, err := svc.List(context.Background(), "acme", job.Filter{
		Types: []job.Type{"send-email"},
	})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("len = %d, want 2", len(snaps))
	}
	if snaps[0].ID != urgent.ID {
		t.Errorf("first snapshot = %s, want the urgent job", snaps[0].ID)
	}
}
