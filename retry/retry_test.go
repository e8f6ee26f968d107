package retry_test

import (
	"testing"
	"time"

	"github.com/timottowitz/conveyor/backoff"
	"github.com/timottowitz/conveyor/job"
	"github.com/timottowitz/conveyor/retry"
)

func TestPolicy_PermanentNeverRetries(t *testing.T) {
	p := retry.NewPolicy(backoff.NewConstant(time.Second))

	for attempt := 1; attempt <= 5; attempt++ {
		d := p.Decide(attempt, 10, job.ClassPermanent)
		if d.Retry {
			t.Errorf("Decide(%d, 10, permanent).Retry = true, want false", attempt)
		}
		if d.Delay != 0 {
			t.Errorf("Decide(%d, 10, permanent).Delay = %v, want 0", attempt, d.Delay)
		}
	}
}

func TestPolicy_TransientRetriesWithinBudget(t *testing.T) {
	p := retry.NewPolicy(backoff.NewConstant(2 * time.Second))

	tests := []struct {
		attempt    int
		maxRetries int
		wantRetry  bool
	}{
		{1, 3, true},
		{2, 3, true},
		{3, 3, true},
		{4, 3, false}, // budget spent: 1 first run + 3 retries
		{1, 0, false}, // no retries allowed
	}
	for _, tt := range tests {
		d := p.Decide(tt.attempt, tt.maxRetries, job.ClassTransient)
		if d.Retry != tt.wantRetry {
			t.Errorf("Decide(%d, %d, transient).Retry = %v, want %v",
				tt.attempt, tt.maxRetries, d.Retry, tt.wantRetry)
		}
	}
}

func TestPolicy_RetryCarriesBackoffDelay(t *testing.T) {
	p := retry.NewPolicy(backoff.NewConstant(7 * time.Second))

	d := p.Decide(1, 3, job.ClassTransient)
	if !d.Retry {
		t.Fatal("expected retry")
	}
	if d.Delay != 7*time.Second {
		t.Errorf("Delay = %v, want 7s", d.Delay)
	}
}

func TestNewPolicy_NilStrategyUsesDefault(t *testing.T) {
	p := retry.NewPolicy(nil)

	d := p.Decide(1, 3, job.ClassTransient)
	if !d.Retry {
		t.Fatal("expected retry with default strategy")
	}
	if d.Delay <= 0 {
		t.Errorf("Delay = %v, want > 0", d.Delay)
	}
}
