// Package retry implements the retry policy: a pure decision function over
// the attempt count, the job's retry budget, and the failure class.
package retry

import (
	"time"

	"github.com/timottowitz/conveyor/backoff"
	"github.com/timottowitz/conveyor/job"
)

// Decision is the outcome of evaluating a failed attempt.
type Decision struct {
	// Retry reports whether the job should be re-queued for another attempt.
	Retry bool
	// Delay is how long to wait before the next attempt. Zero when Retry is
	// false.
	Delay time.Duration
}

// Policy decides retry versus permanent failure. It holds no mutable state
// and is safe for concurrent use.
type Policy struct {
	strategy backoff.Strategy
}

// NewPolicy creates a Policy using the given backoff strategy.
func NewPolicy(s backoff.Strategy) *Policy {
	if s == nil {
		s = backoff.DefaultStrategy()
	}
	return &Policy{strategy: s}
}

// Decide evaluates a failed attempt. attempt is the number of executions so
// far (1 after the first run). Permanent failures never retry regardless of
// remaining budget; transient failures retry while attempt <= maxRetries,
// with the strategy's backoff delay.
func (p *Policy) Decide(attempt, maxRetries int, class job.Class) Decision {
	if class == job.ClassPermanent {
		return Decision{}
	}
	if attempt > maxRetries {
		return Decision{}
	}
	return Decision{
		Retry: true,
		Delay: p.strategy.Delay(attempt),
	}
}
