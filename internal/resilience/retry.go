// Package resilience implements the per-operation retry policy,
// deadline policy, and circuit breaker, which Caller composes around a
// single call. The application wiring does not route exchange-port
// calls through Caller.
package resilience

import (
	"context"

	"github.com/bnzr-team/grinder/internal/core"
)

// RetryObserver receives retry observations for metrics.
type RetryObserver interface {
	RetryAttempt(op string, reason string)
}

type nopRetryObserver struct{}

func (nopRetryObserver) RetryAttempt(string, string) {}

// RetryPolicy is the per-operation-class retry configuration. Jitter
// is off by default for determinism.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelayMs int64
	MaxDelayMs  int64
}

// DefaultReadPolicy retries reads, including 429s, fairly eagerly.
func DefaultReadPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelayMs: 100, MaxDelayMs: 2000}
}

// DefaultWritePolicy is conservative: fewer attempts, never on 429.
func DefaultWritePolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 2, BaseDelayMs: 200, MaxDelayMs: 1000}
}

// ComputeDelayMs returns the backoff before attempt i (0-based for the
// first retry). Pure in i and capped at MaxDelayMs.
func (p RetryPolicy) ComputeDelayMs(attempt int) int64 {
	delay := p.BaseDelayMs
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelayMs {
			return p.MaxDelayMs
		}
	}
	if delay > p.MaxDelayMs {
		return p.MaxDelayMs
	}
	return delay
}

// Retrier runs operations under a retry policy with an injected clock.
type Retrier struct {
	read     RetryPolicy
	write    RetryPolicy
	clock    core.Clock
	observer RetryObserver
}

// NewRetrier creates a retrier. observer may be nil.
func NewRetrier(read, write RetryPolicy, clock core.Clock, observer RetryObserver) *Retrier {
	if observer == nil {
		observer = nopRetryObserver{}
	}
	return &Retrier{read: read, write: write, clock: clock, observer: observer}
}

// Do executes fn with retries. Only transient errors retry; writes
// additionally exclude 429. The last error is returned on exhaustion.
func (r *Retrier) Do(ctx context.Context, op string, isWrite bool, fn func() error) error {
	policy := r.read
	if isWrite {
		policy = r.write
	}

	var err error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			pe := core.ClassifyPortError(op, err)
			r.observer.RetryAttempt(op, string(pe.Reason))
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			r.clock.SleepMs(policy.ComputeDelayMs(attempt - 1))
		}
		err = fn()
		if err == nil {
			return nil
		}
		if !core.IsRetryable(err, isWrite) {
			return err
		}
	}
	return err
}
