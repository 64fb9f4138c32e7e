package resilience

import (
	"context"
	"errors"
	"sync"

	"github.com/bnzr-team/grinder/internal/core"
)

// CircuitState is the breaker state for one operation.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// CircuitObserver receives breaker observations for metrics.
type CircuitObserver interface {
	CircuitStateChanged(op string, state string)
	CircuitRejected(op string)
	CircuitTripped(op string, reason string)
}

type nopCircuitObserver struct{}

func (nopCircuitObserver) CircuitStateChanged(string, string) {}
func (nopCircuitObserver) CircuitRejected(string)             {}
func (nopCircuitObserver) CircuitTripped(string, string)      {}

// CircuitConfig tunes the breaker.
type CircuitConfig struct {
	FailureThreshold   int
	OpenIntervalMs     int64
	HalfOpenProbeCount int
	SuccessThreshold   int
	// TripOn decides whether an error counts toward tripping. The
	// default trips on transient errors only: idempotency conflicts
	// and 4xx never trip.
	TripOn func(err error) bool
}

// DefaultCircuitConfig mirrors production settings.
func DefaultCircuitConfig() CircuitConfig {
	return CircuitConfig{
		FailureThreshold:   5,
		OpenIntervalMs:     30_000,
		HalfOpenProbeCount: 1,
		SuccessThreshold:   1,
	}
}

func defaultTripOn(err error) bool {
	var pe *core.PortError
	if !errors.As(err, &pe) {
		return true
	}
	return pe.Kind == core.KindTransient
}

type opCircuit struct {
	state           CircuitState
	failures        int
	successes       int
	probesInFlight  int
	openedAtMs      int64
	lastTripReason  string
}

// CircuitBreaker tracks state per operation independently.
type CircuitBreaker struct {
	mu       sync.Mutex
	config   CircuitConfig
	clock    core.Clock
	observer CircuitObserver
	ops      map[string]*opCircuit
}

// NewCircuitBreaker creates the breaker. observer may be nil.
func NewCircuitBreaker(config CircuitConfig, clock core.Clock, observer CircuitObserver) *CircuitBreaker {
	if config.TripOn == nil {
		config.TripOn = defaultTripOn
	}
	if observer == nil {
		observer = nopCircuitObserver{}
	}
	return &CircuitBreaker{
		config:   config,
		clock:    clock,
		observer: observer,
		ops:      make(map[string]*opCircuit),
	}
}

func (cb *CircuitBreaker) op(name string) *opCircuit {
	c, ok := cb.ops[name]
	if !ok {
		c = &opCircuit{state: CircuitClosed}
		cb.ops[name] = c
	}
	return c
}

func (cb *CircuitBreaker) transition(name string, c *opCircuit, to CircuitState) {
	if c.state == to {
		return
	}
	c.state = to
	cb.observer.CircuitStateChanged(name, string(to))
}

// refresh applies the time-based OPEN -> HALF_OPEN transition.
func (cb *CircuitBreaker) refresh(name string, c *opCircuit) {
	if c.state == CircuitOpen && cb.clock.NowMs()-c.openedAtMs >= cb.config.OpenIntervalMs {
		cb.transition(name, c, CircuitHalfOpen)
		c.successes = 0
		c.probesInFlight = 0
	}
}

// State returns the current state for an operation, applying cooldown
// expiry.
func (cb *CircuitBreaker) State(op string) CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	c := cb.op(op)
	cb.refresh(op, c)
	return c.state
}

// Allow reports whether a call may proceed. In HALF_OPEN only up to
// the probe budget passes. A rejection is counted.
func (cb *CircuitBreaker) Allow(op string) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	c := cb.op(op)
	cb.refresh(op, c)

	switch c.state {
	case CircuitClosed:
		return true
	case CircuitHalfOpen:
		if c.probesInFlight < cb.config.HalfOpenProbeCount {
			c.probesInFlight++
			return true
		}
	}
	cb.observer.CircuitRejected(op)
	return false
}

// RecordSuccess resets the failure count in CLOSED and closes the
// circuit from HALF_OPEN once the success threshold is met.
func (cb *CircuitBreaker) RecordSuccess(op string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	c := cb.op(op)
	cb.refresh(op, c)

	switch c.state {
	case CircuitClosed:
		c.failures = 0
	case CircuitHalfOpen:
		c.successes++
		if c.successes >= cb.config.SuccessThreshold {
			cb.transition(op, c, CircuitClosed)
			c.failures = 0
			c.successes = 0
			c.probesInFlight = 0
		}
	}
}

// RecordFailure counts a failure per the trip predicate. In HALF_OPEN
// any counted failure reopens with a fresh cooldown.
func (cb *CircuitBreaker) RecordFailure(op string, err error) {
	if !cb.config.TripOn(err) {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	c := cb.op(op)
	cb.refresh(op, c)

	reason := string(core.ClassifyPortError(op, err).Reason)

	switch c.state {
	case CircuitClosed:
		c.failures++
		if c.failures >= cb.config.FailureThreshold {
			cb.trip(op, c, reason)
		}
	case CircuitHalfOpen:
		cb.trip(op, c, reason)
	}
}

func (cb *CircuitBreaker) trip(op string, c *opCircuit, reason string) {
	cb.transition(op, c, CircuitOpen)
	c.openedAtMs = cb.clock.NowMs()
	c.failures = 0
	c.probesInFlight = 0
	c.lastTripReason = reason
	cb.observer.CircuitTripped(op, reason)
}

// Caller composes breaker, deadlines and retries around a port call:
// allow -> execute with retries -> record terminal outcome. Breaker
// rejections are never retried.
type Caller struct {
	breaker   *CircuitBreaker
	retrier   *Retrier
	deadlines *DeadlinePolicy
}

// NewCaller wires the resilience stack together.
func NewCaller(breaker *CircuitBreaker, retrier *Retrier, deadlines *DeadlinePolicy) *Caller {
	return &Caller{breaker: breaker, retrier: retrier, deadlines: deadlines}
}

// Call runs fn under the full resilience stack.
func (c *Caller) Call(ctx context.Context, op string, isWrite bool, fn func(ctx context.Context) error) error {
	if !c.breaker.Allow(op) {
		return core.CircuitOpen(op)
	}
	err := c.retrier.Do(ctx, op, isWrite, func() error {
		callCtx, cancel := c.deadlines.WithDeadline(ctx, op)
		defer cancel()
		return fn(callCtx)
	})
	if err != nil {
		c.breaker.RecordFailure(op, err)
		return err
	}
	c.breaker.RecordSuccess(op)
	return nil
}
