package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnzr-team/grinder/internal/core"
)

func TestComputeDelayPureAndCapped(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 10, BaseDelayMs: 100, MaxDelayMs: 1000}

	assert.Equal(t, int64(100), p.ComputeDelayMs(0))
	assert.Equal(t, int64(200), p.ComputeDelayMs(1))
	assert.Equal(t, int64(400), p.ComputeDelayMs(2))
	assert.Equal(t, int64(800), p.ComputeDelayMs(3))
	assert.Equal(t, int64(1000), p.ComputeDelayMs(4), "capped at max")
	assert.Equal(t, int64(1000), p.ComputeDelayMs(50), "stays capped, no overflow")

	// Pure: same attempt, same delay.
	assert.Equal(t, p.ComputeDelayMs(3), p.ComputeDelayMs(3))
}

func TestRetrierRetriesTransient(t *testing.T) {
	clock := core.NewManualClock(0)
	r := NewRetrier(RetryPolicy{MaxAttempts: 3, BaseDelayMs: 100, MaxDelayMs: 1000}, DefaultWritePolicy(), clock, nil)

	calls := 0
	err := r.Do(context.Background(), "get_positions", false, func() error {
		calls++
		if calls < 3 {
			return core.Transient("get_positions", core.ReasonTimeout, errors.New("slow"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	// Slept 100 then 200 on the fake clock.
	assert.Equal(t, int64(300), clock.NowMs())
}

func TestRetrierStopsOnNonRetryable(t *testing.T) {
	clock := core.NewManualClock(0)
	r := NewRetrier(DefaultReadPolicy(), DefaultWritePolicy(), clock, nil)

	calls := 0
	err := r.Do(context.Background(), "place_order", true, func() error {
		calls++
		return core.NonRetryable("place_order", core.Reason4xx, errors.New("rejected"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestWrites429NotRetried(t *testing.T) {
	clock := core.NewManualClock(0)
	r := NewRetrier(DefaultReadPolicy(), DefaultWritePolicy(), clock, nil)

	calls := 0
	err := r.Do(context.Background(), "place_order", true, func() error {
		calls++
		return core.Transient("place_order", core.Reason429, errors.New("rate limited"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "writes must not retry 429")
}

func TestReads429Retried(t *testing.T) {
	clock := core.NewManualClock(0)
	r := NewRetrier(RetryPolicy{MaxAttempts: 2, BaseDelayMs: 50, MaxDelayMs: 100}, DefaultWritePolicy(), clock, nil)

	calls := 0
	err := r.Do(context.Background(), "get_account", false, func() error {
		calls++
		return core.Transient("get_account", core.Reason429, errors.New("rate limited"))
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls, "reads retry 429")
}

type retryEvents struct{ attempts [][2]string }

func (r *retryEvents) RetryAttempt(op, reason string) {
	r.attempts = append(r.attempts, [2]string{op, reason})
}

func TestRetryObserverLabels(t *testing.T) {
	clock := core.NewManualClock(0)
	events := &retryEvents{}
	r := NewRetrier(RetryPolicy{MaxAttempts: 2, BaseDelayMs: 10, MaxDelayMs: 10}, DefaultWritePolicy(), clock, events)

	_ = r.Do(context.Background(), "get_open_orders", false, func() error {
		return core.Transient("get_open_orders", core.ReasonConnect, errors.New("refused"))
	})
	require.Len(t, events.attempts, 1)
	assert.Equal(t, [2]string{"get_open_orders", "connect"}, events.attempts[0])
}

func TestDeadlinePolicyValues(t *testing.T) {
	p := DefaultDeadlinePolicy()
	assert.Equal(t, int64(600), p.Deadline("cancel_order").Milliseconds())
	assert.Equal(t, int64(1500), p.Deadline("place_order").Milliseconds())
	assert.Equal(t, int64(1200), p.Deadline("cancel_all").Milliseconds())
	assert.Equal(t, int64(2000), p.Deadline("get_open_orders").Milliseconds())
	assert.Equal(t, int64(2500), p.Deadline("get_positions").Milliseconds())
	assert.Equal(t, int64(5000), p.Deadline("exchange_info").Milliseconds())
	assert.Equal(t, int64(800), p.Deadline("ping_time").Milliseconds())
	assert.Equal(t, int64(2000), p.Deadline("unknown_op").Milliseconds(), "fallback deadline")
}
