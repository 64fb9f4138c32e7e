package safety

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnzr-team/grinder/internal/core"
	"github.com/bnzr-team/grinder/pkg/logging"
)

// exitPort is a scriptable port for exit sequences.
type exitPort struct {
	mu           sync.Mutex
	positions    map[string]decimal.Decimal
	cancelErr    error
	cancelCalls  int
	marketCalls  int
	fetchErr     error
	closeActually bool
}

func newExitPort(positions map[string]decimal.Decimal) *exitPort {
	return &exitPort{positions: positions, closeActually: true}
}

func (p *exitPort) PlaceOrder(context.Context, core.PlaceOrderRequest) (string, error) {
	return "", errors.New("not supported")
}

func (p *exitPort) CancelOrder(context.Context, string) (bool, error) { return true, nil }

func (p *exitPort) ReplaceOrder(context.Context, core.ReplaceOrderRequest) (string, error) {
	return "", errors.New("not supported")
}

func (p *exitPort) PlaceMarketOrder(_ context.Context, req core.MarketOrderRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.marketCalls++
	if !req.ReduceOnly {
		return "", errors.New("exit must be reduce-only")
	}
	if p.closeActually {
		p.positions[req.Symbol] = decimal.Zero
	}
	return "m-1", nil
}

func (p *exitPort) CancelAllOrders(_ context.Context, _ string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelCalls++
	if p.cancelErr != nil {
		return 0, p.cancelErr
	}
	return 2, nil
}

func (p *exitPort) FetchOpenOrders(context.Context, string) ([]core.OrderRecord, error) {
	return nil, nil
}

func (p *exitPort) FetchPositions(_ context.Context, symbol string) ([]core.PositionSnap, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fetchErr != nil {
		return nil, p.fetchErr
	}
	qty, ok := p.positions[symbol]
	if !ok || qty.IsZero() {
		return nil, nil
	}
	side := "LONG"
	if qty.IsNegative() {
		side = "SHORT"
	}
	return []core.PositionSnap{{Symbol: symbol, Side: side, Qty: qty}}, nil
}

func (p *exitPort) FetchAccountSnapshot(context.Context) (core.AccountSnapshot, error) {
	return core.AccountSnapshot{}, nil
}

func TestExitSequenceSuccess(t *testing.T) {
	port := newExitPort(map[string]decimal.Decimal{
		"BTCUSDT": decimal.RequireFromString("0.5"),
		"ETHUSDT": decimal.RequireFromString("-2"),
	})
	clock := core.NewManualClock(0)
	exec := NewEmergencyExitExecutor(port, clock, nil, EmergencyExitConfig{}, logging.NewNop())

	result := exec.Execute(context.Background(), 1234, "drawdown_breach", []string{"BTCUSDT", "ETHUSDT"})

	assert.True(t, result.Success)
	assert.Equal(t, int64(1234), result.TriggeredAtMs)
	assert.Equal(t, "drawdown_breach", result.Reason)
	assert.Equal(t, 4, result.OrdersCancelled, "two symbols x two cancelled each")
	assert.Equal(t, 2, result.MarketOrdersPlaced)
	assert.Equal(t, 0, result.PositionsRemaining)
	assert.True(t, exec.HasExecuted())
}

func TestExitRunsAtMostOnce(t *testing.T) {
	port := newExitPort(map[string]decimal.Decimal{})
	clock := core.NewManualClock(0)
	exec := NewEmergencyExitExecutor(port, clock, nil, EmergencyExitConfig{}, logging.NewNop())

	exec.Execute(context.Background(), 1, "first", []string{"BTCUSDT"})
	first := port.cancelCalls

	result := exec.Execute(context.Background(), 2, "second", []string{"BTCUSDT"})
	assert.Equal(t, first, port.cancelCalls, "latched: no second sweep")
	assert.Equal(t, 0, result.MarketOrdersPlaced)
}

func TestCancelErrorDoesNotAbortSequence(t *testing.T) {
	port := newExitPort(map[string]decimal.Decimal{"BTCUSDT": decimal.RequireFromString("1")})
	port.cancelErr = errors.New("exchange down")
	clock := core.NewManualClock(0)
	exec := NewEmergencyExitExecutor(port, clock, nil, EmergencyExitConfig{}, logging.NewNop())

	result := exec.Execute(context.Background(), 1, "drawdown_breach", []string{"BTCUSDT"})
	assert.Equal(t, 0, result.OrdersCancelled)
	assert.Equal(t, 1, result.MarketOrdersPlaced, "position close still runs after cancel failure")
	assert.True(t, result.Success)
}

func TestPartialWhenPositionsRemain(t *testing.T) {
	port := newExitPort(map[string]decimal.Decimal{"BTCUSDT": decimal.RequireFromString("1")})
	port.closeActually = false // market order "succeeds" but position survives
	clock := core.NewManualClock(0)
	exec := NewEmergencyExitExecutor(port, clock, nil, EmergencyExitConfig{VerifyAttempts: 3, VerifyIntervalMs: 100}, logging.NewNop())

	result := exec.Execute(context.Background(), 1, "drawdown_breach", []string{"BTCUSDT"})
	assert.False(t, result.Success)
	assert.Equal(t, 1, result.PositionsRemaining)
	// Verify loop slept between bounded attempts on the injected clock.
	assert.Equal(t, int64(200), clock.NowMs())
}

func TestDrawdownEmergencyEndToEnd(t *testing.T) {
	// Drawdown trip -> kill switch -> FSM emergency -> exit (no real
	// positions) -> position_reduced -> guard reset -> PAUSED.
	guard, err := NewDrawdownGuard(decimal.RequireFromString("10000"), 5.0, nil)
	require.NoError(t, err)
	ks := NewKillSwitch(nil)
	fsm := NewFSM(nil)
	fsm.Tick(FSMInputs{HealthOK: true})
	fsm.Tick(FSMInputs{HealthOK: true, Armed: true})

	port := newExitPort(map[string]decimal.Decimal{})
	clock := core.NewManualClock(0)
	exec := NewEmergencyExitExecutor(port, clock, nil, EmergencyExitConfig{}, logging.NewNop())

	guard.Update(decimal.RequireFromString("10500"))
	result := guard.Update(decimal.RequireFromString("9700"))
	require.True(t, result.Triggered)
	ks.Trip(KillReasonDrawdownLimit, 100, nil)

	state := fsm.Tick(FSMInputs{HealthOK: true, Armed: true, KillSwitchActive: true, DrawdownTripped: true})
	require.Equal(t, StateEmergency, state)

	exitResult := exec.Execute(context.Background(), 100, "drawdown_breach", []string{"BTCUSDT"})
	require.True(t, exitResult.Success)

	// Operator reset of the guards, position reduced: next tick pauses.
	guard.Reset(decimal.Zero)
	ks.Reset()
	state = fsm.Tick(FSMInputs{HealthOK: true, Armed: true, PositionReduced: true})
	assert.Equal(t, StatePaused, state)
}
