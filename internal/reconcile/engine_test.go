package reconcile

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnzr-team/grinder/internal/core"
	"github.com/bnzr-team/grinder/internal/exchange"
	"github.com/bnzr-team/grinder/pkg/logging"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type reconcileEvents struct {
	mismatches []string
	planned    []string
	executed   []string
	blocked    []string
}

func (r *reconcileEvents) Mismatch(t string)       { r.mismatches = append(r.mismatches, t) }
func (r *reconcileEvents) ActionPlanned(a string)  { r.planned = append(r.planned, a) }
func (r *reconcileEvents) ActionExecuted(a string) { r.executed = append(r.executed, a) }
func (r *reconcileEvents) ActionBlocked(a string)  { r.blocked = append(r.blocked, a) }
func (r *reconcileEvents) SnapshotTs(int64)        {}
func (r *reconcileEvents) BudgetGauges(int, int, decimal.Decimal, decimal.Decimal) {}

type alwaysActive struct{}

func (alwaysActive) IsActive() bool { return true }

func identityCfg() exchange.IdentityConfig {
	return exchange.NewIdentityConfig("grinder_", "default", nil)
}

func testEngine(t *testing.T, budgetCfg BudgetConfig, mode Mode, events *reconcileEvents) (*Engine, *ExpectedStateStore, *ObservedStateStore, *core.ManualClock) {
	t.Helper()
	clock := core.NewManualClock(1_000_000)
	expected := NewExpectedStateStore(100, 0, clock)
	observed := NewObservedStateStore()
	budget := NewBudget(budgetCfg, clock, logging.NewNop())
	engine := NewEngine(
		EngineConfig{Mode: mode, OrderGracePeriodMs: 5000},
		expected, observed, identityCfg(), budget, nil, nil, alwaysActive{}, clock, events, logging.NewNop(),
	)
	return engine, expected, observed, clock
}

func ourObservedOrder(levelID int) ObservedOrder {
	cfg := identityCfg()
	return ObservedOrder{
		OrderID:       "777",
		ClientOrderID: exchange.GenerateClientOrderID(cfg, "BTCUSDT", levelID, 999_000, 1),
		Symbol:        "BTCUSDT",
		Side:          core.SideBuy,
		Price:         d("49900"),
		Qty:           d("0.01"),
		Status:        core.OrderOpen,
		TsMs:          999_000,
	}
}

func TestOrphanOrderEmitsUnexpectedWithCancelPlan(t *testing.T) {
	events := &reconcileEvents{}
	engine, _, observed, clock := testEngine(t, BudgetConfig{
		MaxCallsPerRun: -1, MaxNotionalPerRun: d("-1"),
		MaxCallsPerDay: -1, MaxNotionalPerDay: d("-1"),
	}, ModeDryRun, events)

	observed.Update([]ObservedOrder{ourObservedOrder(2)}, nil, clock.NowMs())

	mismatches := engine.Detect(clock.NowMs())
	require.Len(t, mismatches, 1)
	assert.Equal(t, MismatchOrderUnexpected, mismatches[0].Type)
	assert.Contains(t, mismatches[0].ActionPlan, "would cancel")
	assert.Equal(t, ActionCancelOrder, mismatches[0].Action)
	assert.Equal(t, []string{MismatchOrderUnexpected}, events.mismatches)
}

func TestForeignOrdersIgnored(t *testing.T) {
	events := &reconcileEvents{}
	engine, _, observed, clock := testEngine(t, BudgetConfig{}, ModeDryRun, events)

	observed.Update([]ObservedOrder{{
		OrderID: "888", ClientOrderID: "webui_manual_123",
		Symbol: "BTCUSDT", Side: core.SideBuy, Price: d("1"), Qty: d("1"),
		Status: core.OrderOpen,
	}}, nil, clock.NowMs())

	assert.Empty(t, engine.Detect(clock.NowMs()), "orders without our identity are not ours to touch")
}

func TestMissingOrderRespectsGracePeriod(t *testing.T) {
	engine, expected, _, clock := testEngine(t, BudgetConfig{}, ModeDryRun, &reconcileEvents{})

	expected.RecordOrder(ExpectedOrder{
		ClientOrderID: "grinder_default_BTCUSDT_1_100_1",
		Symbol:        "BTCUSDT",
		Side:          core.SideBuy,
		Price:         d("49900"),
		Qty:           d("0.01"),
		Status:        core.OrderOpen,
		CreatedTsMs:   clock.NowMs(),
	})

	// Inside the grace period: no mismatch yet.
	assert.Empty(t, engine.Detect(clock.NowMs()+1000))

	// Past the grace period: missing on exchange.
	mismatches := engine.Detect(clock.NowMs() + 6000)
	require.Len(t, mismatches, 1)
	assert.Equal(t, MismatchOrderMissing, mismatches[0].Type)
}

func TestStatusDivergence(t *testing.T) {
	engine, expected, observed, clock := testEngine(t, BudgetConfig{}, ModeDryRun, &reconcileEvents{})

	obs := ourObservedOrder(1)
	obs.Status = core.OrderPartiallyFilled
	expected.RecordOrder(ExpectedOrder{
		ClientOrderID: obs.ClientOrderID,
		Symbol:        "BTCUSDT",
		Side:          core.SideBuy,
		Price:         obs.Price,
		Qty:           obs.Qty,
		Status:        core.OrderOpen,
		CreatedTsMs:   clock.NowMs(),
	})
	observed.Update([]ObservedOrder{obs}, nil, clock.NowMs())

	mismatches := engine.Detect(clock.NowMs())
	require.Len(t, mismatches, 1)
	assert.Equal(t, MismatchStatusDivergence, mismatches[0].Type)
}

func TestPositionNonzeroUnexpected(t *testing.T) {
	engine, _, observed, clock := testEngine(t, BudgetConfig{}, ModeDryRun, &reconcileEvents{})

	observed.Update(nil, []core.PositionSnap{{
		Symbol: "ETHUSDT", Side: "LONG", Qty: d("1.5"), MarkPrice: d("3000"),
	}}, clock.NowMs())

	mismatches := engine.Detect(clock.NowMs())
	require.Len(t, mismatches, 1)
	assert.Equal(t, MismatchPositionNonzero, mismatches[0].Type)
	assert.Contains(t, mismatches[0].ActionPlan, "would flatten")
	assert.True(t, mismatches[0].Notional.Equal(d("4500")))
}

func TestZeroBudgetBlocksExecution(t *testing.T) {
	// Scenario: orphan order, live mode, max_calls_per_run=0 ->
	// planned 1, executed 0, blocked 1.
	events := &reconcileEvents{}
	engine, _, observed, clock := testEngine(t, BudgetConfig{
		MaxCallsPerRun: 0, MaxNotionalPerRun: d("1000"),
		MaxCallsPerDay: 100, MaxNotionalPerDay: d("10000"),
	}, ModeLive, events)

	observed.Update([]ObservedOrder{ourObservedOrder(2)}, nil, clock.NowMs())

	_, err := engine.RunCycle(context.Background(), "run-1")
	require.NoError(t, err)

	assert.Equal(t, []string{ActionCancelOrder}, events.planned)
	assert.Empty(t, events.executed)
	assert.Equal(t, []string{ActionCancelOrder}, events.blocked)
}

func TestDryRunNeverExecutes(t *testing.T) {
	events := &reconcileEvents{}
	engine, _, observed, clock := testEngine(t, BudgetConfig{
		MaxCallsPerRun: 10, MaxNotionalPerRun: d("10000"),
		MaxCallsPerDay: 10, MaxNotionalPerDay: d("10000"),
	}, ModeDryRun, events)

	observed.Update([]ObservedOrder{ourObservedOrder(2)}, nil, clock.NowMs())
	_, err := engine.RunCycle(context.Background(), "run-1")
	require.NoError(t, err)

	assert.Empty(t, events.executed)
	assert.Equal(t, []string{ActionCancelOrder}, events.blocked)
}

func TestExpectedStoreEviction(t *testing.T) {
	clock := core.NewManualClock(0)
	store := NewExpectedStateStore(2, 0, clock)

	store.RecordOrder(ExpectedOrder{ClientOrderID: "a", Status: core.OrderFilled, CreatedTsMs: 0})
	store.RecordOrder(ExpectedOrder{ClientOrderID: "b", Status: core.OrderOpen, CreatedTsMs: 1})
	store.RecordOrder(ExpectedOrder{ClientOrderID: "c", Status: core.OrderOpen, CreatedTsMs: 2})

	orders := store.Orders()
	require.Len(t, orders, 2, "terminal order evicted first")
	for _, o := range orders {
		assert.NotEqual(t, "a", o.ClientOrderID)
	}
}

func TestExpectedStoreTTL(t *testing.T) {
	clock := core.NewManualClock(0)
	store := NewExpectedStateStore(10, 1000, clock)

	store.RecordOrder(ExpectedOrder{ClientOrderID: "a", Status: core.OrderOpen, CreatedTsMs: 0})
	clock.Advance(2000)
	assert.Empty(t, store.Orders())
}

func TestSQLiteExpectedStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "expected.db")
	store, err := NewSQLiteExpectedStore(path)
	require.NoError(t, err)
	defer store.Close()

	order := ExpectedOrder{
		ClientOrderID: "grinder_default_BTCUSDT_1_100_1",
		OrderID:       "42",
		Symbol:        "BTCUSDT",
		Side:          core.SideBuy,
		Price:         d("49900"),
		Qty:           d("0.01"),
		Status:        core.OrderOpen,
		CreatedTsMs:   100,
	}
	require.NoError(t, store.Save(order))

	loaded, err := store.LoadOpen()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, order.ClientOrderID, loaded[0].ClientOrderID)
	assert.True(t, loaded[0].Price.Equal(order.Price))

	// Terminal orders drop out of LoadOpen and can be pruned.
	order.Status = core.OrderFilled
	require.NoError(t, store.Save(order))
	loaded, err = store.LoadOpen()
	require.NoError(t, err)
	assert.Empty(t, loaded)
	require.NoError(t, store.Prune(200))
}
