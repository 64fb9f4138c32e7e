package live

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnzr-team/grinder/internal/core"
	"github.com/bnzr-team/grinder/internal/exchange"
	"github.com/bnzr-team/grinder/internal/reconcile"
	"github.com/bnzr-team/grinder/pkg/logging"
)

func TestFeedParsesBookTicker(t *testing.T) {
	feed := NewFeed(FeedConfig{Symbols: []string{"BTCUSDT"}}, core.NewManualClock(42), logging.NewNop())

	raw := []byte(`{"stream":"btcusdt@bookTicker","data":{"e":"bookTicker","E":1704067200000,"s":"BTCUSDT","b":"49999.50","B":"2.5","a":"50000.50","A":"1.5"}}`)
	snap, ok := feed.parse(raw)
	require.True(t, ok)
	assert.Equal(t, "BTCUSDT", snap.Symbol)
	assert.Equal(t, int64(1704067200000), snap.TS)
	assert.Equal(t, "49999.5", snap.BidPrice.String())
	assert.Equal(t, "1.5", snap.AskQty.String())
}

func TestFeedIgnoresOtherEvents(t *testing.T) {
	feed := NewFeed(FeedConfig{Symbols: []string{"BTCUSDT"}}, core.NewManualClock(0), logging.NewNop())

	_, ok := feed.parse([]byte(`{"data":{"e":"aggTrade"}}`))
	assert.False(t, ok)
	_, ok = feed.parse([]byte(`not json`))
	assert.False(t, ok)
	_, ok = feed.parse([]byte(`{"data":{"e":"bookTicker","b":"bad"}}`))
	assert.False(t, ok)
}

func TestFeedStreamURL(t *testing.T) {
	feed := NewFeed(FeedConfig{Symbols: []string{"BTCUSDT", "ETHUSDT"}}, core.NewManualClock(0), logging.NewNop())
	assert.Equal(t,
		"wss://fstream.binance.com/stream?streams=btcusdt@bookTicker/ethusdt@bookTicker",
		feed.streamURL())
}

type fixedRole struct{ active bool }

func (f fixedRole) IsActive() bool { return f.active }

type countingSource struct{ refreshes int }

func (c *countingSource) Refresh(context.Context) error {
	c.refreshes++
	return nil
}

func TestReconcileLoopSkipsWhenStandby(t *testing.T) {
	clock := core.NewManualClock(0)
	expected := reconcile.NewExpectedStateStore(10, 0, clock)
	observed := reconcile.NewObservedStateStore()
	budget := reconcile.NewBudget(reconcile.BudgetConfig{}, clock, logging.NewNop())
	engine := reconcile.NewEngine(
		reconcile.EngineConfig{Mode: reconcile.ModeDryRun, OrderGracePeriodMs: 1000},
		expected, observed, exchange.NewIdentityConfig("", "", nil),
		budget, nil, nil, fixedRole{false}, clock, nil, logging.NewNop(),
	)

	source := &countingSource{}
	loop := NewReconcileLoop(ReconcileLoopConfig{IntervalMs: 1000}, engine, source, fixedRole{false}, logging.NewNop())
	loop.tick(context.Background())
	assert.Equal(t, 0, source.refreshes, "standby instance must not reconcile")

	loopActive := NewReconcileLoop(ReconcileLoopConfig{IntervalMs: 1000}, engine, source, fixedRole{true}, logging.NewNop())
	loopActive.tick(context.Background())
	assert.Equal(t, 1, source.refreshes)
}
