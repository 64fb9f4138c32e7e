package core

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func sampleSnapshot() AccountSnapshot {
	return NewAccountSnapshot(
		[]PositionSnap{
			{Symbol: "ETHUSDT", Side: "LONG", Qty: d("1.5"), EntryPrice: d("3000"), MarkPrice: d("3050"), UnrealizedPnl: d("75"), Leverage: 5, TS: 1000},
			{Symbol: "BTCUSDT", Side: "LONG", Qty: d("0.1"), EntryPrice: d("50000"), MarkPrice: d("50100"), UnrealizedPnl: d("10"), Leverage: 10, TS: 2000},
		},
		[]OpenOrderSnap{
			{OrderID: "9", ClientOrderID: "grinder_default_ETHUSDT_1_1_1", Symbol: "ETHUSDT", Side: SideSell, OrderType: "LIMIT", Price: d("3100"), Qty: d("1"), FilledQty: d("0"), Status: OrderOpen, TS: 1500},
			{OrderID: "3", ClientOrderID: "grinder_default_BTCUSDT_1_1_2", Symbol: "BTCUSDT", Side: SideBuy, OrderType: "LIMIT", Price: d("49900"), Qty: d("0.01"), FilledQty: d("0"), Status: OrderOpen, TS: 1200},
		},
		"test",
	)
}

func TestAccountSnapshotCanonicalSortOrder(t *testing.T) {
	snap := sampleSnapshot()

	assert.Equal(t, "BTCUSDT", snap.Positions[0].Symbol)
	assert.Equal(t, "ETHUSDT", snap.Positions[1].Symbol)
	assert.Equal(t, "BTCUSDT", snap.OpenOrders[0].Symbol)
	assert.Equal(t, int64(2000), snap.TS, "ts must be max of component timestamps")
}

func TestAccountSnapshotRenderIsFixedPoint(t *testing.T) {
	snap := sampleSnapshot()

	first, err := snap.Render()
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(first, &m))
	rebuilt, err := AccountSnapshotFromMap(m)
	require.NoError(t, err)

	second, err := rebuilt.Render()
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func TestAccountSnapshotIdenticalContentIdenticalBytes(t *testing.T) {
	a, err := sampleSnapshot().Render()
	require.NoError(t, err)
	b, err := sampleSnapshot().Render()
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestSnapshotRoundTrip(t *testing.T) {
	snap := Snapshot{
		TS: 1704067200000, Symbol: "BTCUSDT",
		BidPrice: d("49999.5"), AskPrice: d("50000.5"),
		BidQty: d("2"), AskQty: d("3"),
		LastPrice: d("50000"), LastQty: d("0.2"),
	}
	back, err := SnapshotFromMap(snap.ToMap())
	require.NoError(t, err)
	assert.Equal(t, snap.TS, back.TS)
	assert.Equal(t, snap.Symbol, back.Symbol)
	assert.True(t, snap.BidPrice.Equal(back.BidPrice))
	assert.True(t, snap.AskQty.Equal(back.AskQty))
}

func TestSnapshotDerived(t *testing.T) {
	snap := Snapshot{BidPrice: d("49999"), AskPrice: d("50001"), BidQty: d("1"), AskQty: d("1")}
	assert.True(t, snap.MidPrice().Equal(d("50000")))
	// (2 / 50000) * 10000 = 0.4 bps, truncated to 0
	assert.Equal(t, int64(0), snap.SpreadBps())

	wide := Snapshot{BidPrice: d("100"), AskPrice: d("102")}
	// mid=101, spread=2 -> 198.01 bps -> 198
	assert.Equal(t, int64(198), wide.SpreadBps())
}

func TestDigestStableAcrossCalls(t *testing.T) {
	m := map[string]any{"b": 1, "a": "x", "nested": map[string]any{"z": "1", "y": "2"}}
	d1, err := Digest(m)
	require.NoError(t, err)
	d2, err := Digest(m)
	require.NoError(t, err)
	assert.Equal(t, d1, d2)
	assert.Len(t, d1, 16)
}

func TestGridPlanValidate(t *testing.T) {
	plan := GridPlan{
		Mode: ModeBilateral, CenterPrice: d("50000"), SpacingBps: 10,
		LevelsUp: 5, LevelsDown: 5,
		SizeSchedule: []decimal.Decimal{d("1"), d("1"), d("1"), d("1"), d("1")},
		WidthBps:     50,
	}
	require.NoError(t, plan.Validate())

	bad := plan
	bad.LevelsDown = 4
	assert.Error(t, bad.Validate())

	bad = plan
	bad.WidthBps = 40
	assert.Error(t, bad.Validate())
}
