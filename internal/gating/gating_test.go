package gating

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/bnzr-team/grinder/internal/core"
	"github.com/bnzr-team/grinder/pkg/logging"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestPrefilterReasons(t *testing.T) {
	p := NewPrefilter(PrefilterConfig{
		Blacklist:       map[string]bool{"SCAMUSDT": true},
		MaxSpreadBps:    50,
		MinVol24hUSDT:   d("1000000"),
		MinTradeCount1h: 100,
		MinOpenInterest: d("500000"),
	})

	res := p.Evaluate(Context{Symbol: "SCAMUSDT"})
	assert.Equal(t, ReasonBlacklisted, res.Reason)

	res = p.Evaluate(Context{Symbol: "BTCUSDT", Market: MarketStats{Delisting: true}})
	assert.Equal(t, ReasonDelisting, res.Reason)

	res = p.Evaluate(Context{
		Symbol:   "BTCUSDT",
		Features: &core.FeatureSnapshot{SpreadBps: 80},
		Market:   MarketStats{Vol24hUSDT: d("2000000"), TradeCount1h: 500, OpenInterest: d("900000")},
	})
	assert.Equal(t, ReasonSpreadTooHigh, res.Reason)

	res = p.Evaluate(Context{
		Symbol: "BTCUSDT",
		Market: MarketStats{Vol24hUSDT: d("10"), TradeCount1h: 500, OpenInterest: d("900000")},
	})
	assert.Equal(t, ReasonVol24hTooLow, res.Reason)

	res = p.Evaluate(Context{
		Symbol: "BTCUSDT",
		Market: MarketStats{Vol24hUSDT: d("2000000"), TradeCount1h: 3, OpenInterest: d("900000")},
	})
	assert.Equal(t, ReasonActivityTooLow, res.Reason)

	res = p.Evaluate(Context{
		Symbol: "BTCUSDT",
		Market: MarketStats{Vol24hUSDT: d("2000000"), TradeCount1h: 500, OpenInterest: d("900000")},
	})
	assert.True(t, res.Allowed)
}

func TestRateLimiterWindowBoundary(t *testing.T) {
	clock := core.NewManualClock(0)
	rl := NewRateLimiter(RateLimiterConfig{MaxOrdersPerMinute: 3}, clock)

	for i := 0; i < 3; i++ {
		res := rl.Evaluate(Context{})
		assert.True(t, res.Allowed, "order %d should pass", i+1)
		rl.Record()
		clock.Advance(1000)
	}

	res := rl.Evaluate(Context{})
	assert.False(t, res.Allowed)
	assert.Equal(t, ReasonRateLimitExceeded, res.Reason)

	// First record was at t=0; at t=60_000 it leaves the window.
	clock.Advance(60_000 - clock.NowMs())
	res = rl.Evaluate(Context{})
	assert.True(t, res.Allowed)
}

func TestRateLimiterCooldown(t *testing.T) {
	clock := core.NewManualClock(0)
	rl := NewRateLimiter(RateLimiterConfig{MaxOrdersPerMinute: 100, CooldownMs: 500}, clock)

	rl.Record()
	res := rl.Evaluate(Context{})
	assert.Equal(t, ReasonCooldownActive, res.Reason)

	clock.Advance(500)
	res = rl.Evaluate(Context{})
	assert.True(t, res.Allowed)
}

func TestRiskGateScopes(t *testing.T) {
	g := NewRiskGate(RiskGateConfig{
		MaxSymbolNotional: d("1000"),
		MaxTotalNotional:  d("5000"),
		MaxDailyLossUSDT:  d("200"),
	})

	intent := core.OrderIntent{Price: d("100"), Quantity: d("5")} // 500 notional

	res := g.Evaluate(Context{Intent: &intent, SymbolNotional: d("600")})
	assert.Equal(t, ReasonMaxNotionalExceeded, res.Reason)
	assert.Equal(t, "symbol", res.Details["scope"])

	res = g.Evaluate(Context{Intent: &intent, SymbolNotional: d("100"), TotalNotional: d("4800")})
	assert.Equal(t, ReasonMaxNotionalExceeded, res.Reason)
	assert.Equal(t, "total", res.Details["scope"])

	res = g.Evaluate(Context{Intent: &intent, DailyRealized: d("-150"), DailyUnrealized: d("-60")})
	assert.Equal(t, ReasonDailyLossLimitExceeded, res.Reason)

	res = g.Evaluate(Context{Intent: &intent, SymbolNotional: d("100"), TotalNotional: d("1000")})
	assert.True(t, res.Allowed)
}

func TestToxicityGate(t *testing.T) {
	g := NewToxicityGate(ToxicityConfig{SpreadSpikeBps: 100, PriceImpactBps: 300})

	res := g.Evaluate(Context{Features: &core.FeatureSnapshot{SpreadBps: 100}})
	assert.Equal(t, ReasonSpreadSpike, res.Reason)

	res = g.Evaluate(Context{Features: &core.FeatureSnapshot{SpreadBps: 10, NetReturnBps: -350}})
	assert.Equal(t, ReasonPriceImpactHigh, res.Reason)

	res = g.Evaluate(Context{Features: &core.FeatureSnapshot{SpreadBps: 10, NetReturnBps: 50}})
	assert.True(t, res.Allowed)

	res = g.Evaluate(Context{})
	assert.True(t, res.Allowed, "no features means no toxicity verdict")
}

type stubProbe struct {
	triggered bool
	reason    string
}

func (s stubProbe) IsTriggered() bool  { return s.triggered }
func (s stubProbe) TripReason() string { return s.reason }

func TestKillSwitchGateReasonMapping(t *testing.T) {
	g := NewKillSwitchGate(stubProbe{triggered: true, reason: "MANUAL"})
	res := g.Evaluate(Context{})
	assert.Equal(t, ReasonKillSwitchActive, res.Reason)

	g = NewKillSwitchGate(stubProbe{triggered: true, reason: "DRAWDOWN_LIMIT"})
	res = g.Evaluate(Context{})
	assert.Equal(t, ReasonDrawdownLimitExceeded, res.Reason)

	g = NewKillSwitchGate(stubProbe{})
	assert.True(t, g.Evaluate(Context{}).Allowed)
}

type recordingRecorder struct {
	allowed []string
	blocked [][2]string
}

func (r *recordingRecorder) GateAllowed(gate string) { r.allowed = append(r.allowed, gate) }
func (r *recordingRecorder) GateBlocked(gate, reason string) {
	r.blocked = append(r.blocked, [2]string{gate, reason})
}

func TestChainShortCircuits(t *testing.T) {
	rec := &recordingRecorder{}
	chain := NewChain([]Gate{
		NewPrefilter(PrefilterConfig{}),
		NewKillSwitchGate(stubProbe{triggered: true, reason: "MANUAL"}),
		NewToxicityGate(ToxicityConfig{SpreadSpikeBps: 1}),
	}, rec, logging.NewNop())

	res := chain.Evaluate(Context{Symbol: "BTCUSDT", Features: &core.FeatureSnapshot{SpreadBps: 500}})
	assert.False(t, res.Allowed)
	assert.Equal(t, ReasonKillSwitchActive, res.Reason)
	assert.Equal(t, []string{GatePrefilter}, rec.allowed)
	assert.Equal(t, [][2]string{{GateKillSwitch, ReasonKillSwitchActive}}, rec.blocked)
}
