// Package gating implements the ordered gate chain evaluated ahead of
// every order intent: prefilter, rate limiter, risk gate, toxicity
// gate, kill switch. Gates short-circuit on the first block and emit
// counters with a closed label vocabulary (gate and reason only; never
// symbol or order ids).
package gating

import (
	"github.com/shopspring/decimal"

	"github.com/bnzr-team/grinder/internal/core"
)

// Gate names. Closed set, used as metric labels.
const (
	GatePrefilter  = "prefilter"
	GateRate       = "rate"
	GateRisk       = "risk"
	GateToxicity   = "toxicity"
	GateKillSwitch = "kill_switch"
)

// MarketStats carries the per-symbol admission statistics read by the
// prefilter. Loaded from the exchange-info/ticker caches.
type MarketStats struct {
	Vol24hUSDT   decimal.Decimal
	Vol1hUSDT    decimal.Decimal
	TradeCount1h int64
	OpenInterest decimal.Decimal
	Delisting    bool
}

// Context is the input to one chain evaluation.
type Context struct {
	TS       int64
	Symbol   string
	Features *core.FeatureSnapshot
	Intent   *core.OrderIntent
	Market   MarketStats

	SymbolNotional decimal.Decimal
	TotalNotional  decimal.Decimal
	DailyRealized  decimal.Decimal
	DailyUnrealized decimal.Decimal
}

// Gate is one link in the chain.
type Gate interface {
	Name() string
	Evaluate(ctx Context) core.GatingResult
}

// Recorder receives allowed/blocked observations. Implemented by the
// metrics registry.
type Recorder interface {
	GateAllowed(gate string)
	GateBlocked(gate, reason string)
}

// NopRecorder discards observations; used in tests.
type NopRecorder struct{}

func (NopRecorder) GateAllowed(string)         {}
func (NopRecorder) GateBlocked(string, string) {}

// Chain evaluates gates in order and stops at the first block.
type Chain struct {
	gates    []Gate
	recorder Recorder
	logger   core.ILogger
}

// NewChain builds a chain. The recorder may be nil.
func NewChain(gates []Gate, recorder Recorder, logger core.ILogger) *Chain {
	if recorder == nil {
		recorder = NopRecorder{}
	}
	return &Chain{
		gates:    gates,
		recorder: recorder,
		logger:   logger.WithField("component", "gating_chain"),
	}
}

// Evaluate runs the chain. The returned result is the first block, or
// an allow if every gate passed.
func (c *Chain) Evaluate(ctx Context) core.GatingResult {
	for _, g := range c.gates {
		res := g.Evaluate(ctx)
		if !res.Allowed {
			c.recorder.GateBlocked(g.Name(), res.Reason)
			c.logger.Debug("gate blocked", "gate", g.Name(), "reason", res.Reason)
			return res
		}
		c.recorder.GateAllowed(g.Name())
	}
	return core.Allowed()
}
