package gating

import (
	"github.com/bnzr-team/grinder/internal/core"
)

// Toxicity block reasons.
const (
	ReasonSpreadSpike     = "SPREAD_SPIKE"
	ReasonPriceImpactHigh = "PRICE_IMPACT_HIGH"
)

// ToxicityConfig holds adverse-microstructure thresholds in integer
// basis points.
type ToxicityConfig struct {
	SpreadSpikeBps int64
	PriceImpactBps int64
}

// ToxicityGate detects adverse microstructure: a spread spike or a
// fast one-sided move that would fill the grid at stale prices.
type ToxicityGate struct {
	config ToxicityConfig
}

// NewToxicityGate creates the toxicity gate.
func NewToxicityGate(config ToxicityConfig) *ToxicityGate {
	return &ToxicityGate{config: config}
}

func (g *ToxicityGate) Name() string { return GateToxicity }

func (g *ToxicityGate) Evaluate(ctx Context) core.GatingResult {
	if ctx.Features == nil {
		return core.Allowed()
	}
	if g.config.SpreadSpikeBps > 0 && ctx.Features.SpreadBps >= g.config.SpreadSpikeBps {
		return core.Blocked(ReasonSpreadSpike, map[string]any{"spread_bps": ctx.Features.SpreadBps})
	}
	if g.config.PriceImpactBps > 0 {
		absNet := ctx.Features.NetReturnBps
		if absNet < 0 {
			absNet = -absNet
		}
		if absNet >= g.config.PriceImpactBps {
			return core.Blocked(ReasonPriceImpactHigh, map[string]any{"net_return_bps": ctx.Features.NetReturnBps})
		}
	}
	return core.Allowed()
}
