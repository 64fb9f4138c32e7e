package gating

import (
	"github.com/shopspring/decimal"

	"github.com/bnzr-team/grinder/internal/core"
)

// Risk gate block reasons.
const (
	ReasonMaxNotionalExceeded    = "MAX_NOTIONAL_EXCEEDED"
	ReasonDailyLossLimitExceeded = "DAILY_LOSS_LIMIT_EXCEEDED"
)

// RiskGateConfig caps exposure and daily losses. Zero values disable a
// cap.
type RiskGateConfig struct {
	MaxSymbolNotional decimal.Decimal
	MaxTotalNotional  decimal.Decimal
	MaxDailyLossUSDT  decimal.Decimal
}

// RiskGate blocks intents that would exceed notional or loss caps.
type RiskGate struct {
	config RiskGateConfig
}

// NewRiskGate creates the risk gate.
func NewRiskGate(config RiskGateConfig) *RiskGate {
	return &RiskGate{config: config}
}

func (g *RiskGate) Name() string { return GateRisk }

func (g *RiskGate) Evaluate(ctx Context) core.GatingResult {
	intentNotional := decimal.Zero
	if ctx.Intent != nil {
		intentNotional = ctx.Intent.Price.Mul(ctx.Intent.Quantity)
	}

	if !g.config.MaxSymbolNotional.IsZero() {
		if ctx.SymbolNotional.Add(intentNotional).GreaterThan(g.config.MaxSymbolNotional) {
			return core.Blocked(ReasonMaxNotionalExceeded, map[string]any{
				"scope":    "symbol",
				"notional": ctx.SymbolNotional.Add(intentNotional).String(),
				"cap":      g.config.MaxSymbolNotional.String(),
			})
		}
	}
	if !g.config.MaxTotalNotional.IsZero() {
		if ctx.TotalNotional.Add(intentNotional).GreaterThan(g.config.MaxTotalNotional) {
			return core.Blocked(ReasonMaxNotionalExceeded, map[string]any{
				"scope":    "total",
				"notional": ctx.TotalNotional.Add(intentNotional).String(),
				"cap":      g.config.MaxTotalNotional.String(),
			})
		}
	}
	if !g.config.MaxDailyLossUSDT.IsZero() {
		dailyPnl := ctx.DailyRealized.Add(ctx.DailyUnrealized)
		if dailyPnl.IsNegative() && dailyPnl.Neg().GreaterThanOrEqual(g.config.MaxDailyLossUSDT) {
			return core.Blocked(ReasonDailyLossLimitExceeded, map[string]any{
				"daily_pnl": dailyPnl.String(),
				"cap":       g.config.MaxDailyLossUSDT.String(),
			})
		}
	}
	return core.Allowed()
}
