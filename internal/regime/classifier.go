// Package regime classifies market state from features and gating
// inputs. The classifier is a pure function with a fixed priority
// ordering, so replays are deterministic. All thresholds are integer
// basis points.
package regime

import (
	"github.com/shopspring/decimal"

	"github.com/bnzr-team/grinder/internal/core"
)

// Reason codes for regime decisions. Stable, used in metrics and logs.
const (
	ReasonDefault        = "DEFAULT"
	ReasonKillSwitch     = "KILL_SWITCH"
	ReasonSpreadSpike    = "SPREAD_SPIKE"
	ReasonPriceImpact    = "PRICE_IMPACT"
	ReasonThinLiquidity  = "THIN_LIQUIDITY"
	ReasonWideSpread     = "WIDE_SPREAD"
	ReasonHighVolatility = "HIGH_VOLATILITY"
	ReasonTrendDetected  = "TREND_DETECTED"
	ReasonWarmup         = "WARMUP"
)

// Config holds the classifier thresholds.
type Config struct {
	ThinL1Qty          decimal.Decimal
	SpreadThinBps      int64
	VolShockNatrBps    int64
	TrendNetReturnBps  int64
	TrendRangeScoreMax int64
}

// DefaultConfig mirrors production thresholds.
func DefaultConfig() Config {
	return Config{
		ThinL1Qty:          decimal.RequireFromString("0.1"),
		SpreadThinBps:      100,
		VolShockNatrBps:    500,
		TrendNetReturnBps:  200,
		TrendRangeScoreMax: 3,
	}
}

// Decision is the classifier output.
type Decision struct {
	Regime       core.Regime
	Reason       string
	Confidence   int
	FeaturesUsed map[string]any
}

// Classify applies the priority ordering:
// kill switch > toxicity > warmup > thin book > vol shock > trend > range.
func Classify(features *core.FeatureSnapshot, killSwitchActive bool, toxicity *core.GatingResult, cfg Config) Decision {
	if killSwitchActive {
		return Decision{
			Regime:       core.RegimeEmergency,
			Reason:       ReasonKillSwitch,
			Confidence:   100,
			FeaturesUsed: map[string]any{"kill_switch_active": true},
		}
	}

	if toxicity != nil && !toxicity.Allowed {
		reason := ReasonPriceImpact
		if toxicity.Reason == "SPREAD_SPIKE" {
			reason = ReasonSpreadSpike
		}
		return Decision{
			Regime:       core.RegimeToxic,
			Reason:       reason,
			Confidence:   90,
			FeaturesUsed: map[string]any{"toxicity_reason": toxicity.Reason},
		}
	}

	if features == nil {
		return Decision{
			Regime:       core.RegimeRange,
			Reason:       ReasonWarmup,
			Confidence:   50,
			FeaturesUsed: map[string]any{},
		}
	}

	used := map[string]any{
		"thin_l1":        features.ThinL1.String(),
		"spread_bps":     features.SpreadBps,
		"natr_bps":       features.NatrBps,
		"net_return_bps": features.NetReturnBps,
		"range_score":    features.RangeScore,
	}

	if features.ThinL1.LessThan(cfg.ThinL1Qty) {
		return Decision{Regime: core.RegimeThinBook, Reason: ReasonThinLiquidity, Confidence: 90, FeaturesUsed: used}
	}
	if features.SpreadBps > cfg.SpreadThinBps {
		return Decision{Regime: core.RegimeThinBook, Reason: ReasonWideSpread, Confidence: 90, FeaturesUsed: used}
	}

	if features.NatrBps > cfg.VolShockNatrBps {
		return Decision{Regime: core.RegimeVolShock, Reason: ReasonHighVolatility, Confidence: 85, FeaturesUsed: used}
	}

	absNet := features.NetReturnBps
	if absNet < 0 {
		absNet = -absNet
	}
	if absNet > cfg.TrendNetReturnBps && features.RangeScore <= cfg.TrendRangeScoreMax {
		r := core.RegimeTrendUp
		if features.NetReturnBps < 0 {
			r = core.RegimeTrendDown
		}
		return Decision{Regime: r, Reason: ReasonTrendDetected, Confidence: 80, FeaturesUsed: used}
	}

	return Decision{Regime: core.RegimeRange, Reason: ReasonDefault, Confidence: 70, FeaturesUsed: used}
}
