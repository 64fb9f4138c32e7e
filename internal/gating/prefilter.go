package gating

import (
	"github.com/shopspring/decimal"

	"github.com/bnzr-team/grinder/internal/core"
)

// Prefilter block reasons. Closed set.
const (
	ReasonBlacklisted    = "BLACKLISTED"
	ReasonDelisting      = "DELISTING"
	ReasonSpreadTooHigh  = "SPREAD_TOO_HIGH"
	ReasonVol24hTooLow   = "VOL_24H_TOO_LOW"
	ReasonVol1hTooLow    = "VOL_1H_TOO_LOW"
	ReasonActivityTooLow = "ACTIVITY_TOO_LOW"
	ReasonOITooLow       = "OI_TOO_LOW"
)

// PrefilterConfig is the static universe admission policy.
type PrefilterConfig struct {
	Blacklist       map[string]bool
	MaxSpreadBps    int64
	MinVol24hUSDT   decimal.Decimal
	MinVol1hUSDT    decimal.Decimal
	MinTradeCount1h int64
	MinOpenInterest decimal.Decimal
}

// Prefilter admits symbols into the trading universe.
type Prefilter struct {
	config PrefilterConfig
}

// NewPrefilter creates the prefilter gate.
func NewPrefilter(config PrefilterConfig) *Prefilter {
	if config.Blacklist == nil {
		config.Blacklist = map[string]bool{}
	}
	return &Prefilter{config: config}
}

func (p *Prefilter) Name() string { return GatePrefilter }

func (p *Prefilter) Evaluate(ctx Context) core.GatingResult {
	if p.config.Blacklist[ctx.Symbol] {
		return core.Blocked(ReasonBlacklisted, nil)
	}
	if ctx.Market.Delisting {
		return core.Blocked(ReasonDelisting, nil)
	}
	if p.config.MaxSpreadBps > 0 && ctx.Features != nil && ctx.Features.SpreadBps > p.config.MaxSpreadBps {
		return core.Blocked(ReasonSpreadTooHigh, map[string]any{"spread_bps": ctx.Features.SpreadBps})
	}
	if !p.config.MinVol24hUSDT.IsZero() && ctx.Market.Vol24hUSDT.LessThan(p.config.MinVol24hUSDT) {
		return core.Blocked(ReasonVol24hTooLow, map[string]any{"vol_24h": ctx.Market.Vol24hUSDT.String()})
	}
	if !p.config.MinVol1hUSDT.IsZero() && ctx.Market.Vol1hUSDT.LessThan(p.config.MinVol1hUSDT) {
		return core.Blocked(ReasonVol1hTooLow, map[string]any{"vol_1h": ctx.Market.Vol1hUSDT.String()})
	}
	if p.config.MinTradeCount1h > 0 && ctx.Market.TradeCount1h < p.config.MinTradeCount1h {
		return core.Blocked(ReasonActivityTooLow, map[string]any{"trade_count_1h": ctx.Market.TradeCount1h})
	}
	if !p.config.MinOpenInterest.IsZero() && ctx.Market.OpenInterest.LessThan(p.config.MinOpenInterest) {
		return core.Blocked(ReasonOITooLow, map[string]any{"open_interest": ctx.Market.OpenInterest.String()})
	}
	return core.Allowed()
}
