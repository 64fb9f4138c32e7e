package regime

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/bnzr-team/grinder/internal/core"
)

func calmFeatures() *core.FeatureSnapshot {
	return &core.FeatureSnapshot{
		Symbol:       "BTCUSDT",
		MidPrice:     decimal.RequireFromString("50000"),
		SpreadBps:    2,
		ThinL1:       decimal.RequireFromString("5"),
		NatrBps:      50,
		NetReturnBps: 10,
		RangeScore:   20,
	}
}

func TestKillSwitchBeatsEverything(t *testing.T) {
	blocked := core.Blocked("SPREAD_SPIKE", nil)
	decision := Classify(calmFeatures(), true, &blocked, DefaultConfig())
	assert.Equal(t, core.RegimeEmergency, decision.Regime)
	assert.Equal(t, ReasonKillSwitch, decision.Reason)
	assert.Equal(t, 100, decision.Confidence)
}

func TestToxicityBeatsFeatures(t *testing.T) {
	blocked := core.Blocked("SPREAD_SPIKE", nil)
	decision := Classify(calmFeatures(), false, &blocked, DefaultConfig())
	assert.Equal(t, core.RegimeToxic, decision.Regime)
	assert.Equal(t, ReasonSpreadSpike, decision.Reason)

	impact := core.Blocked("PRICE_IMPACT_HIGH", nil)
	decision = Classify(calmFeatures(), false, &impact, DefaultConfig())
	assert.Equal(t, core.RegimeToxic, decision.Regime)
	assert.Equal(t, ReasonPriceImpact, decision.Reason)
}

func TestWarmupDefaultsToRange(t *testing.T) {
	decision := Classify(nil, false, nil, DefaultConfig())
	assert.Equal(t, core.RegimeRange, decision.Regime)
	assert.Equal(t, ReasonWarmup, decision.Reason)
	assert.Equal(t, 50, decision.Confidence)
}

func TestThinBook(t *testing.T) {
	fs := calmFeatures()
	fs.ThinL1 = decimal.RequireFromString("0.05")
	decision := Classify(fs, false, nil, DefaultConfig())
	assert.Equal(t, core.RegimeThinBook, decision.Regime)
	assert.Equal(t, ReasonThinLiquidity, decision.Reason)

	fs = calmFeatures()
	fs.SpreadBps = 150
	decision = Classify(fs, false, nil, DefaultConfig())
	assert.Equal(t, core.RegimeThinBook, decision.Regime)
	assert.Equal(t, ReasonWideSpread, decision.Reason)
}

func TestVolShock(t *testing.T) {
	fs := calmFeatures()
	fs.NatrBps = 600
	decision := Classify(fs, false, nil, DefaultConfig())
	assert.Equal(t, core.RegimeVolShock, decision.Regime)
}

func TestTrendBySign(t *testing.T) {
	fs := calmFeatures()
	fs.NetReturnBps = 300
	fs.RangeScore = 2
	decision := Classify(fs, false, nil, DefaultConfig())
	assert.Equal(t, core.RegimeTrendUp, decision.Regime)

	fs.NetReturnBps = -300
	decision = Classify(fs, false, nil, DefaultConfig())
	assert.Equal(t, core.RegimeTrendDown, decision.Regime)
}

func TestChoppyTrendStaysRange(t *testing.T) {
	fs := calmFeatures()
	fs.NetReturnBps = 300
	fs.RangeScore = 10 // above TrendRangeScoreMax
	decision := Classify(fs, false, nil, DefaultConfig())
	assert.Equal(t, core.RegimeRange, decision.Regime)
	assert.Equal(t, ReasonDefault, decision.Reason)
}

func TestAllowedToxicityResultIsIgnored(t *testing.T) {
	allowed := core.Allowed()
	decision := Classify(calmFeatures(), false, &allowed, DefaultConfig())
	assert.Equal(t, core.RegimeRange, decision.Regime)
}
