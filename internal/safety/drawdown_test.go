package safety

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestHWMTracksPeak(t *testing.T) {
	g, err := NewDrawdownGuard(d("10000"), 5.0, nil)
	require.NoError(t, err)

	g.Update(d("10500"))
	assert.True(t, g.HighWaterMark().Equal(d("10500")))

	g.Update(d("10200"))
	assert.True(t, g.HighWaterMark().Equal(d("10500")), "HWM never decreases")
}

func TestTriggerExactlyAtThreshold(t *testing.T) {
	g, err := NewDrawdownGuard(d("10000"), 5.0, nil)
	require.NoError(t, err)

	// Exactly 5%: triggers.
	result := g.Update(d("9500"))
	assert.True(t, result.Triggered)
	assert.InDelta(t, 5.0, result.DrawdownPct, 1e-9)
}

func TestOneBasisPointBelowThresholdDoesNotTrigger(t *testing.T) {
	g, err := NewDrawdownGuard(d("10000"), 5.0, nil)
	require.NoError(t, err)

	// 4.99%: one bp below the threshold.
	result := g.Update(d("9501"))
	assert.False(t, result.Triggered)
}

func TestLatchedUnderRecovery(t *testing.T) {
	g, err := NewDrawdownGuard(d("10000"), 5.0, nil)
	require.NoError(t, err)

	require.True(t, g.Update(d("9400")).Triggered)

	// Full recovery does not clear the latch.
	result := g.Update(d("11000"))
	assert.True(t, result.Triggered)
	assert.Equal(t, true, result.Details["previously_triggered"])
	assert.True(t, g.IsTriggered())
}

func TestDrawdownScenario(t *testing.T) {
	// Equity sequence [10000, 10500, 9700]: HWM 10500, drawdown ~7.6%.
	g, err := NewDrawdownGuard(d("10000"), 5.0, nil)
	require.NoError(t, err)

	assert.False(t, g.Update(d("10000")).Triggered)
	assert.False(t, g.Update(d("10500")).Triggered)

	result := g.Update(d("9700"))
	assert.True(t, result.Triggered)
	assert.True(t, result.HighWaterMark.Equal(d("10500")))
	assert.InDelta(t, 7.619, result.DrawdownPct, 0.001)
}

func TestResetWithNewCapital(t *testing.T) {
	g, err := NewDrawdownGuard(d("10000"), 5.0, nil)
	require.NoError(t, err)
	g.Update(d("9000"))
	require.True(t, g.IsTriggered())

	g.Reset(d("9000"))
	assert.False(t, g.IsTriggered())
	assert.True(t, g.HighWaterMark().Equal(d("9000")))
	assert.False(t, g.Update(d("8800")).Triggered, "2.2% below new HWM")
}

func TestConstructorValidation(t *testing.T) {
	_, err := NewDrawdownGuard(d("0"), 5.0, nil)
	assert.Error(t, err)
	_, err = NewDrawdownGuard(d("100"), 0, nil)
	assert.Error(t, err)
	_, err = NewDrawdownGuard(d("100"), 101, nil)
	assert.Error(t, err)
}
