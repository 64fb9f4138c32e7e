// Package safety holds the interlocks: drawdown guard, kill switch,
// consecutive-loss guard, the system FSM, and the emergency exit
// executor. Guard trips are latched: only an explicit operator reset
// undoes them.
package safety

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DrawdownObserver receives the observational drawdown percentage.
type DrawdownObserver interface {
	DrawdownPct(pct float64)
}

type nopDrawdownObserver struct{}

func (nopDrawdownObserver) DrawdownPct(float64) {}

// DrawdownCheckResult is the outcome of one equity update.
type DrawdownCheckResult struct {
	Equity        decimal.Decimal
	HighWaterMark decimal.Decimal
	DrawdownPct   float64
	ThresholdPct  float64
	Triggered     bool
	Details       map[string]any
}

// DrawdownGuard tracks the equity high-water mark and latches once the
// drawdown from the peak reaches the threshold.
type DrawdownGuard struct {
	initialCapital     decimal.Decimal
	maxDrawdownPct     float64
	highWaterMark      decimal.Decimal
	triggered          bool
	triggerEquity      decimal.Decimal
	triggerDrawdownPct float64
	observer           DrawdownObserver
}

// NewDrawdownGuard creates a guard. observer may be nil.
func NewDrawdownGuard(initialCapital decimal.Decimal, maxDrawdownPct float64, observer DrawdownObserver) (*DrawdownGuard, error) {
	if !initialCapital.IsPositive() {
		return nil, fmt.Errorf("initial_capital must be positive, got %s", initialCapital)
	}
	if maxDrawdownPct <= 0 || maxDrawdownPct > 100 {
		return nil, fmt.Errorf("max_drawdown_pct must be in (0, 100], got %v", maxDrawdownPct)
	}
	if observer == nil {
		observer = nopDrawdownObserver{}
	}
	return &DrawdownGuard{
		initialCapital: initialCapital,
		maxDrawdownPct: maxDrawdownPct,
		highWaterMark:  initialCapital,
		observer:       observer,
	}, nil
}

// IsTriggered reports the latched state.
func (g *DrawdownGuard) IsTriggered() bool { return g.triggered }

// HighWaterMark returns the current HWM.
func (g *DrawdownGuard) HighWaterMark() decimal.Decimal { return g.highWaterMark }

// Update observes a new equity value and checks the threshold. Once
// triggered, every subsequent update reports triggered with
// previously_triggered in the details.
func (g *DrawdownGuard) Update(equity decimal.Decimal) DrawdownCheckResult {
	if equity.GreaterThan(g.highWaterMark) {
		g.highWaterMark = equity
	}

	drawdownPct := 0.0
	if g.highWaterMark.IsPositive() {
		dd := g.highWaterMark.Sub(equity).Div(g.highWaterMark).Mul(decimal.NewFromInt(100))
		drawdownPct, _ = dd.Float64()
	}
	if drawdownPct < 0 {
		drawdownPct = 0
	}
	g.observer.DrawdownPct(drawdownPct)

	result := DrawdownCheckResult{
		Equity:        equity,
		HighWaterMark: g.highWaterMark,
		DrawdownPct:   drawdownPct,
		ThresholdPct:  g.maxDrawdownPct,
	}

	if g.triggered {
		result.Triggered = true
		result.Details = map[string]any{
			"previously_triggered": true,
			"trigger_equity":       g.triggerEquity.String(),
			"trigger_drawdown_pct": g.triggerDrawdownPct,
		}
		return result
	}

	if drawdownPct >= g.maxDrawdownPct {
		g.triggered = true
		g.triggerEquity = equity
		g.triggerDrawdownPct = drawdownPct
		result.Triggered = true
		result.Details = map[string]any{"previously_triggered": false}
	}
	return result
}

// Reset clears the latch. A positive newCapital restarts the HWM.
func (g *DrawdownGuard) Reset(newCapital decimal.Decimal) {
	g.triggered = false
	g.triggerEquity = decimal.Zero
	g.triggerDrawdownPct = 0
	if newCapital.IsPositive() {
		g.initialCapital = newCapital
		g.highWaterMark = newCapital
	}
}
