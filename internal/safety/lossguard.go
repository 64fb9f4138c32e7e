package safety

import (
	"github.com/shopspring/decimal"
)

// ConsecutiveLossGuard trips the kill switch after N losing fills in a
// row. Latched via the kill switch; any non-losing fill resets the
// streak, also after the switch has tripped.
type ConsecutiveLossGuard struct {
	maxLosses  int
	losses     int
	killSwitch *KillSwitch
}

// NewConsecutiveLossGuard creates the guard. maxLosses <= 0 disables
// it.
func NewConsecutiveLossGuard(maxLosses int, killSwitch *KillSwitch) *ConsecutiveLossGuard {
	return &ConsecutiveLossGuard{maxLosses: maxLosses, killSwitch: killSwitch}
}

// RecordFill observes the realized pnl of one closed fill.
func (g *ConsecutiveLossGuard) RecordFill(pnl decimal.Decimal, ts int64) {
	if g.maxLosses <= 0 {
		return
	}
	if pnl.IsNegative() {
		g.losses++
		if g.losses >= g.maxLosses {
			g.killSwitch.Trip(KillReasonError, ts, map[string]any{
				"guard":              "consecutive_loss",
				"consecutive_losses": g.losses,
			})
		}
		return
	}
	g.losses = 0
}

// Streak returns the current losing streak.
func (g *ConsecutiveLossGuard) Streak() int { return g.losses }

// Reset clears the streak.
func (g *ConsecutiveLossGuard) Reset() { g.losses = 0 }
