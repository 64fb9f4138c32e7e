package gating

import (
	"github.com/bnzr-team/grinder/internal/core"
)

// Kill-switch gate block reasons.
const (
	ReasonKillSwitchActive       = "KILL_SWITCH_ACTIVE"
	ReasonDrawdownLimitExceeded  = "DRAWDOWN_LIMIT_EXCEEDED"
	killSwitchReasonDrawdownTrip = "DRAWDOWN_LIMIT"
)

// KillSwitchProbe is the narrow view of the kill switch this gate
// needs. Avoids a dependency on the safety package.
type KillSwitchProbe interface {
	IsTriggered() bool
	TripReason() string
}

// KillSwitchGate is the terminal gate: a latched global stop.
type KillSwitchGate struct {
	probe KillSwitchProbe
}

// NewKillSwitchGate creates the gate.
func NewKillSwitchGate(probe KillSwitchProbe) *KillSwitchGate {
	return &KillSwitchGate{probe: probe}
}

func (g *KillSwitchGate) Name() string { return GateKillSwitch }

func (g *KillSwitchGate) Evaluate(_ Context) core.GatingResult {
	if !g.probe.IsTriggered() {
		return core.Allowed()
	}
	reason := ReasonKillSwitchActive
	if g.probe.TripReason() == killSwitchReasonDrawdownTrip {
		reason = ReasonDrawdownLimitExceeded
	}
	return core.Blocked(reason, map[string]any{"trip_reason": g.probe.TripReason()})
}
