package safety

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHappyPathInitReadyActive(t *testing.T) {
	fsm := NewFSM(nil)
	assert.Equal(t, StateInit, fsm.State())

	fsm.Tick(FSMInputs{HealthOK: true})
	assert.Equal(t, StateReady, fsm.State())

	fsm.Tick(FSMInputs{HealthOK: true, Armed: true})
	assert.Equal(t, StateActive, fsm.State())
}

func TestActiveToEmergencyOnKillSwitch(t *testing.T) {
	fsm := activeFSM(t)
	fsm.Tick(FSMInputs{HealthOK: true, Armed: true, KillSwitchActive: true})
	assert.Equal(t, StateEmergency, fsm.State())
}

func TestActiveToThrottledAndBack(t *testing.T) {
	fsm := activeFSM(t)
	fsm.Tick(FSMInputs{HealthOK: true, Armed: true, ToxicityThrottled: true})
	assert.Equal(t, StateThrottled, fsm.State())

	fsm.Tick(FSMInputs{HealthOK: true, Armed: true})
	assert.Equal(t, StateActive, fsm.State())
}

func TestActiveToPausedOnOperator(t *testing.T) {
	fsm := activeFSM(t)
	fsm.Tick(FSMInputs{HealthOK: true, Armed: true, OperatorPaused: true})
	assert.Equal(t, StatePaused, fsm.State())
}

func TestEmergencyToPausedRequiresReducedAndClearedGuards(t *testing.T) {
	fsm := activeFSM(t)
	fsm.Tick(FSMInputs{HealthOK: true, Armed: true, DrawdownTripped: true})
	require.Equal(t, StateEmergency, fsm.State())

	// Still breached: stays in emergency even if reduced.
	fsm.Tick(FSMInputs{HealthOK: true, Armed: true, DrawdownTripped: true, PositionReduced: true})
	assert.Equal(t, StateEmergency, fsm.State())

	// Guards cleared and position reduced: paused.
	fsm.Tick(FSMInputs{HealthOK: true, Armed: true, PositionReduced: true})
	assert.Equal(t, StatePaused, fsm.State())
}

func TestShutdownIsTerminal(t *testing.T) {
	fsm := activeFSM(t)
	fsm.Shutdown()
	assert.Equal(t, StateShutdown, fsm.State())
	fsm.Tick(FSMInputs{HealthOK: true, Armed: true})
	assert.Equal(t, StateShutdown, fsm.State())
}

func TestIntentBlocking(t *testing.T) {
	events := &fsmEvents{}
	fsm := NewFSM(events)
	fsm.Tick(FSMInputs{HealthOK: true})
	fsm.Tick(FSMInputs{HealthOK: true, Armed: true})
	require.Equal(t, StateActive, fsm.State())

	assert.True(t, fsm.AllowIntent(IntentIncreaseRisk))

	fsm.Tick(FSMInputs{HealthOK: true, Armed: true, OperatorPaused: true})
	require.Equal(t, StatePaused, fsm.State())
	assert.False(t, fsm.AllowIntent(IntentIncreaseRisk))
	assert.True(t, fsm.AllowIntent(IntentCancel))
	assert.True(t, fsm.AllowIntent(IntentReduceRisk))

	assert.Contains(t, events.blocked, [2]string{"PAUSED", "INCREASE_RISK"})
}

func TestThrottledBlocksOnlyIncreaseRisk(t *testing.T) {
	fsm := activeFSM(t)
	fsm.Tick(FSMInputs{HealthOK: true, Armed: true, ToxicityThrottled: true})
	require.Equal(t, StateThrottled, fsm.State())

	assert.False(t, fsm.AllowIntent(IntentIncreaseRisk))
	assert.True(t, fsm.AllowIntent(IntentReduceRisk))
	assert.True(t, fsm.AllowIntent(IntentCancel))
}

type fsmEvents struct {
	transitions [][3]string
	blocked     [][2]string
}

func (f *fsmEvents) FSMState(string) {}
func (f *fsmEvents) FSMTransition(from, to, reason string) {
	f.transitions = append(f.transitions, [3]string{from, to, reason})
}
func (f *fsmEvents) FSMActionBlocked(state, intent string) {
	f.blocked = append(f.blocked, [2]string{state, intent})
}

func TestTransitionObserver(t *testing.T) {
	events := &fsmEvents{}
	fsm := NewFSM(events)
	fsm.Tick(FSMInputs{HealthOK: true})
	fsm.Tick(FSMInputs{HealthOK: true, Armed: true})

	require.Len(t, events.transitions, 2)
	assert.Equal(t, [3]string{"INIT", "READY", "health_ok"}, events.transitions[0])
	assert.Equal(t, [3]string{"READY", "ACTIVE", "armed"}, events.transitions[1])
}

func activeFSM(t *testing.T) *FSM {
	t.Helper()
	fsm := NewFSM(nil)
	fsm.Tick(FSMInputs{HealthOK: true})
	fsm.Tick(FSMInputs{HealthOK: true, Armed: true})
	require.Equal(t, StateActive, fsm.State())
	return fsm
}
