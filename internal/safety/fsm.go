package safety

import (
	"sync"
)

// SystemState is the coarse process state.
type SystemState string

const (
	StateInit      SystemState = "INIT"
	StateReady     SystemState = "READY"
	StateActive    SystemState = "ACTIVE"
	StateThrottled SystemState = "THROTTLED"
	StatePaused    SystemState = "PAUSED"
	StateEmergency SystemState = "EMERGENCY"
	StateShutdown  SystemState = "SHUTDOWN"
)

// OrderIntentClass classifies what an order intent does to risk.
type OrderIntentClass string

const (
	IntentIncreaseRisk OrderIntentClass = "INCREASE_RISK"
	IntentReduceRisk   OrderIntentClass = "REDUCE_RISK"
	IntentCancel       OrderIntentClass = "CANCEL"
)

// FSMObserver receives state changes and blocked intents.
type FSMObserver interface {
	FSMState(state string)
	FSMTransition(from, to, reason string)
	FSMActionBlocked(state, intent string)
}

type nopFSMObserver struct{}

func (nopFSMObserver) FSMState(string)                {}
func (nopFSMObserver) FSMTransition(string, string, string) {}
func (nopFSMObserver) FSMActionBlocked(string, string)      {}

// FSMInputs are the flag and guard readings a tick derives state from.
type FSMInputs struct {
	HealthOK          bool
	Armed             bool
	OperatorPaused    bool
	ToxicityThrottled bool
	KillSwitchActive  bool
	DrawdownTripped   bool
	PositionReduced   bool
}

// FSM derives the system state from guards and flags. Single mutator
// (the main loop); readers take the lock.
type FSM struct {
	mu       sync.RWMutex
	state    SystemState
	observer FSMObserver
}

// NewFSM starts in INIT.
func NewFSM(observer FSMObserver) *FSM {
	if observer == nil {
		observer = nopFSMObserver{}
	}
	f := &FSM{state: StateInit, observer: observer}
	observer.FSMState(string(StateInit))
	return f
}

// State returns the current state.
func (f *FSM) State() SystemState {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state
}

func (f *FSM) transition(to SystemState, reason string) {
	if f.state == to {
		return
	}
	from := f.state
	f.state = to
	f.observer.FSMTransition(string(from), string(to), reason)
	f.observer.FSMState(string(to))
}

// Tick advances the FSM one step from the current inputs. At most one
// transition happens per tick, preserving the transition table.
func (f *FSM) Tick(in FSMInputs) SystemState {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch f.state {
	case StateInit:
		if in.HealthOK {
			f.transition(StateReady, "health_ok")
		}
	case StateReady:
		if in.Armed && !in.OperatorPaused && !in.KillSwitchActive {
			f.transition(StateActive, "armed")
		}
	case StateActive:
		switch {
		case in.KillSwitchActive || in.DrawdownTripped:
			f.transition(StateEmergency, "kill_switch")
		case in.OperatorPaused:
			f.transition(StatePaused, "operator_override")
		case in.ToxicityThrottled:
			f.transition(StateThrottled, "toxicity")
		}
	case StateThrottled:
		switch {
		case in.KillSwitchActive || in.DrawdownTripped:
			f.transition(StateEmergency, "kill_switch")
		case in.OperatorPaused:
			f.transition(StatePaused, "operator_override")
		case !in.ToxicityThrottled:
			f.transition(StateActive, "toxicity_cleared")
		}
	case StatePaused:
		if !in.OperatorPaused && !in.KillSwitchActive && in.Armed {
			f.transition(StateActive, "operator_resume")
		}
	case StateEmergency:
		if in.PositionReduced && !in.KillSwitchActive && !in.DrawdownTripped {
			f.transition(StatePaused, "position_reduced")
		}
	case StateShutdown:
		// terminal
	}
	return f.state
}

// Shutdown forces the terminal state from anywhere.
func (f *FSM) Shutdown() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transition(StateShutdown, "process_stop")
}

// AllowIntent reports whether an order intent class may proceed in the
// current state. Blocked intents are counted.
func (f *FSM) AllowIntent(class OrderIntentClass) bool {
	f.mu.RLock()
	state := f.state
	f.mu.RUnlock()

	allowed := true
	switch state {
	case StateActive:
		allowed = true
	case StateThrottled:
		allowed = class != IntentIncreaseRisk
	case StatePaused, StateEmergency:
		allowed = class == IntentCancel || class == IntentReduceRisk
	default:
		allowed = false
	}
	if !allowed {
		f.observer.FSMActionBlocked(string(state), string(class))
	}
	return allowed
}
