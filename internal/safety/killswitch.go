package safety

import "sync"

// Kill switch trip reasons.
const (
	KillReasonDrawdownLimit = "DRAWDOWN_LIMIT"
	KillReasonManual        = "MANUAL"
	KillReasonError         = "ERROR"
)

// KillSwitchObserver receives trip state changes.
type KillSwitchObserver interface {
	KillSwitchTriggered(triggered bool)
}

type nopKillObserver struct{}

func (nopKillObserver) KillSwitchTriggered(bool) {}

// KillSwitch is the latched global stop. Trip is idempotent: the first
// reason, timestamp and details win; later trips are ignored.
type KillSwitch struct {
	mu            sync.RWMutex
	triggered     bool
	reason        string
	triggeredAtTS int64
	details       map[string]any
	observer      KillSwitchObserver
}

// NewKillSwitch creates an untriggered switch. observer may be nil.
func NewKillSwitch(observer KillSwitchObserver) *KillSwitch {
	if observer == nil {
		observer = nopKillObserver{}
	}
	return &KillSwitch{observer: observer}
}

// Trip latches the switch. Returns true if this call did the trip.
func (k *KillSwitch) Trip(reason string, ts int64, details map[string]any) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.triggered {
		return false
	}
	k.triggered = true
	k.reason = reason
	k.triggeredAtTS = ts
	k.details = details
	k.observer.KillSwitchTriggered(true)
	return true
}

// IsTriggered reports the latched state.
func (k *KillSwitch) IsTriggered() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.triggered
}

// TripReason returns the frozen first trip reason, or "".
func (k *KillSwitch) TripReason() string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.reason
}

// TrippedAt returns the frozen trip timestamp.
func (k *KillSwitch) TrippedAt() int64 {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.triggeredAtTS
}

// Details returns the frozen trip details.
func (k *KillSwitch) Details() map[string]any {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.details
}

// Reset clears the switch.
func (k *KillSwitch) Reset() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.triggered = false
	k.reason = ""
	k.triggeredAtTS = 0
	k.details = nil
	k.observer.KillSwitchTriggered(false)
}
