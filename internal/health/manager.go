// Package health aggregates component probes for /healthz and
// readiness gating. Probe failures are classified through the port
// error taxonomy: transient transport trouble degrades a component
// without dropping readiness, anything else fails it.
package health

import (
	"errors"
	"sync"

	"github.com/bnzr-team/grinder/internal/core"
)

// Status of one component probe.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusFailed   Status = "failed"
)

// CheckResult is the classified outcome of one probe run.
type CheckResult struct {
	Status      Status
	Err         error
	CheckedAtMs int64
}

// Manager runs registered component probes on demand and keeps the
// last classified result per component.
type Manager struct {
	logger core.ILogger
	clock  core.Clock
	mu     sync.RWMutex
	checks map[string]func() error
	last   map[string]CheckResult
}

// NewManager creates a health manager.
func NewManager(clock core.Clock, logger core.ILogger) *Manager {
	return &Manager{
		logger: logger.WithField("component", "health_manager"),
		clock:  clock,
		checks: make(map[string]func() error),
		last:   make(map[string]CheckResult),
	}
}

// Register adds a probe for a component.
func (m *Manager) Register(component string, check func() error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[component] = check
}

// classify maps a probe error onto a status. A transient PortError
// (timeout, connect, 5xx) or an open breaker means the dependency is
// momentarily unreachable, not broken: degraded. Everything else,
// including non-PortError failures, fails the component.
func classify(err error) Status {
	if err == nil {
		return StatusOK
	}
	var pe *core.PortError
	if errors.As(err, &pe) {
		switch pe.Kind {
		case core.KindTransient, core.KindCircuitOpen:
			return StatusDegraded
		}
	}
	return StatusFailed
}

// Snapshot runs every probe and returns the classified results.
func (m *Manager) Snapshot() map[string]CheckResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.NowMs()
	out := make(map[string]CheckResult, len(m.checks))
	for component, check := range m.checks {
		err := check()
		result := CheckResult{Status: classify(err), Err: err, CheckedAtMs: now}
		if prev, ok := m.last[component]; ok && prev.Status == StatusOK && result.Status != StatusOK {
			m.logger.Warn("component health changed",
				"probe", component, "status", string(result.Status), "error", err)
		}
		m.last[component] = result
		out[component] = result
	}
	return out
}

// GetStatus renders the probe results as strings for the health body.
func (m *Manager) GetStatus() map[string]string {
	status := make(map[string]string)
	for component, result := range m.Snapshot() {
		if result.Err != nil {
			status[component] = string(result.Status) + ": " + result.Err.Error()
		} else {
			status[component] = string(result.Status)
		}
	}
	return status
}

// IsHealthy reports whether readiness may be served: no component is
// failed. Degraded components keep the instance ready, the retry and
// breaker layers own transient recovery.
func (m *Manager) IsHealthy() bool {
	for _, result := range m.Snapshot() {
		if result.Status == StatusFailed {
			return false
		}
	}
	return true
}
