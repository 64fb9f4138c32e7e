// Package metrics implements the stable Prometheus contract: fixed
// metric names, a closed label vocabulary, placeholder series so every
// metric is always present, and no high-cardinality labels (symbol,
// order_id, key, client_id and idempotency_key never appear).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/bnzr-team/grinder/internal/core"
)

// placeholder is the label value emitted for metrics with no real
// series yet, so scrapers can assert presence.
const placeholder = "none"

var circuitStates = []string{"closed", "open", "half_open"}

var haRoles = []string{"active", "standby", "unknown"}

var fsmStates = []string{"INIT", "READY", "ACTIVE", "THROTTLED", "PAUSED", "EMERGENCY", "SHUTDOWN"}

// Registry owns every metric in the contract. It implements the
// observer interfaces of the gating chain, the idempotent port, the
// resilience layer, the safety interlocks, the reconcile engine, the
// account syncer and the leader elector. Process-owned: construct one
// at startup, pass by reference; tests build a fresh one.
type Registry struct {
	reg *prometheus.Registry

	up            prometheus.Gauge
	uptimeSeconds prometheus.GaugeFunc
	haRole        *prometheus.GaugeVec

	gatingAllowed *prometheus.CounterVec
	gatingBlocked *prometheus.CounterVec

	connectorRetries     *prometheus.CounterVec
	idempotencyHits      *prometheus.CounterVec
	idempotencyConflicts *prometheus.CounterVec
	idempotencyMisses    *prometheus.CounterVec

	circuitState    *prometheus.GaugeVec
	circuitRejected *prometheus.CounterVec
	circuitTrips    *prometheus.CounterVec

	reconcileMismatch       *prometheus.CounterVec
	reconcileActionPlanned  *prometheus.CounterVec
	reconcileActionExecuted *prometheus.CounterVec
	reconcileActionBlocked  *prometheus.CounterVec
	reconcileSnapshotTs     prometheus.Gauge

	budgetCallsUsed         prometheus.Gauge
	budgetCallsRemaining    prometheus.Gauge
	budgetNotionalUsed      prometheus.Gauge
	budgetNotionalRemaining prometheus.Gauge

	killSwitchTriggered prometheus.Gauge
	drawdownPct         prometheus.Gauge

	fsmCurrentState    *prometheus.GaugeVec
	fsmTransitions     *prometheus.CounterVec
	fsmActionBlocked   *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpRetries  *prometheus.CounterVec
	httpFail     *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec

	clock     core.Clock
	startedMs int64
}

// NewRegistry builds the full metric surface and emits the placeholder
// series.
func NewRegistry(clock core.Clock) *Registry {
	r := &Registry{
		reg:       prometheus.NewRegistry(),
		clock:     clock,
		startedMs: clock.NowMs(),
	}

	r.up = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "grinder_up", Help: "Process liveness flag.",
	})
	r.uptimeSeconds = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "grinder_uptime_seconds", Help: "Seconds since process start.",
	}, func() float64 {
		return float64(r.clock.NowMs()-r.startedMs) / 1000.0
	})
	r.haRole = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "grinder_ha_role", Help: "One-hot HA role.",
	}, []string{"role"})

	r.gatingAllowed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grinder_gating_allowed_total", Help: "Gate pass count.",
	}, []string{"gate"})
	r.gatingBlocked = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grinder_gating_blocked_total", Help: "Gate block count by reason.",
	}, []string{"gate", "reason"})

	r.connectorRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grinder_connector_retries_total", Help: "Port retry attempts by op and reason.",
	}, []string{"op", "reason"})
	r.idempotencyHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grinder_idempotency_hits_total", Help: "Idempotency cache hits.",
	}, []string{"op"})
	r.idempotencyConflicts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grinder_idempotency_conflicts_total", Help: "Idempotency INFLIGHT conflicts.",
	}, []string{"op"})
	r.idempotencyMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grinder_idempotency_misses_total", Help: "Idempotency misses (executions).",
	}, []string{"op"})

	r.circuitState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "grinder_circuit_state", Help: "One-hot breaker state per op.",
	}, []string{"op", "state"})
	r.circuitRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grinder_circuit_rejected_total", Help: "Calls rejected by an open breaker.",
	}, []string{"op"})
	r.circuitTrips = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grinder_circuit_trips_total", Help: "Breaker trips by op and reason.",
	}, []string{"op", "reason"})

	r.reconcileMismatch = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grinder_reconcile_mismatch_total", Help: "Detected mismatches by type.",
	}, []string{"type"})
	r.reconcileActionPlanned = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grinder_reconcile_action_planned_total", Help: "Planned remediation actions.",
	}, []string{"action"})
	r.reconcileActionExecuted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grinder_reconcile_action_executed_total", Help: "Executed remediation actions.",
	}, []string{"action"})
	r.reconcileActionBlocked = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grinder_reconcile_action_blocked_total", Help: "Blocked remediation actions.",
	}, []string{"action"})
	r.reconcileSnapshotTs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "grinder_reconcile_last_snapshot_ts_ms", Help: "Timestamp of the last observed snapshot.",
	})

	r.budgetCallsUsed = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "grinder_reconcile_budget_calls_used_day", Help: "Remediation calls used today.",
	})
	r.budgetCallsRemaining = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "grinder_reconcile_budget_calls_remaining_day", Help: "Remediation calls remaining today.",
	})
	r.budgetNotionalUsed = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "grinder_reconcile_budget_notional_used_day", Help: "Remediation notional used today (USDT).",
	})
	r.budgetNotionalRemaining = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "grinder_reconcile_budget_notional_remaining_day", Help: "Remediation notional remaining today (USDT).",
	})

	r.killSwitchTriggered = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "grinder_kill_switch_triggered", Help: "1 while the kill switch is latched.",
	})
	r.drawdownPct = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "grinder_drawdown_pct", Help: "Observational drawdown from HWM, percent.",
	})

	r.fsmCurrentState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "grinder_fsm_current_state", Help: "One-hot system state.",
	}, []string{"state"})
	r.fsmTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grinder_fsm_transitions_total", Help: "FSM transitions.",
	}, []string{"from_state", "to_state", "reason"})
	r.fsmActionBlocked = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grinder_fsm_action_blocked_total", Help: "Order intents blocked by FSM state.",
	}, []string{"state", "intent"})

	r.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grinder_http_requests_total", Help: "Outbound HTTP requests by op.",
	}, []string{"op"})
	r.httpRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grinder_http_retries_total", Help: "Outbound HTTP retries by op.",
	}, []string{"op"})
	r.httpFail = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grinder_http_fail_total", Help: "Outbound HTTP failures by op and reason.",
	}, []string{"op", "reason"})
	r.httpLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "grinder_http_latency_ms",
		Help:    "Outbound HTTP latency in milliseconds.",
		Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"op"})

	r.reg.MustRegister(
		r.up, r.uptimeSeconds, r.haRole,
		r.gatingAllowed, r.gatingBlocked,
		r.connectorRetries, r.idempotencyHits, r.idempotencyConflicts, r.idempotencyMisses,
		r.circuitState, r.circuitRejected, r.circuitTrips,
		r.reconcileMismatch, r.reconcileActionPlanned, r.reconcileActionExecuted,
		r.reconcileActionBlocked, r.reconcileSnapshotTs,
		r.budgetCallsUsed, r.budgetCallsRemaining, r.budgetNotionalUsed, r.budgetNotionalRemaining,
		r.killSwitchTriggered, r.drawdownPct,
		r.fsmCurrentState, r.fsmTransitions, r.fsmActionBlocked,
		r.httpRequests, r.httpRetries, r.httpFail, r.httpLatency,
	)

	r.seedPlaceholders()
	r.up.Set(1)
	return r
}

// seedPlaceholders guarantees at least one series per metric.
func (r *Registry) seedPlaceholders() {
	for _, role := range haRoles {
		r.haRole.WithLabelValues(role).Set(0)
	}
	r.gatingAllowed.WithLabelValues(placeholder).Add(0)
	r.gatingBlocked.WithLabelValues(placeholder, placeholder).Add(0)
	r.connectorRetries.WithLabelValues(placeholder, placeholder).Add(0)
	r.idempotencyHits.WithLabelValues(placeholder).Add(0)
	r.idempotencyConflicts.WithLabelValues(placeholder).Add(0)
	r.idempotencyMisses.WithLabelValues(placeholder).Add(0)
	r.circuitState.WithLabelValues(placeholder, placeholder).Set(0)
	r.circuitRejected.WithLabelValues(placeholder).Add(0)
	r.circuitTrips.WithLabelValues(placeholder, placeholder).Add(0)
	r.reconcileMismatch.WithLabelValues(placeholder).Add(0)
	r.reconcileActionPlanned.WithLabelValues(placeholder).Add(0)
	r.reconcileActionExecuted.WithLabelValues(placeholder).Add(0)
	r.reconcileActionBlocked.WithLabelValues(placeholder).Add(0)
	for _, state := range fsmStates {
		r.fsmCurrentState.WithLabelValues(state).Set(0)
	}
	r.fsmTransitions.WithLabelValues(placeholder, placeholder, placeholder).Add(0)
	r.fsmActionBlocked.WithLabelValues(placeholder, placeholder).Add(0)
	r.httpRequests.WithLabelValues(placeholder).Add(0)
	r.httpRetries.WithLabelValues(placeholder).Add(0)
	r.httpFail.WithLabelValues(placeholder, placeholder).Add(0)
	r.httpLatency.WithLabelValues(placeholder).Observe(0)
}

// Prometheus returns the underlying registry for the HTTP handler.
func (r *Registry) Prometheus() *prometheus.Registry { return r.reg }

// --- gating.Recorder ---

func (r *Registry) GateAllowed(gate string) { r.gatingAllowed.WithLabelValues(gate).Inc() }

func (r *Registry) GateBlocked(gate, reason string) {
	r.gatingBlocked.WithLabelValues(gate, reason).Inc()
}

// --- exchange.IdempotencyObserver ---

func (r *Registry) IdempotencyHit(op string) { r.idempotencyHits.WithLabelValues(op).Inc() }

func (r *Registry) IdempotencyConflict(op string) { r.idempotencyConflicts.WithLabelValues(op).Inc() }

func (r *Registry) IdempotencyMiss(op string) { r.idempotencyMisses.WithLabelValues(op).Inc() }

// --- resilience.RetryObserver / CircuitObserver ---

func (r *Registry) RetryAttempt(op, reason string) {
	r.connectorRetries.WithLabelValues(op, reason).Inc()
}

func (r *Registry) CircuitStateChanged(op, state string) {
	for _, s := range circuitStates {
		v := 0.0
		if s == state {
			v = 1.0
		}
		r.circuitState.WithLabelValues(op, s).Set(v)
	}
}

func (r *Registry) CircuitRejected(op string) { r.circuitRejected.WithLabelValues(op).Inc() }

func (r *Registry) CircuitTripped(op, reason string) {
	r.circuitTrips.WithLabelValues(op, reason).Inc()
}

// --- reconcile.Observer ---

func (r *Registry) Mismatch(mismatchType string) {
	r.reconcileMismatch.WithLabelValues(mismatchType).Inc()
}

func (r *Registry) ActionPlanned(action string) {
	r.reconcileActionPlanned.WithLabelValues(action).Inc()
}

func (r *Registry) ActionExecuted(action string) {
	r.reconcileActionExecuted.WithLabelValues(action).Inc()
}

func (r *Registry) ActionBlocked(action string) {
	r.reconcileActionBlocked.WithLabelValues(action).Inc()
}

func (r *Registry) SnapshotTs(tsMs int64) { r.reconcileSnapshotTs.Set(float64(tsMs)) }

func (r *Registry) BudgetGauges(callsUsed, callsRemaining int, notionalUsed, notionalRemaining decimal.Decimal) {
	r.budgetCallsUsed.Set(float64(callsUsed))
	r.budgetCallsRemaining.Set(float64(callsRemaining))
	nu, _ := notionalUsed.Float64()
	nr, _ := notionalRemaining.Float64()
	r.budgetNotionalUsed.Set(nu)
	r.budgetNotionalRemaining.Set(nr)
}

// --- account.Observer ---

func (r *Registry) SyncMismatch(mismatchType string) {
	r.reconcileMismatch.WithLabelValues(mismatchType).Inc()
}

// --- safety observers ---

func (r *Registry) KillSwitchTriggered(triggered bool) {
	if triggered {
		r.killSwitchTriggered.Set(1)
	} else {
		r.killSwitchTriggered.Set(0)
	}
}

func (r *Registry) DrawdownPct(pct float64) { r.drawdownPct.Set(pct) }

func (r *Registry) FSMState(state string) {
	for _, s := range fsmStates {
		v := 0.0
		if s == state {
			v = 1.0
		}
		r.fsmCurrentState.WithLabelValues(s).Set(v)
	}
}

func (r *Registry) FSMTransition(from, to, reason string) {
	r.fsmTransitions.WithLabelValues(from, to, reason).Inc()
}

func (r *Registry) FSMActionBlocked(state, intent string) {
	r.fsmActionBlocked.WithLabelValues(state, intent).Inc()
}

// --- ha.Observer ---

func (r *Registry) HARole(role string) {
	for _, s := range haRoles {
		v := 0.0
		if s == role {
			v = 1.0
		}
		r.haRole.WithLabelValues(s).Set(v)
	}
}

// --- httpx observer ---

func (r *Registry) HTTPRequest(op string) { r.httpRequests.WithLabelValues(op).Inc() }

func (r *Registry) HTTPRetry(op string) { r.httpRetries.WithLabelValues(op).Inc() }

func (r *Registry) HTTPFail(op, reason string) { r.httpFail.WithLabelValues(op, reason).Inc() }

func (r *Registry) HTTPLatencyMs(op string, ms float64) {
	r.httpLatency.WithLabelValues(op).Observe(ms)
}
