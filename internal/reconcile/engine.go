package reconcile

import (
	"context"
	"fmt"

	"github.com/bnzr-team/grinder/internal/core"
	"github.com/bnzr-team/grinder/internal/exchange"
	"github.com/bnzr-team/grinder/pkg/telemetry"
)

// Mode selects whether remediation executes or only plans.
type Mode string

const (
	ModeDryRun Mode = "dry_run"
	ModeLive   Mode = "live"
)

// RoleProbe reports whether this instance may write.
type RoleProbe interface {
	IsActive() bool
}

// EngineConfig tunes the reconcile engine.
type EngineConfig struct {
	Mode               Mode
	OrderGracePeriodMs int64
}

// Engine runs reconcile cycles: detect mismatches, plan actions,
// execute bounded remediation.
type Engine struct {
	config   EngineConfig
	expected *ExpectedStateStore
	observed *ObservedStateStore
	identity exchange.IdentityConfig
	budget   *Budget
	audit    *AuditWriter
	port     core.ExchangePort
	role     RoleProbe
	clock    core.Clock
	observer Observer
	logger   core.ILogger
}

// NewEngine wires the reconcile engine. observer may be nil; audit may
// be nil (no audit trail); port may be nil in dry-run.
func NewEngine(
	config EngineConfig,
	expected *ExpectedStateStore,
	observed *ObservedStateStore,
	identity exchange.IdentityConfig,
	budget *Budget,
	audit *AuditWriter,
	port core.ExchangePort,
	role RoleProbe,
	clock core.Clock,
	observer Observer,
	logger core.ILogger,
) *Engine {
	if observer == nil {
		observer = NopObserver{}
	}
	return &Engine{
		config:   config,
		expected: expected,
		observed: observed,
		identity: identity,
		budget:   budget,
		audit:    audit,
		port:     port,
		role:     role,
		clock:    clock,
		observer: observer,
		logger:   logger.WithField("component", "reconcile_engine"),
	}
}

// Detect runs the mismatch rules against the current stores.
func (e *Engine) Detect(nowMs int64) []Mismatch {
	var mismatches []Mismatch

	observedOrders := e.observed.Orders()
	observedByClientID := make(map[string]ObservedOrder, len(observedOrders))
	for _, o := range observedOrders {
		observedByClientID[o.ClientOrderID] = o
	}

	// Rule 1: expected orders missing or diverged on the exchange.
	expectedByClientID := make(map[string]bool)
	for _, exp := range e.expected.Orders() {
		expectedByClientID[exp.ClientOrderID] = true
		if exp.Status.IsTerminal() {
			continue
		}
		obs, found := observedByClientID[exp.ClientOrderID]
		if !found {
			if nowMs-exp.CreatedTsMs > e.config.OrderGracePeriodMs {
				mismatches = append(mismatches, Mismatch{
					Type:          MismatchOrderMissing,
					Symbol:        exp.Symbol,
					ClientOrderID: exp.ClientOrderID,
					Expected:      string(exp.Status),
					Observed:      "ABSENT",
					TsDetected:    nowMs,
					ActionPlan:    fmt.Sprintf("would mark %s terminal and refresh level", exp.ClientOrderID),
					Action:        ActionNone,
				})
			}
			continue
		}
		if obs.Status != exp.Status && !obs.Status.IsTerminal() {
			mismatches = append(mismatches, Mismatch{
				Type:          MismatchStatusDivergence,
				Symbol:        exp.Symbol,
				ClientOrderID: exp.ClientOrderID,
				Expected:      string(exp.Status),
				Observed:      string(obs.Status),
				TsDetected:    nowMs,
				ActionPlan:    fmt.Sprintf("would adopt exchange status %s for %s", obs.Status, exp.ClientOrderID),
				Action:        ActionNone,
			})
		}
	}

	// Rule 2: observed orders owned by us but not expected.
	for _, obs := range observedOrders {
		if !exchange.IsOurs(e.identity, obs.ClientOrderID) {
			continue
		}
		if expectedByClientID[obs.ClientOrderID] {
			continue
		}
		mismatches = append(mismatches, Mismatch{
			Type:          MismatchOrderUnexpected,
			Symbol:        obs.Symbol,
			ClientOrderID: obs.ClientOrderID,
			Expected:      "ABSENT",
			Observed:      string(obs.Status),
			TsDetected:    nowMs,
			ActionPlan:    fmt.Sprintf("would cancel %s (order_id=%s)", obs.ClientOrderID, obs.OrderID),
			Action:        ActionCancelOrder,
			Notional:      obs.Price.Mul(obs.Qty),
		})
	}

	// Rule 3: zero expected position but non-zero observed.
	for _, pos := range e.observed.Positions() {
		if pos.Qty.IsZero() {
			continue
		}
		exp, found := e.expected.Position(pos.Symbol)
		if found && !exp.Qty.IsZero() {
			continue
		}
		mismatches = append(mismatches, Mismatch{
			Type:       MismatchPositionNonzero,
			Symbol:     pos.Symbol,
			Expected:   "0",
			Observed:   pos.Qty.String(),
			TsDetected: nowMs,
			ActionPlan: fmt.Sprintf("would flatten %s qty=%s reduce-only", pos.Symbol, pos.Qty),
			Action:     ActionFlattenPosition,
			Notional:   pos.MarkPrice.Mul(pos.Qty.Abs()),
		})
	}

	for _, m := range mismatches {
		e.observer.Mismatch(m.Type)
	}
	return mismatches
}

// RunCycle performs one full reconcile: detect, audit, remediate
// within budget. Cycles are serial; the caller must not overlap them.
func (e *Engine) RunCycle(ctx context.Context, runID string) ([]Mismatch, error) {
	ctx, span := telemetry.StartSpan(ctx, "reconcile.cycle")
	defer span.End()

	nowMs := e.clock.NowMs()
	e.observer.SnapshotTs(e.observed.SnapshotTs())

	mismatches := e.Detect(nowMs)

	counts := map[string]int{}
	symbols := map[string]bool{}
	for _, m := range mismatches {
		counts[m.Type]++
		if m.Symbol != "" {
			symbols[m.Symbol] = true
		}
	}
	symbolList := make([]string, 0, len(symbols))
	for s := range symbols {
		symbolList = append(symbolList, s)
	}

	e.writeAudit(AuditEvent{
		EventType:      EventReconcileRun,
		RunID:          runID,
		Mode:           string(e.config.Mode),
		Action:         ActionNone,
		Symbols:        symbolList,
		MismatchCounts: counts,
	})

	e.budget.NewRun()
	for _, m := range mismatches {
		e.remediate(ctx, runID, m)
	}

	calls, callsRemaining, notional, notionalRemaining := e.budget.DayUsage()
	e.observer.BudgetGauges(calls, callsRemaining, notional, notionalRemaining)
	return mismatches, nil
}

// remediate plans and, when allowed, executes one corrective action.
func (e *Engine) remediate(ctx context.Context, runID string, m Mismatch) {
	if m.Action == ActionNone {
		return
	}
	e.observer.ActionPlanned(m.Action)

	block := ""
	switch {
	case e.config.Mode != ModeLive:
		block = "dry_run"
	case e.role != nil && !e.role.IsActive():
		block = "not_active"
	default:
		if ok, reason := e.budget.CanExecute(m.Notional); !ok {
			block = reason
		}
	}

	if block != "" {
		e.observer.ActionBlocked(m.Action)
		e.writeAudit(AuditEvent{
			EventType:   EventRemediateAttempt,
			RunID:       runID,
			Mode:        string(e.config.Mode),
			Action:      m.Action,
			Status:      "blocked",
			BlockReason: block,
			Symbols:     []string{m.Symbol},
		})
		return
	}

	e.writeAudit(AuditEvent{
		EventType: EventRemediateAttempt,
		RunID:     runID,
		Mode:      string(e.config.Mode),
		Action:    m.Action,
		Status:    "executing",
		Symbols:   []string{m.Symbol},
	})

	err := e.executeAction(ctx, m)
	status := "ok"
	if err != nil {
		status = "error"
		e.logger.Error("remediation failed", "action", m.Action, "type", m.Type, "error", err)
	} else {
		e.budget.RecordExecution(m.Notional)
		e.observer.ActionExecuted(m.Action)
	}

	e.writeAudit(AuditEvent{
		EventType: EventRemediateResult,
		RunID:     runID,
		Mode:      string(e.config.Mode),
		Action:    m.Action,
		Status:    status,
		Symbols:   []string{m.Symbol},
	})
}

func (e *Engine) executeAction(ctx context.Context, m Mismatch) error {
	if e.port == nil {
		return fmt.Errorf("no port wired for live remediation")
	}
	switch m.Action {
	case ActionCancelOrder:
		orderID := ""
		for _, o := range e.observed.Orders() {
			if o.ClientOrderID == m.ClientOrderID {
				orderID = o.OrderID
				break
			}
		}
		if orderID == "" {
			return fmt.Errorf("observed order %s vanished before remediation", m.ClientOrderID)
		}
		_, err := e.port.CancelOrder(ctx, orderID)
		return err
	case ActionFlattenPosition:
		for _, pos := range e.observed.Positions() {
			if pos.Symbol != m.Symbol || pos.Qty.IsZero() {
				continue
			}
			side := core.SideSell
			if pos.Qty.IsNegative() {
				side = core.SideBuy
			}
			_, err := e.port.PlaceMarketOrder(ctx, core.MarketOrderRequest{
				Symbol:     pos.Symbol,
				Side:       side,
				Quantity:   pos.Qty.Abs(),
				ReduceOnly: true,
			})
			return err
		}
		return nil
	default:
		return fmt.Errorf("unknown remediation action %q", m.Action)
	}
}

func (e *Engine) writeAudit(event AuditEvent) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Write(event); err != nil {
		e.logger.Error("audit write failed", "error", err)
	}
}
