// Package reconcile compares the system's expected order/position
// state with the exchange's authoritative view, emits mismatches,
// plans bounded remediation, and writes the audit log.
package reconcile

import (
	"github.com/shopspring/decimal"

	"github.com/bnzr-team/grinder/internal/core"
)

// Mismatch types. Closed set, used as metric labels.
const (
	MismatchOrderMissing      = "ORDER_MISSING_ON_EXCHANGE"
	MismatchOrderUnexpected   = "ORDER_EXISTS_UNEXPECTED"
	MismatchStatusDivergence  = "ORDER_STATUS_DIVERGENCE"
	MismatchPositionNonzero   = "POSITION_NONZERO_UNEXPECTED"
	MismatchDuplicateKey      = "duplicate_key"
	MismatchTsRegression      = "ts_regression"
	MismatchNegativeQty       = "negative_qty"
	MismatchOrphanOrder       = "orphan_order"
)

// Remediation actions. Closed set, used as metric labels.
const (
	ActionCancelOrder     = "cancel_order"
	ActionFlattenPosition = "flatten_position"
	ActionNone            = "none"
)

// ExpectedOrder mirrors an order we believe we placed.
type ExpectedOrder struct {
	ClientOrderID string
	OrderID       string
	Symbol        string
	Side          core.OrderSide
	Price         decimal.Decimal
	Qty           decimal.Decimal
	Status        core.OrderState
	CreatedTsMs   int64
}

// ExpectedPosition mirrors a position we believe we hold.
type ExpectedPosition struct {
	Symbol string
	Qty    decimal.Decimal
}

// ObservedOrder is an open order parsed from an exchange snapshot.
type ObservedOrder struct {
	OrderID       string
	ClientOrderID string
	Symbol        string
	Side          core.OrderSide
	Price         decimal.Decimal
	Qty           decimal.Decimal
	Status        core.OrderState
	TsMs          int64
}

// Mismatch is one detected divergence plus its textual action plan.
type Mismatch struct {
	Type          string
	Symbol        string
	ClientOrderID string
	Expected      string
	Observed      string
	TsDetected    int64
	ActionPlan    string
	Action        string
	Notional      decimal.Decimal
}

// Observer receives reconcile observations for metrics.
type Observer interface {
	Mismatch(mismatchType string)
	ActionPlanned(action string)
	ActionExecuted(action string)
	ActionBlocked(action string)
	SnapshotTs(tsMs int64)
	BudgetGauges(callsUsed, callsRemaining int, notionalUsed, notionalRemaining decimal.Decimal)
}

// NopObserver discards observations.
type NopObserver struct{}

func (NopObserver) Mismatch(string)       {}
func (NopObserver) ActionPlanned(string)  {}
func (NopObserver) ActionExecuted(string) {}
func (NopObserver) ActionBlocked(string)  {}
func (NopObserver) SnapshotTs(int64)      {}
func (NopObserver) BudgetGauges(int, int, decimal.Decimal, decimal.Decimal) {}
