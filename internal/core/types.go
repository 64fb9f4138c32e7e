// Package core defines the shared domain types and interfaces for the
// grinder market-making system. All monetary and quantity values use
// arbitrary-precision decimals; timestamps are integer milliseconds.
package core

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Decimal aliases the arbitrary-precision decimal used for every
// financial value in the system.
type Decimal = decimal.Decimal

// OrderSide is the direction of an order.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// Opposite returns the closing side for a signed position.
func (s OrderSide) Opposite() OrderSide {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderState is the lifecycle state of an order.
// PENDING -> OPEN -> (PARTIALLY_FILLED)* -> {FILLED, CANCELLED, REJECTED, EXPIRED}
type OrderState string

const (
	OrderPending         OrderState = "PENDING"
	OrderOpen            OrderState = "OPEN"
	OrderPartiallyFilled OrderState = "PARTIALLY_FILLED"
	OrderFilled          OrderState = "FILLED"
	OrderCancelled       OrderState = "CANCELLED"
	OrderRejected        OrderState = "REJECTED"
	OrderExpired         OrderState = "EXPIRED"
)

// IsTerminal reports whether no further transitions are possible.
func (s OrderState) IsTerminal() bool {
	switch s {
	case OrderFilled, OrderCancelled, OrderRejected, OrderExpired:
		return true
	}
	return false
}

// Regime is the classified market state.
type Regime string

const (
	RegimeRange     Regime = "RANGE"
	RegimeTrendUp   Regime = "TREND_UP"
	RegimeTrendDown Regime = "TREND_DOWN"
	RegimeVolShock  Regime = "VOL_SHOCK"
	RegimeThinBook  Regime = "THIN_BOOK"
	RegimeToxic     Regime = "TOXIC"
	RegimePaused    Regime = "PAUSED"
	RegimeEmergency Regime = "EMERGENCY"
)

// GridMode is the quoting mode of a grid plan.
type GridMode string

const (
	ModeBilateral GridMode = "BILATERAL"
	ModeHalted    GridMode = "HALTED"
)

// ResetAction tells the execution engine whether the plan requires a
// full re-anchor of the grid.
type ResetAction string

const (
	ResetNone ResetAction = "NONE"
	ResetFull ResetAction = "FULL"
)

// Snapshot is an immutable L1 market snapshot.
type Snapshot struct {
	TS        int64
	Symbol    string
	BidPrice  decimal.Decimal
	AskPrice  decimal.Decimal
	BidQty    decimal.Decimal
	AskQty    decimal.Decimal
	LastPrice decimal.Decimal
	LastQty   decimal.Decimal
}

// MidPrice returns (bid+ask)/2.
func (s Snapshot) MidPrice() decimal.Decimal {
	return s.BidPrice.Add(s.AskPrice).Div(decimal.NewFromInt(2))
}

// SpreadBps returns the integer-truncated spread in basis points.
func (s Snapshot) SpreadBps() int64 {
	mid := s.MidPrice()
	if mid.IsZero() {
		return 0
	}
	return s.AskPrice.Sub(s.BidPrice).Div(mid).Mul(decimal.NewFromInt(10_000)).IntPart()
}

// ToMap renders the snapshot as a canonical-JSON-ready map.
func (s Snapshot) ToMap() map[string]any {
	return map[string]any{
		"ts":         s.TS,
		"symbol":     s.Symbol,
		"bid_price":  s.BidPrice.String(),
		"ask_price":  s.AskPrice.String(),
		"bid_qty":    s.BidQty.String(),
		"ask_qty":    s.AskQty.String(),
		"last_price": s.LastPrice.String(),
		"last_qty":   s.LastQty.String(),
	}
}

// SnapshotFromMap is the inverse of ToMap.
func SnapshotFromMap(m map[string]any) (Snapshot, error) {
	var s Snapshot
	var err error
	if s.TS, err = asInt64(m["ts"]); err != nil {
		return s, fmt.Errorf("snapshot ts: %w", err)
	}
	sym, _ := m["symbol"].(string)
	s.Symbol = sym
	for _, f := range []struct {
		key string
		dst *decimal.Decimal
	}{
		{"bid_price", &s.BidPrice},
		{"ask_price", &s.AskPrice},
		{"bid_qty", &s.BidQty},
		{"ask_qty", &s.AskQty},
		{"last_price", &s.LastPrice},
		{"last_qty", &s.LastQty},
	} {
		d, err := asDecimal(m[f.key])
		if err != nil {
			return s, fmt.Errorf("snapshot %s: %w", f.key, err)
		}
		*f.dst = d
	}
	return s, nil
}

// MidBar is an OHLC bar over mid prices for a fixed interval.
type MidBar struct {
	OpenTS int64
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
}

// FeatureSnapshot is the per-symbol feature vector computed for one
// market snapshot.
type FeatureSnapshot struct {
	TS               int64
	Symbol           string
	MidPrice         decimal.Decimal
	SpreadBps        int64
	ImbalanceL1Bps   int64
	ThinL1           decimal.Decimal
	NatrBps          int64
	ATR              decimal.Decimal
	SumAbsReturnsBps int64
	NetReturnBps     int64
	RangeScore       int64
	WarmupBars       int
}

// OrderIntent is a proposed order placement emitted by a policy.
type OrderIntent struct {
	Symbol   string
	Side     OrderSide
	Price    decimal.Decimal
	Quantity decimal.Decimal
	Reason   string
	LevelID  int
}

// ToMap renders the intent for canonical hashing.
func (oi OrderIntent) ToMap() map[string]any {
	return map[string]any{
		"symbol":   oi.Symbol,
		"side":     string(oi.Side),
		"price":    oi.Price.String(),
		"quantity": oi.Quantity.String(),
		"reason":   oi.Reason,
		"level_id": oi.LevelID,
	}
}

// GridPlan is the output of a grid policy.
// Invariants: LevelsUp == LevelsDown, CenterPrice == mid, and
// WidthBps == SpacingBps * LevelsUp.
type GridPlan struct {
	Mode         GridMode
	CenterPrice  decimal.Decimal
	SpacingBps   int64
	LevelsUp     int
	LevelsDown   int
	SizeSchedule []decimal.Decimal
	SkewBps      int64
	Regime       Regime
	WidthBps     int64
	ResetAction  ResetAction
	ReasonCodes  []string
}

// Validate checks the structural invariants of a plan.
func (p GridPlan) Validate() error {
	if p.LevelsUp != p.LevelsDown {
		return fmt.Errorf("grid plan asymmetric: up=%d down=%d", p.LevelsUp, p.LevelsDown)
	}
	if p.WidthBps != p.SpacingBps*int64(p.LevelsUp) {
		return fmt.Errorf("grid plan width %d != spacing %d * levels %d", p.WidthBps, p.SpacingBps, p.LevelsUp)
	}
	if len(p.SizeSchedule) != p.LevelsUp {
		return fmt.Errorf("size schedule length %d != levels %d", len(p.SizeSchedule), p.LevelsUp)
	}
	return nil
}

// Decision is the deterministic output of one pipeline cycle for one
// symbol. Serialized as canonical JSON for digest hashing.
type Decision struct {
	TS             int64
	Symbol         string
	Mode           GridMode
	Reason         string
	OrderIntents   []OrderIntent
	CancelOrderIDs []string
	PolicyName     string
	ContextHash    string
}

// ToMap renders the decision for canonical hashing.
func (d Decision) ToMap() map[string]any {
	intents := make([]any, 0, len(d.OrderIntents))
	for _, oi := range d.OrderIntents {
		intents = append(intents, oi.ToMap())
	}
	cancels := make([]any, 0, len(d.CancelOrderIDs))
	for _, id := range d.CancelOrderIDs {
		cancels = append(cancels, id)
	}
	return map[string]any{
		"ts":               d.TS,
		"symbol":           d.Symbol,
		"mode":             string(d.Mode),
		"reason":           d.Reason,
		"order_intents":    intents,
		"cancel_order_ids": cancels,
		"policy_name":      d.PolicyName,
		"context_hash":     d.ContextHash,
	}
}

// OrderRecord is the port-level view of an order.
type OrderRecord struct {
	OrderID   string
	Symbol    string
	Side      OrderSide
	Price     decimal.Decimal
	Quantity  decimal.Decimal
	State     OrderState
	LevelID   int
	CreatedTS int64
}

// PositionSnap is one account position. Sort key (symbol, side).
type PositionSnap struct {
	Symbol        string
	Side          string
	Qty           decimal.Decimal
	EntryPrice    decimal.Decimal
	MarkPrice     decimal.Decimal
	UnrealizedPnl decimal.Decimal
	Leverage      int
	TS            int64
}

// OpenOrderSnap is one open order as reported by the exchange.
// Sort key (symbol, side, order_type, price, qty, order_id).
type OpenOrderSnap struct {
	OrderID       string
	ClientOrderID string
	Symbol     string
	Side       OrderSide
	OrderType  string
	Price      decimal.Decimal
	Qty        decimal.Decimal
	FilledQty  decimal.Decimal
	ReduceOnly bool
	Status     OrderState
	TS         int64
}

// SymbolConstraints are the exchange-enforced quantization rules.
type SymbolConstraints struct {
	Symbol   string
	TickSize decimal.Decimal
	StepSize decimal.Decimal
	MinQty   decimal.Decimal
}

// GatingResult is the outcome of one gate evaluation.
type GatingResult struct {
	Allowed bool
	Reason  string
	Details map[string]any
}

// Allowed is the zero-friction pass result.
func Allowed() GatingResult {
	return GatingResult{Allowed: true}
}

// Blocked builds a block result with a stable reason code.
func Blocked(reason string, details map[string]any) GatingResult {
	return GatingResult{Allowed: false, Reason: reason, Details: details}
}

// Fill is a simulated or observed execution against a resting order.
type Fill struct {
	OrderID  string
	Symbol   string
	Side     OrderSide
	Price    decimal.Decimal
	Quantity decimal.Decimal
	TS       int64
}
