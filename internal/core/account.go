package core

import (
	"fmt"
	"sort"
)

// AccountSnapshot is the authoritative account view fetched from the
// exchange. Both arrays are kept in canonical sort order so identical
// content renders to byte-identical JSON.
type AccountSnapshot struct {
	Positions  []PositionSnap
	OpenOrders []OpenOrderSnap
	TS         int64
	Source     string
}

// NewAccountSnapshot sorts the components and derives TS as the max of
// the component timestamps.
func NewAccountSnapshot(positions []PositionSnap, orders []OpenOrderSnap, source string) AccountSnapshot {
	snap := AccountSnapshot{
		Positions:  append([]PositionSnap(nil), positions...),
		OpenOrders: append([]OpenOrderSnap(nil), orders...),
		Source:     source,
	}
	snap.normalize()
	return snap
}

func (a *AccountSnapshot) normalize() {
	sort.Slice(a.Positions, func(i, j int) bool {
		pi, pj := a.Positions[i], a.Positions[j]
		if pi.Symbol != pj.Symbol {
			return pi.Symbol < pj.Symbol
		}
		return pi.Side < pj.Side
	})
	sort.Slice(a.OpenOrders, func(i, j int) bool {
		oi, oj := a.OpenOrders[i], a.OpenOrders[j]
		if oi.Symbol != oj.Symbol {
			return oi.Symbol < oj.Symbol
		}
		if oi.Side != oj.Side {
			return oi.Side < oj.Side
		}
		if oi.OrderType != oj.OrderType {
			return oi.OrderType < oj.OrderType
		}
		if c := oi.Price.Cmp(oj.Price); c != 0 {
			return c < 0
		}
		if c := oi.Qty.Cmp(oj.Qty); c != 0 {
			return c < 0
		}
		return oi.OrderID < oj.OrderID
	})
	a.TS = 0
	for _, p := range a.Positions {
		if p.TS > a.TS {
			a.TS = p.TS
		}
	}
	for _, o := range a.OpenOrders {
		if o.TS > a.TS {
			a.TS = o.TS
		}
	}
}

// ToMap renders the snapshot for canonical JSON.
func (a AccountSnapshot) ToMap() map[string]any {
	positions := make([]any, 0, len(a.Positions))
	for _, p := range a.Positions {
		positions = append(positions, map[string]any{
			"symbol":         p.Symbol,
			"side":           p.Side,
			"qty":            p.Qty.String(),
			"entry_price":    p.EntryPrice.String(),
			"mark_price":     p.MarkPrice.String(),
			"unrealized_pnl": p.UnrealizedPnl.String(),
			"leverage":       p.Leverage,
			"ts":             p.TS,
		})
	}
	orders := make([]any, 0, len(a.OpenOrders))
	for _, o := range a.OpenOrders {
		orders = append(orders, map[string]any{
			"order_id":        o.OrderID,
			"client_order_id": o.ClientOrderID,
			"symbol":      o.Symbol,
			"side":        string(o.Side),
			"order_type":  o.OrderType,
			"price":       o.Price.String(),
			"qty":         o.Qty.String(),
			"filled_qty":  o.FilledQty.String(),
			"reduce_only": o.ReduceOnly,
			"status":      string(o.Status),
			"ts":          o.TS,
		})
	}
	return map[string]any{
		"positions":   positions,
		"open_orders": orders,
		"ts":          a.TS,
		"source":      a.Source,
	}
}

// Render returns the canonical JSON bytes for the snapshot.
func (a AccountSnapshot) Render() ([]byte, error) {
	return CanonicalMarshal(a.ToMap())
}

// AccountSnapshotFromMap rebuilds a snapshot from its canonical map.
// The rebuilt snapshot is normalized, so Render is a fixed point.
func AccountSnapshotFromMap(m map[string]any) (AccountSnapshot, error) {
	var snap AccountSnapshot
	src, _ := m["source"].(string)
	snap.Source = src

	rawPositions, _ := m["positions"].([]any)
	for _, rp := range rawPositions {
		pm, ok := rp.(map[string]any)
		if !ok {
			return snap, fmt.Errorf("position entry is %T, want object", rp)
		}
		var p PositionSnap
		var err error
		p.Symbol, _ = pm["symbol"].(string)
		p.Side, _ = pm["side"].(string)
		if p.Qty, err = asDecimal(pm["qty"]); err != nil {
			return snap, fmt.Errorf("position qty: %w", err)
		}
		if p.EntryPrice, err = asDecimal(pm["entry_price"]); err != nil {
			return snap, fmt.Errorf("position entry_price: %w", err)
		}
		if p.MarkPrice, err = asDecimal(pm["mark_price"]); err != nil {
			return snap, fmt.Errorf("position mark_price: %w", err)
		}
		if p.UnrealizedPnl, err = asDecimal(pm["unrealized_pnl"]); err != nil {
			return snap, fmt.Errorf("position unrealized_pnl: %w", err)
		}
		lev, err := asInt64(pm["leverage"])
		if err != nil {
			return snap, fmt.Errorf("position leverage: %w", err)
		}
		p.Leverage = int(lev)
		if p.TS, err = asInt64(pm["ts"]); err != nil {
			return snap, fmt.Errorf("position ts: %w", err)
		}
		snap.Positions = append(snap.Positions, p)
	}

	rawOrders, _ := m["open_orders"].([]any)
	for _, ro := range rawOrders {
		om, ok := ro.(map[string]any)
		if !ok {
			return snap, fmt.Errorf("open order entry is %T, want object", ro)
		}
		var o OpenOrderSnap
		var err error
		o.OrderID, _ = om["order_id"].(string)
		o.ClientOrderID, _ = om["client_order_id"].(string)
		o.Symbol, _ = om["symbol"].(string)
		side, _ := om["side"].(string)
		o.Side = OrderSide(side)
		o.OrderType, _ = om["order_type"].(string)
		if o.Price, err = asDecimal(om["price"]); err != nil {
			return snap, fmt.Errorf("open order price: %w", err)
		}
		if o.Qty, err = asDecimal(om["qty"]); err != nil {
			return snap, fmt.Errorf("open order qty: %w", err)
		}
		if o.FilledQty, err = asDecimal(om["filled_qty"]); err != nil {
			return snap, fmt.Errorf("open order filled_qty: %w", err)
		}
		o.ReduceOnly, _ = om["reduce_only"].(bool)
		status, _ := om["status"].(string)
		o.Status = OrderState(status)
		if o.TS, err = asInt64(om["ts"]); err != nil {
			return snap, fmt.Errorf("open order ts: %w", err)
		}
		snap.OpenOrders = append(snap.OpenOrders, o)
	}

	snap.normalize()
	return snap, nil
}
