// Package execution turns a GridPlan into the minimal diff of order
// actions against the current per-symbol execution state, and owns the
// symbol constraint provider used for quantization.
package execution

import (
	"github.com/shopspring/decimal"

	"github.com/bnzr-team/grinder/internal/core"
)

// LevelKey identifies one grid rung. At most one order exists per
// (symbol, side, level_id).
type LevelKey struct {
	Side    core.OrderSide
	LevelID int
}

// ActiveOrder is the engine's view of a resting order at a level.
type ActiveOrder struct {
	OrderID  string
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// State is the per-symbol execution state. Mutated only by the main
// loop.
type State struct {
	Symbol         string
	activeOrders   map[LevelKey]ActiveOrder
	pendingCancels map[string]bool
	fillHistory    []core.Fill
}

// NewState creates an empty execution state for a symbol.
func NewState(symbol string) *State {
	return &State{
		Symbol:         symbol,
		activeOrders:   make(map[LevelKey]ActiveOrder),
		pendingCancels: make(map[string]bool),
	}
}

// Active returns the resting order at a level, if any.
func (s *State) Active(key LevelKey) (ActiveOrder, bool) {
	o, ok := s.activeOrders[key]
	return o, ok
}

// ActiveCount returns the number of resting orders.
func (s *State) ActiveCount() int { return len(s.activeOrders) }

// ActiveKeys returns a copy of the occupied level keys.
func (s *State) ActiveKeys() []LevelKey {
	keys := make([]LevelKey, 0, len(s.activeOrders))
	for k := range s.activeOrders {
		keys = append(keys, k)
	}
	return keys
}

// OnPlaced records a successful placement.
func (s *State) OnPlaced(key LevelKey, orderID string, price, qty decimal.Decimal) {
	s.activeOrders[key] = ActiveOrder{OrderID: orderID, Price: price, Quantity: qty}
}

// OnCancelRequested marks an order as pending cancel.
func (s *State) OnCancelRequested(orderID string) {
	s.pendingCancels[orderID] = true
}

// OnCancelled removes the order from the level map.
func (s *State) OnCancelled(orderID string) {
	delete(s.pendingCancels, orderID)
	for k, o := range s.activeOrders {
		if o.OrderID == orderID {
			delete(s.activeOrders, k)
			return
		}
	}
}

// OnFill records a fill and frees the level.
func (s *State) OnFill(fill core.Fill) {
	s.fillHistory = append(s.fillHistory, fill)
	for k, o := range s.activeOrders {
		if o.OrderID == fill.OrderID {
			delete(s.activeOrders, k)
			return
		}
	}
}

// Fills returns the recorded fill history.
func (s *State) Fills() []core.Fill {
	return append([]core.Fill(nil), s.fillHistory...)
}

// NotionalAtRest returns the summed price*qty of resting orders.
func (s *State) NotionalAtRest() decimal.Decimal {
	total := decimal.Zero
	for _, o := range s.activeOrders {
		total = total.Add(o.Price.Mul(o.Quantity))
	}
	return total
}
