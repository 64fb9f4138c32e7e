package reconcile

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/bnzr-team/grinder/internal/core"
)

// ExpectedStateStore holds the orders and positions we believe exist.
// Bounded: a max order count with TTL eviction, terminal orders
// evicted first. Single writer (main loop); readers take the lock.
type ExpectedStateStore struct {
	mu        sync.Mutex
	clock     core.Clock
	maxOrders int
	ttlMs     int64
	orders    []ExpectedOrder
	positions map[string]ExpectedPosition
}

// NewExpectedStateStore creates the store.
func NewExpectedStateStore(maxOrders int, ttlMs int64, clock core.Clock) *ExpectedStateStore {
	if maxOrders <= 0 {
		maxOrders = 1000
	}
	return &ExpectedStateStore{
		clock:     clock,
		maxOrders: maxOrders,
		ttlMs:     ttlMs,
		positions: make(map[string]ExpectedPosition),
	}
}

// RecordOrder inserts or updates an expected order by client order id.
func (s *ExpectedStateStore) RecordOrder(order ExpectedOrder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.orders {
		if s.orders[i].ClientOrderID == order.ClientOrderID {
			s.orders[i] = order
			return
		}
	}
	s.orders = append(s.orders, order)
	s.evictLocked()
}

// UpdateStatus transitions an expected order's status.
func (s *ExpectedStateStore) UpdateStatus(clientOrderID string, status core.OrderState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.orders {
		if s.orders[i].ClientOrderID == clientOrderID {
			s.orders[i].Status = status
			return true
		}
	}
	return false
}

// Orders returns a copy of the live expected orders.
func (s *ExpectedStateStore) Orders() []ExpectedOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked()
	return append([]ExpectedOrder(nil), s.orders...)
}

// SetPosition records the expected position for a symbol.
func (s *ExpectedStateStore) SetPosition(symbol string, qty decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[symbol] = ExpectedPosition{Symbol: symbol, Qty: qty}
}

// Position returns the expected position for a symbol.
func (s *ExpectedStateStore) Position(symbol string) (ExpectedPosition, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[symbol]
	return p, ok
}

// Positions returns a copy of all expected positions.
func (s *ExpectedStateStore) Positions() map[string]ExpectedPosition {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]ExpectedPosition, len(s.positions))
	for k, v := range s.positions {
		out[k] = v
	}
	return out
}

// evictLocked applies TTL eviction, then trims over-capacity entries,
// terminal orders first, oldest first within each class.
func (s *ExpectedStateStore) evictLocked() {
	now := s.clock.NowMs()

	if s.ttlMs > 0 {
		kept := s.orders[:0]
		for _, o := range s.orders {
			if now-o.CreatedTsMs <= s.ttlMs {
				kept = append(kept, o)
			}
		}
		s.orders = kept
	}

	for len(s.orders) > s.maxOrders {
		idx := -1
		for i, o := range s.orders {
			if o.Status.IsTerminal() {
				idx = i
				break
			}
		}
		if idx < 0 {
			idx = 0
		}
		s.orders = append(s.orders[:idx], s.orders[idx+1:]...)
	}
}
