package reconcile

import (
	"sync"

	"github.com/bnzr-team/grinder/internal/core"
)

// ObservedStateStore holds the latest REST snapshot of exchange state.
// Written by the snapshot client; read by the reconcile engine.
type ObservedStateStore struct {
	mu         sync.RWMutex
	orders     []ObservedOrder
	positions  []core.PositionSnap
	snapshotTs int64
}

// NewObservedStateStore creates an empty store.
func NewObservedStateStore() *ObservedStateStore {
	return &ObservedStateStore{}
}

// Update replaces the observed view atomically.
func (s *ObservedStateStore) Update(orders []ObservedOrder, positions []core.PositionSnap, tsMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = append([]ObservedOrder(nil), orders...)
	s.positions = append([]core.PositionSnap(nil), positions...)
	s.snapshotTs = tsMs
}

// Orders returns a copy of the observed open orders.
func (s *ObservedStateStore) Orders() []ObservedOrder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ObservedOrder(nil), s.orders...)
}

// Positions returns a copy of the observed positions.
func (s *ObservedStateStore) Positions() []core.PositionSnap {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]core.PositionSnap(nil), s.positions...)
}

// SnapshotTs returns the timestamp of the last observed snapshot.
func (s *ObservedStateStore) SnapshotTs() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotTs
}
