// Package account wraps the exchange account snapshot fetch with
// invariant checks and the opt-in evidence bundle writer.
package account

import (
	"context"
	"strconv"

	"github.com/bnzr-team/grinder/internal/core"
	"github.com/bnzr-team/grinder/internal/reconcile"
)

// Observer is the sidecar metrics collector for sync-time mismatches.
type Observer interface {
	SyncMismatch(mismatchType string)
}

type nopObserver struct{}

func (nopObserver) SyncMismatch(string) {}

// Syncer fetches account snapshots and validates their invariants.
// A snapshot that regresses in time is rejected; content violations
// are reported as mismatches but the snapshot is still accepted.
type Syncer struct {
	port           core.ExchangePort
	observer       Observer
	logger         core.ILogger
	lastAcceptedTs int64
}

// NewSyncer creates a syncer. observer may be nil.
func NewSyncer(port core.ExchangePort, observer Observer, logger core.ILogger) *Syncer {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Syncer{
		port:     port,
		observer: observer,
		logger:   logger.WithField("component", "account_syncer"),
	}
}

// SyncResult is the outcome of one sync.
type SyncResult struct {
	Snapshot   core.AccountSnapshot
	Mismatches []reconcile.Mismatch
	Accepted   bool
}

// Sync fetches a snapshot and runs the invariant checks. knownOrderIDs
// is the caller's set of exchange order ids it believes exist; any
// other observed order id is an orphan.
func (s *Syncer) Sync(ctx context.Context, knownOrderIDs map[string]bool) (SyncResult, error) {
	snap, err := s.port.FetchAccountSnapshot(ctx)
	if err != nil {
		return SyncResult{}, err
	}

	result := SyncResult{Snapshot: snap, Accepted: true}

	if snap.TS < s.lastAcceptedTs {
		result.Accepted = false
		result.Mismatches = append(result.Mismatches, reconcile.Mismatch{
			Type:       reconcile.MismatchTsRegression,
			Expected:   formatTs(s.lastAcceptedTs),
			Observed:   formatTs(snap.TS),
			TsDetected: snap.TS,
			ActionPlan: "reject snapshot, keep previous view",
		})
	}

	// duplicate_key: positions share (symbol, side) or orders share id.
	posKeys := make(map[string]bool, len(snap.Positions))
	for _, p := range snap.Positions {
		key := p.Symbol + "|" + p.Side
		if posKeys[key] {
			result.Mismatches = append(result.Mismatches, reconcile.Mismatch{
				Type:       reconcile.MismatchDuplicateKey,
				Symbol:     p.Symbol,
				Observed:   key,
				TsDetected: snap.TS,
				ActionPlan: "reject duplicate position row",
			})
		}
		posKeys[key] = true
	}
	orderIDs := make(map[string]bool, len(snap.OpenOrders))
	for _, o := range snap.OpenOrders {
		if orderIDs[o.OrderID] {
			result.Mismatches = append(result.Mismatches, reconcile.Mismatch{
				Type:       reconcile.MismatchDuplicateKey,
				Symbol:     o.Symbol,
				Observed:   o.OrderID,
				TsDetected: snap.TS,
				ActionPlan: "reject duplicate order row",
			})
		}
		orderIDs[o.OrderID] = true
	}

	// negative_qty: signed-qty convention means LONG implies qty > 0
	// and SHORT implies qty < 0; either contradiction is malformed.
	for _, p := range snap.Positions {
		longNegative := p.Side == "LONG" && p.Qty.IsNegative()
		shortPositive := p.Side == "SHORT" && p.Qty.IsPositive()
		if longNegative || shortPositive {
			result.Mismatches = append(result.Mismatches, reconcile.Mismatch{
				Type:       reconcile.MismatchNegativeQty,
				Symbol:     p.Symbol,
				Observed:   p.Side + ":" + p.Qty.String(),
				TsDetected: snap.TS,
				ActionPlan: "flag inconsistent position sign",
			})
		}
	}
	for _, o := range snap.OpenOrders {
		if o.Qty.IsNegative() || o.FilledQty.IsNegative() {
			result.Mismatches = append(result.Mismatches, reconcile.Mismatch{
				Type:       reconcile.MismatchNegativeQty,
				Symbol:     o.Symbol,
				Observed:   o.Qty.String(),
				TsDetected: snap.TS,
				ActionPlan: "flag negative order quantity",
			})
		}
	}

	// orphan_order: observed order id outside the known set.
	if knownOrderIDs != nil {
		for _, o := range snap.OpenOrders {
			if !knownOrderIDs[o.OrderID] {
				result.Mismatches = append(result.Mismatches, reconcile.Mismatch{
					Type:       reconcile.MismatchOrphanOrder,
					Symbol:     o.Symbol,
					Observed:   o.OrderID,
					TsDetected: snap.TS,
					ActionPlan: "report orphan to reconcile engine",
				})
			}
		}
	}

	for _, m := range result.Mismatches {
		s.observer.SyncMismatch(m.Type)
	}
	if result.Accepted {
		s.lastAcceptedTs = snap.TS
	} else {
		s.logger.Warn("account snapshot rejected", "snapshot_ts", snap.TS, "last_accepted_ts", s.lastAcceptedTs)
	}
	return result, nil
}

func formatTs(ts int64) string {
	return strconv.FormatInt(ts, 10)
}
