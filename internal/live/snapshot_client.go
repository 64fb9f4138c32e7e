package live

import (
	"context"

	"github.com/bnzr-team/grinder/internal/account"
	"github.com/bnzr-team/grinder/internal/core"
	"github.com/bnzr-team/grinder/internal/exchange"
	"github.com/bnzr-team/grinder/internal/reconcile"
)

// SnapshotClient refreshes the observed state store from authoritative
// REST snapshots via the account syncer.
type SnapshotClient struct {
	syncer   *account.Syncer
	observed *reconcile.ObservedStateStore
	identity exchange.IdentityConfig
	logger   core.ILogger
	known    func() map[string]bool
}

// NewSnapshotClient creates the client. known supplies the caller's
// current set of exchange order ids (may be nil).
func NewSnapshotClient(syncer *account.Syncer, observed *reconcile.ObservedStateStore, identity exchange.IdentityConfig, known func() map[string]bool, logger core.ILogger) *SnapshotClient {
	return &SnapshotClient{
		syncer:   syncer,
		observed: observed,
		identity: identity,
		known:    known,
		logger:   logger.WithField("component", "snapshot_client"),
	}
}

// Refresh fetches a snapshot, applies invariants, and publishes the
// observed view. Rejected snapshots (ts regression) leave the previous
// view in place.
func (c *SnapshotClient) Refresh(ctx context.Context) error {
	var known map[string]bool
	if c.known != nil {
		known = c.known()
	}
	result, err := c.syncer.Sync(ctx, known)
	if err != nil {
		return err
	}
	if !result.Accepted {
		c.logger.Warn("stale snapshot not published", "ts", result.Snapshot.TS)
		return nil
	}

	orders := make([]reconcile.ObservedOrder, 0, len(result.Snapshot.OpenOrders))
	for _, o := range result.Snapshot.OpenOrders {
		orders = append(orders, reconcile.ObservedOrder{
			OrderID:       o.OrderID,
			ClientOrderID: o.ClientOrderID,
			Symbol:        o.Symbol,
			Side:          o.Side,
			Price:         o.Price,
			Qty:           o.Qty,
			Status:        o.Status,
			TsMs:          o.TS,
		})
	}
	c.observed.Update(orders, result.Snapshot.Positions, result.Snapshot.TS)
	return nil
}
