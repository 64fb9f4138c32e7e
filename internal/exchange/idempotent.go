package exchange

import (
	"context"
	"fmt"
	"strconv"

	"github.com/bnzr-team/grinder/internal/core"
	"github.com/bnzr-team/grinder/internal/idempotency"
)

// Operation names. Closed set, used as metric labels.
const (
	OpPlaceOrder       = "place_order"
	OpCancelOrder      = "cancel_order"
	OpReplaceOrder     = "replace_order"
	OpPlaceMarketOrder = "place_market_order"
	OpCancelAllOrders  = "cancel_all"
	OpFetchOpenOrders  = "get_open_orders"
	OpFetchPositions   = "get_positions"
	OpFetchAccount     = "get_account"
)

// IdempotencyObserver receives hit/conflict/miss observations, keyed by
// operation only.
type IdempotencyObserver interface {
	IdempotencyHit(op string)
	IdempotencyConflict(op string)
	IdempotencyMiss(op string)
}

type nopIdemObserver struct{}

func (nopIdemObserver) IdempotencyHit(string)      {}
func (nopIdemObserver) IdempotencyConflict(string) {}
func (nopIdemObserver) IdempotencyMiss(string)     {}

// IdempotentPortStats counts wrapper outcomes per operation family.
type IdempotentPortStats struct {
	PlaceCalls      int
	PlaceCached     int
	PlaceExecuted   int
	PlaceConflicts  int
	CancelCalls     int
	CancelCached    int
	CancelExecuted  int
	ReplaceCalls    int
	ReplaceCached   int
	ReplaceExecuted int
}

// IdempotentPort wraps a raw ExchangePort so equal-parameter write
// requests execute the underlying operation at most once. Reads pass
// through.
type IdempotentPort struct {
	inner         core.ExchangePort
	store         idempotency.Store
	clock         core.Clock
	observer      IdempotencyObserver
	logger        core.ILogger
	scope         string
	inflightTTLMs int64
	doneTTLMs     int64
	stats         IdempotentPortStats
}

// NewIdempotentPort wraps the inner port. observer may be nil.
func NewIdempotentPort(inner core.ExchangePort, store idempotency.Store, clock core.Clock, observer IdempotencyObserver, logger core.ILogger) *IdempotentPort {
	if observer == nil {
		observer = nopIdemObserver{}
	}
	return &IdempotentPort{
		inner:         inner,
		store:         store,
		clock:         clock,
		observer:      observer,
		logger:        logger.WithField("component", "idempotent_port"),
		scope:         "exec",
		inflightTTLMs: idempotency.DefaultInflightTTLMs,
		doneTTLMs:     idempotency.DefaultDoneTTLMs,
	}
}

// Stats returns a copy of the wrapper counters.
func (p *IdempotentPort) Stats() IdempotentPortStats { return p.stats }

// execute runs the idempotency protocol for one write operation.
// Returns (cachedResult, hit=true) on a DONE hit; otherwise runs fn and
// records the outcome.
func (p *IdempotentPort) execute(op string, params map[string]string, ts int64, fn func() (string, error)) (string, bool, error) {
	key := idempotency.ComputeKey(p.scope, op, params)
	fingerprint := idempotency.ComputeFingerprint(p.scope, op, ts, params)

	for {
		if entry, ok := p.store.Get(key); ok {
			switch entry.Status {
			case idempotency.StatusDone:
				p.observer.IdempotencyHit(op)
				return entry.Result, true, nil
			case idempotency.StatusInflight:
				p.observer.IdempotencyConflict(op)
				return "", false, core.Conflict(op)
			case idempotency.StatusFailed:
				// fall through to retry
			}
		}

		now := p.clock.NowMs()
		won := p.store.PutIfAbsent(idempotency.Entry{
			Key:                key,
			Status:             idempotency.StatusInflight,
			OpName:             op,
			RequestFingerprint: fingerprint,
			CreatedAtMs:        now,
			ExpiresAtMs:        now + p.inflightTTLMs,
		})
		if !won {
			// Race loser: re-read and dispatch per the fresh status.
			continue
		}
		break
	}

	p.observer.IdempotencyMiss(op)
	result, err := fn()
	if err != nil {
		pe := core.ClassifyPortError(op, err)
		p.store.MarkFailed(key, string(pe.Reason))
		return "", false, err
	}
	p.store.MarkDone(key, result, p.clock.NowMs()+p.doneTTLMs)
	return result, false, nil
}

func (p *IdempotentPort) PlaceOrder(ctx context.Context, req core.PlaceOrderRequest) (string, error) {
	p.stats.PlaceCalls++
	params := map[string]string{
		"symbol":   req.Symbol,
		"side":     string(req.Side),
		"price":    req.Price.String(),
		"quantity": req.Quantity.String(),
		"level_id": strconv.Itoa(req.LevelID),
	}
	result, cached, err := p.execute(OpPlaceOrder, params, req.TS, func() (string, error) {
		return p.inner.PlaceOrder(ctx, req)
	})
	if err != nil {
		if pe := core.ClassifyPortError(OpPlaceOrder, err); pe.Kind == core.KindConflict {
			p.stats.PlaceConflicts++
		}
		return "", err
	}
	if cached {
		p.stats.PlaceCached++
	} else {
		p.stats.PlaceExecuted++
	}
	return result, nil
}

func (p *IdempotentPort) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	p.stats.CancelCalls++
	params := map[string]string{"order_id": orderID}
	result, cached, err := p.execute(OpCancelOrder, params, p.clock.NowMs(), func() (string, error) {
		ok, err := p.inner.CancelOrder(ctx, orderID)
		return strconv.FormatBool(ok), err
	})
	if err != nil {
		return false, err
	}
	if cached {
		p.stats.CancelCached++
	} else {
		p.stats.CancelExecuted++
	}
	return result == "true", nil
}

func (p *IdempotentPort) ReplaceOrder(ctx context.Context, req core.ReplaceOrderRequest) (string, error) {
	p.stats.ReplaceCalls++
	params := map[string]string{
		"order_id":     req.OrderID,
		"new_price":    req.NewPrice.String(),
		"new_quantity": req.NewQuantity.String(),
	}
	result, cached, err := p.execute(OpReplaceOrder, params, req.TS, func() (string, error) {
		return p.inner.ReplaceOrder(ctx, req)
	})
	if err != nil {
		return "", err
	}
	if cached {
		p.stats.ReplaceCached++
	} else {
		p.stats.ReplaceExecuted++
	}
	return result, nil
}

func (p *IdempotentPort) PlaceMarketOrder(ctx context.Context, req core.MarketOrderRequest) (string, error) {
	params := map[string]string{
		"symbol":      req.Symbol,
		"side":        string(req.Side),
		"quantity":    req.Quantity.String(),
		"reduce_only": strconv.FormatBool(req.ReduceOnly),
	}
	result, _, err := p.execute(OpPlaceMarketOrder, params, p.clock.NowMs(), func() (string, error) {
		return p.inner.PlaceMarketOrder(ctx, req)
	})
	return result, err
}

func (p *IdempotentPort) CancelAllOrders(ctx context.Context, symbol string) (int, error) {
	params := map[string]string{
		"symbol": symbol,
		// cancel_all is windowed to the second so repeated sweeps in
		// the same second coalesce but later sweeps run again.
		"window": strconv.FormatInt(p.clock.NowMs()/1000, 10),
	}
	result, _, err := p.execute(OpCancelAllOrders, params, p.clock.NowMs(), func() (string, error) {
		n, err := p.inner.CancelAllOrders(ctx, symbol)
		return strconv.Itoa(n), err
	})
	if err != nil {
		return 0, err
	}
	n, convErr := strconv.Atoi(result)
	if convErr != nil {
		return 0, fmt.Errorf("corrupt cached cancel_all result %q: %w", result, convErr)
	}
	return n, nil
}

func (p *IdempotentPort) FetchOpenOrders(ctx context.Context, symbol string) ([]core.OrderRecord, error) {
	return p.inner.FetchOpenOrders(ctx, symbol)
}

func (p *IdempotentPort) FetchPositions(ctx context.Context, symbol string) ([]core.PositionSnap, error) {
	return p.inner.FetchPositions(ctx, symbol)
}

func (p *IdempotentPort) FetchAccountSnapshot(ctx context.Context) (core.AccountSnapshot, error) {
	return p.inner.FetchAccountSnapshot(ctx)
}
