package exchange

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/bnzr-team/grinder/internal/core"
)

// PaperPort is the simulated exchange used for replay and paper
// trading. Order ids are deterministic in placement order, so fixture
// replays are digest-stable. Not thread-safe; main-loop only.
type PaperPort struct {
	logger    core.ILogger
	orders    map[string]*core.OrderRecord
	positions map[string]decimal.Decimal
	entries   map[string]decimal.Decimal
	seq       int64
	fills     []core.Fill
}

// NewPaperPort creates an empty simulated exchange.
func NewPaperPort(logger core.ILogger) *PaperPort {
	return &PaperPort{
		logger:    logger.WithField("component", "paper_port"),
		orders:    make(map[string]*core.OrderRecord),
		positions: make(map[string]decimal.Decimal),
		entries:   make(map[string]decimal.Decimal),
	}
}

func (p *PaperPort) nextOrderID() string {
	p.seq++
	return fmt.Sprintf("sim-%d", p.seq)
}

func (p *PaperPort) PlaceOrder(_ context.Context, req core.PlaceOrderRequest) (string, error) {
	if !req.Price.IsPositive() || !req.Quantity.IsPositive() {
		return "", core.NonRetryable(OpPlaceOrder, core.Reason4xx,
			fmt.Errorf("invalid order: price=%s qty=%s", req.Price, req.Quantity))
	}
	id := p.nextOrderID()
	p.orders[id] = &core.OrderRecord{
		OrderID:   id,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Price:     req.Price,
		Quantity:  req.Quantity,
		State:     core.OrderOpen,
		LevelID:   req.LevelID,
		CreatedTS: req.TS,
	}
	return id, nil
}

func (p *PaperPort) CancelOrder(_ context.Context, orderID string) (bool, error) {
	order, ok := p.orders[orderID]
	if !ok {
		return false, core.NonRetryable(OpCancelOrder, core.Reason4xx,
			fmt.Errorf("unknown order %s", orderID))
	}
	if order.State.IsTerminal() {
		return false, nil
	}
	order.State = core.OrderCancelled
	return true, nil
}

func (p *PaperPort) ReplaceOrder(ctx context.Context, req core.ReplaceOrderRequest) (string, error) {
	order, ok := p.orders[req.OrderID]
	if !ok {
		return "", core.NonRetryable(OpReplaceOrder, core.Reason4xx,
			fmt.Errorf("unknown order %s", req.OrderID))
	}
	if _, err := p.CancelOrder(ctx, req.OrderID); err != nil {
		return "", err
	}
	return p.PlaceOrder(ctx, core.PlaceOrderRequest{
		Symbol:   order.Symbol,
		Side:     order.Side,
		Price:    req.NewPrice,
		Quantity: req.NewQuantity,
		LevelID:  order.LevelID,
		TS:       req.TS,
	})
}

func (p *PaperPort) PlaceMarketOrder(_ context.Context, req core.MarketOrderRequest) (string, error) {
	pos := p.positions[req.Symbol]
	delta := req.Quantity
	if req.Side == core.SideSell {
		delta = delta.Neg()
	}
	if req.ReduceOnly {
		// A reduce-only order may not grow or flip the position.
		next := pos.Add(delta)
		if pos.IsZero() || next.Abs().GreaterThan(pos.Abs()) || pos.Sign()*next.Sign() < 0 {
			if pos.Sign()*next.Sign() < 0 {
				next = decimal.Zero
			} else {
				return "", core.NonRetryable(OpPlaceMarketOrder, core.Reason4xx,
					fmt.Errorf("reduce-only order would increase position %s", req.Symbol))
			}
		}
		p.positions[req.Symbol] = next
	} else {
		p.positions[req.Symbol] = pos.Add(delta)
	}
	return p.nextOrderID(), nil
}

func (p *PaperPort) CancelAllOrders(_ context.Context, symbol string) (int, error) {
	count := 0
	for _, o := range p.orders {
		if o.Symbol == symbol && !o.State.IsTerminal() {
			o.State = core.OrderCancelled
			count++
		}
	}
	return count, nil
}

func (p *PaperPort) FetchOpenOrders(_ context.Context, symbol string) ([]core.OrderRecord, error) {
	var out []core.OrderRecord
	for _, o := range p.orders {
		if o.Symbol == symbol && !o.State.IsTerminal() {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out, nil
}

func (p *PaperPort) FetchPositions(_ context.Context, symbol string) ([]core.PositionSnap, error) {
	var out []core.PositionSnap
	symbols := make([]string, 0, len(p.positions))
	for s := range p.positions {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	for _, s := range symbols {
		if symbol != "" && s != symbol {
			continue
		}
		qty := p.positions[s]
		if qty.IsZero() {
			continue
		}
		side := "LONG"
		if qty.IsNegative() {
			side = "SHORT"
		}
		out = append(out, core.PositionSnap{
			Symbol:     s,
			Side:       side,
			Qty:        qty,
			EntryPrice: p.entries[s],
		})
	}
	return out, nil
}

func (p *PaperPort) FetchAccountSnapshot(ctx context.Context) (core.AccountSnapshot, error) {
	positions, err := p.FetchPositions(ctx, "")
	if err != nil {
		return core.AccountSnapshot{}, err
	}
	var orders []core.OpenOrderSnap
	for _, o := range p.orders {
		if o.State.IsTerminal() {
			continue
		}
		orders = append(orders, core.OpenOrderSnap{
			OrderID:   o.OrderID,
			Symbol:    o.Symbol,
			Side:      o.Side,
			OrderType: "LIMIT",
			Price:     o.Price,
			Qty:       o.Quantity,
			FilledQty: decimal.Zero,
			Status:    o.State,
			TS:        o.CreatedTS,
		})
	}
	return core.NewAccountSnapshot(positions, orders, "paper"), nil
}

// SimulateFills crosses resting orders against a market snapshot: a
// BUY fills when mid is at or below its price, a SELL when mid is at
// or above. Fills execute at the order price for the full quantity and
// are returned in order-id order.
func (p *PaperPort) SimulateFills(snap core.Snapshot) []core.Fill {
	mid := snap.MidPrice()

	ids := make([]string, 0, len(p.orders))
	for id, o := range p.orders {
		if o.Symbol != snap.Symbol || o.State.IsTerminal() {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return orderSeqLess(ids[i], ids[j])
	})

	var fills []core.Fill
	for _, id := range ids {
		o := p.orders[id]
		crossed := (o.Side == core.SideBuy && mid.LessThanOrEqual(o.Price)) ||
			(o.Side == core.SideSell && mid.GreaterThanOrEqual(o.Price))
		if !crossed {
			continue
		}
		o.State = core.OrderFilled
		fill := core.Fill{
			OrderID:  o.OrderID,
			Symbol:   o.Symbol,
			Side:     o.Side,
			Price:    o.Price,
			Quantity: o.Quantity,
			TS:       snap.TS,
		}
		fills = append(fills, fill)
		p.fills = append(p.fills, fill)

		delta := o.Quantity
		if o.Side == core.SideSell {
			delta = delta.Neg()
		}
		prev := p.positions[o.Symbol]
		p.positions[o.Symbol] = prev.Add(delta)
		if prev.IsZero() {
			p.entries[o.Symbol] = o.Price
		}
	}
	return fills
}

// Position returns the signed position for a symbol.
func (p *PaperPort) Position(symbol string) decimal.Decimal {
	return p.positions[symbol]
}

// Fills returns all simulated fills so far.
func (p *PaperPort) Fills() []core.Fill {
	return append([]core.Fill(nil), p.fills...)
}

// orderSeqLess compares "sim-N" ids numerically.
func orderSeqLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}
