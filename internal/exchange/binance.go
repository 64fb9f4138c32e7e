package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"github.com/bnzr-team/grinder/internal/core"
)

// EnvAllowMainnetTrade must be "1" before the live port will arm.
const EnvAllowMainnetTrade = "ALLOW_MAINNET_TRADE"

// BinanceConfig configures the live futures adapter.
type BinanceConfig struct {
	APIKey     string
	APISecret  string
	UseTestnet bool
	Identity   IdentityConfig
}

// BinancePort implements core.ExchangePort against Binance USDT-M
// futures via go-binance. Write calls are fenced by the mainnet-trade
// guard. The port sets no per-call deadline of its own: each call runs
// under the context it is given.
type BinancePort struct {
	client   *futures.Client
	config   BinanceConfig
	logger   core.ILogger
	clock    core.Clock
	seq      SeqGenerator
	mu       sync.Mutex
	symbols  map[string]string         // exchange order id -> symbol
	levelIDs map[string]int            // exchange order id -> level id
	sides    map[string]core.OrderSide // exchange order id -> side
}

// NewBinancePort creates the live adapter. Refuses to arm against
// mainnet unless ALLOW_MAINNET_TRADE=1.
func NewBinancePort(config BinanceConfig, clock core.Clock, logger core.ILogger) (*BinancePort, error) {
	if config.APIKey == "" || config.APISecret == "" {
		return nil, core.NonRetryable("init", core.Reason4xx, errors.New("missing API credentials"))
	}
	if !config.UseTestnet && os.Getenv(EnvAllowMainnetTrade) != "1" {
		return nil, fmt.Errorf("live mainnet port requires %s=1", EnvAllowMainnetTrade)
	}
	futures.UseTestnet = config.UseTestnet
	return &BinancePort{
		client:   futures.NewClient(config.APIKey, config.APISecret),
		config:   config,
		logger:   logger.WithField("component", "binance_port"),
		clock:    clock,
		symbols:  make(map[string]string),
		levelIDs: make(map[string]int),
		sides:    make(map[string]core.OrderSide),
	}, nil
}

func (b *BinancePort) remember(orderID, symbol string, levelID int, side core.OrderSide) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.symbols[orderID] = symbol
	b.levelIDs[orderID] = levelID
	b.sides[orderID] = side
}

func (b *BinancePort) lookup(orderID string) (string, int, core.OrderSide, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sym, ok := b.symbols[orderID]
	return sym, b.levelIDs[orderID], b.sides[orderID], ok
}

func (b *BinancePort) PlaceOrder(ctx context.Context, req core.PlaceOrderRequest) (string, error) {
	clientID := GenerateClientOrderID(b.config.Identity, req.Symbol, req.LevelID, req.TS, b.seq.Next())

	resp, err := b.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(futures.SideType(req.Side)).
		Type(futures.OrderTypeLimit).
		TimeInForce(futures.TimeInForceTypeGTC).
		Price(req.Price.String()).
		Quantity(req.Quantity.String()).
		NewClientOrderID(clientID).
		Do(ctx)
	if err != nil {
		return "", classifyBinanceError(OpPlaceOrder, err)
	}

	orderID := strconv.FormatInt(resp.OrderID, 10)
	b.remember(orderID, req.Symbol, req.LevelID, req.Side)
	return orderID, nil
}

func (b *BinancePort) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	symbol, _, _, ok := b.lookup(orderID)
	if !ok {
		return false, core.NonRetryable(OpCancelOrder, core.Reason4xx,
			fmt.Errorf("unknown order %s", orderID))
	}
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return false, core.NonRetryable(OpCancelOrder, core.Reason4xx, err)
	}

	_, err = b.client.NewCancelOrderService().Symbol(symbol).OrderID(id).Do(ctx)
	if err != nil {
		// -2011: order already gone; treat as a no-op cancel.
		var apiErr *common.APIError
		if errors.As(err, &apiErr) && apiErr.Code == -2011 {
			return false, nil
		}
		return false, classifyBinanceError(OpCancelOrder, err)
	}
	return true, nil
}

func (b *BinancePort) ReplaceOrder(ctx context.Context, req core.ReplaceOrderRequest) (string, error) {
	symbol, levelID, side, ok := b.lookup(req.OrderID)
	if !ok {
		return "", core.NonRetryable(OpReplaceOrder, core.Reason4xx,
			fmt.Errorf("unknown order %s", req.OrderID))
	}

	// Binance futures has no atomic replace; cancel then place.
	if _, err := b.CancelOrder(ctx, req.OrderID); err != nil {
		return "", err
	}

	return b.PlaceOrder(ctx, core.PlaceOrderRequest{
		Symbol:   symbol,
		Side:     side,
		Price:    req.NewPrice,
		Quantity: req.NewQuantity,
		LevelID:  levelID,
		TS:       req.TS,
	})
}

func (b *BinancePort) PlaceMarketOrder(ctx context.Context, req core.MarketOrderRequest) (string, error) {
	svc := b.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(futures.SideType(req.Side)).
		Type(futures.OrderTypeMarket).
		Quantity(req.Quantity.String())
	if req.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}
	resp, err := svc.Do(ctx)
	if err != nil {
		return "", classifyBinanceError(OpPlaceMarketOrder, err)
	}
	return strconv.FormatInt(resp.OrderID, 10), nil
}

func (b *BinancePort) CancelAllOrders(ctx context.Context, symbol string) (int, error) {
	open, err := b.FetchOpenOrders(ctx, symbol)
	if err != nil {
		return 0, err
	}
	if err := b.client.NewCancelAllOpenOrdersService().Symbol(symbol).Do(ctx); err != nil {
		return 0, classifyBinanceError(OpCancelAllOrders, err)
	}
	return len(open), nil
}

func (b *BinancePort) FetchOpenOrders(ctx context.Context, symbol string) ([]core.OrderRecord, error) {
	orders, err := b.client.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, classifyBinanceError(OpFetchOpenOrders, err)
	}

	out := make([]core.OrderRecord, 0, len(orders))
	for _, o := range orders {
		price, err := decimal.NewFromString(o.Price)
		if err != nil {
			return nil, core.NonRetryable(OpFetchOpenOrders, core.ReasonDecode, err)
		}
		qty, err := decimal.NewFromString(o.OrigQuantity)
		if err != nil {
			return nil, core.NonRetryable(OpFetchOpenOrders, core.ReasonDecode, err)
		}
		rec := core.OrderRecord{
			OrderID:   strconv.FormatInt(o.OrderID, 10),
			Symbol:    o.Symbol,
			Side:      core.OrderSide(o.Side),
			Price:     price,
			Quantity:  qty,
			State:     mapBinanceStatus(string(o.Status)),
			CreatedTS: o.Time,
		}
		if parsed, err := ParseClientOrderID(b.config.Identity, o.ClientOrderID); err == nil {
			if lvl, convErr := strconv.Atoi(parsed.LevelID); convErr == nil {
				rec.LevelID = lvl
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

func (b *BinancePort) FetchPositions(ctx context.Context, symbol string) ([]core.PositionSnap, error) {
	svc := b.client.NewGetPositionRiskService()
	if symbol != "" {
		svc = svc.Symbol(symbol)
	}
	risks, err := svc.Do(ctx)
	if err != nil {
		return nil, classifyBinanceError(OpFetchPositions, err)
	}

	now := b.clock.NowMs()
	out := make([]core.PositionSnap, 0, len(risks))
	for _, p := range risks {
		qty, err := decimal.NewFromString(p.PositionAmt)
		if err != nil {
			return nil, core.NonRetryable(OpFetchPositions, core.ReasonDecode, err)
		}
		if qty.IsZero() {
			continue
		}
		entry, _ := decimal.NewFromString(p.EntryPrice)
		mark, _ := decimal.NewFromString(p.MarkPrice)
		upnl, _ := decimal.NewFromString(p.UnRealizedProfit)
		leverage, _ := strconv.Atoi(p.Leverage)
		side := "LONG"
		if qty.IsNegative() {
			side = "SHORT"
		}
		out = append(out, core.PositionSnap{
			Symbol:        p.Symbol,
			Side:          side,
			Qty:           qty,
			EntryPrice:    entry,
			MarkPrice:     mark,
			UnrealizedPnl: upnl,
			Leverage:      leverage,
			TS:            now,
		})
	}
	return out, nil
}

func (b *BinancePort) FetchAccountSnapshot(ctx context.Context) (core.AccountSnapshot, error) {
	positions, err := b.FetchPositions(ctx, "")
	if err != nil {
		return core.AccountSnapshot{}, err
	}

	rawOrders, err := b.client.NewListOpenOrdersService().Do(ctx)
	if err != nil {
		return core.AccountSnapshot{}, classifyBinanceError(OpFetchAccount, err)
	}
	orders := make([]core.OpenOrderSnap, 0, len(rawOrders))
	for _, o := range rawOrders {
		price, _ := decimal.NewFromString(o.Price)
		qty, _ := decimal.NewFromString(o.OrigQuantity)
		filled, _ := decimal.NewFromString(o.ExecutedQuantity)
		orders = append(orders, core.OpenOrderSnap{
			OrderID:       strconv.FormatInt(o.OrderID, 10),
			ClientOrderID: o.ClientOrderID,
			Symbol:     o.Symbol,
			Side:       core.OrderSide(o.Side),
			OrderType:  string(o.Type),
			Price:      price,
			Qty:        qty,
			FilledQty:  filled,
			ReduceOnly: o.ReduceOnly,
			Status:     mapBinanceStatus(string(o.Status)),
			TS:         o.UpdateTime,
		})
	}
	return core.NewAccountSnapshot(positions, orders, "binance"), nil
}

// StartUserStream opens a user-data listen key.
func (b *BinancePort) StartUserStream(ctx context.Context) (string, error) {
	key, err := b.client.NewStartUserStreamService().Do(ctx)
	if err != nil {
		return "", classifyBinanceError("start_user_stream", err)
	}
	return key, nil
}

// KeepaliveUserStream extends the listen key lease.
func (b *BinancePort) KeepaliveUserStream(ctx context.Context, listenKey string) error {
	if err := b.client.NewKeepaliveUserStreamService().ListenKey(listenKey).Do(ctx); err != nil {
		return classifyBinanceError("keepalive_user_stream", err)
	}
	return nil
}

// CloseUserStream releases the listen key.
func (b *BinancePort) CloseUserStream(ctx context.Context, listenKey string) error {
	if err := b.client.NewCloseUserStreamService().ListenKey(listenKey).Do(ctx); err != nil {
		return classifyBinanceError("close_user_stream", err)
	}
	return nil
}

func mapBinanceStatus(status string) core.OrderState {
	switch status {
	case "NEW":
		return core.OrderOpen
	case "PARTIALLY_FILLED":
		return core.OrderPartiallyFilled
	case "FILLED":
		return core.OrderFilled
	case "CANCELED":
		return core.OrderCancelled
	case "REJECTED":
		return core.OrderRejected
	case "EXPIRED":
		return core.OrderExpired
	default:
		return core.OrderPending
	}
}

// classifyBinanceError maps transport and API failures onto the
// PortError sum type with stable reason labels.
func classifyBinanceError(op string, err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == -1003: // WAF rate limit
			return core.Transient(op, core.Reason429, err)
		case apiErr.Code <= -1000 && apiErr.Code > -1099:
			return core.Transient(op, core.Reason5xx, err)
		default:
			return core.NonRetryable(op, core.Reason4xx, err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return core.Transient(op, core.ReasonTimeout, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return core.Transient(op, core.ReasonTimeout, err)
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return core.Transient(op, core.ReasonDNS, err)
	}
	if strings.Contains(err.Error(), "tls:") {
		return core.Transient(op, core.ReasonTLS, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return core.Transient(op, core.ReasonConnect, err)
	}
	return core.Transient(op, core.ReasonUnknown, err)
}
