package core

import "context"

// ILogger is the logging facade used across the system. Implemented in
// pkg/logging over zap.
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}

// ExchangePort is the abstract exchange interface. Write operations are
// idempotent only when wrapped by the idempotent port.
type ExchangePort interface {
	// Write operations.
	PlaceOrder(ctx context.Context, req PlaceOrderRequest) (string, error)
	CancelOrder(ctx context.Context, orderID string) (bool, error)
	ReplaceOrder(ctx context.Context, req ReplaceOrderRequest) (string, error)
	PlaceMarketOrder(ctx context.Context, req MarketOrderRequest) (string, error)
	CancelAllOrders(ctx context.Context, symbol string) (int, error)

	// Read operations.
	FetchOpenOrders(ctx context.Context, symbol string) ([]OrderRecord, error)
	FetchPositions(ctx context.Context, symbol string) ([]PositionSnap, error)
	FetchAccountSnapshot(ctx context.Context) (AccountSnapshot, error)
}

// PlaceOrderRequest carries the parameters of a limit order placement.
type PlaceOrderRequest struct {
	Symbol   string
	Side     OrderSide
	Price    Decimal
	Quantity Decimal
	LevelID  int
	TS       int64
}

// ReplaceOrderRequest replaces an existing order by a cancel followed
// by a place; the two steps are not atomic.
type ReplaceOrderRequest struct {
	OrderID     string
	NewPrice    Decimal
	NewQuantity Decimal
	TS          int64
}

// MarketOrderRequest is a market order, used by the emergency exit with
// ReduceOnly set.
type MarketOrderRequest struct {
	Symbol     string
	Side       OrderSide
	Quantity   Decimal
	ReduceOnly bool
}

// IHealthMonitor aggregates component health checks.
type IHealthMonitor interface {
	Register(component string, check func() error)
	GetStatus() map[string]string
	IsHealthy() bool
}
