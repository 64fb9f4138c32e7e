package safety

import (
	"context"
	"sync"

	"github.com/bnzr-team/grinder/internal/core"
	"github.com/bnzr-team/grinder/pkg/concurrency"
)

// EnvEmergencyExitEnabled arms the emergency exit executor.
const EnvEmergencyExitEnabled = "GRINDER_EMERGENCY_EXIT_ENABLED"

// Default verify: 10 attempts x 200ms.
const (
	defaultVerifyAttempts   = 10
	defaultVerifyIntervalMs = 200
)

// EmergencyExitResult is the outcome of one exit run.
type EmergencyExitResult struct {
	TriggeredAtMs      int64
	Reason             string
	OrdersCancelled    int
	MarketOrdersPlaced int
	PositionsRemaining int
	Success            bool
}

// EmergencyExitConfig tunes the executor.
type EmergencyExitConfig struct {
	VerifyAttempts   int
	VerifyIntervalMs int64
}

// EmergencyExitExecutor runs the exit sequence: cancel-all per symbol,
// market reduce-only close per position, bounded verify. The executor
// runs at most once per process lifetime; the latch is internal.
type EmergencyExitExecutor struct {
	port   core.ExchangePort
	clock  core.Clock
	logger core.ILogger
	pool   *concurrency.WorkerPool
	config EmergencyExitConfig

	mu       sync.Mutex
	executed bool
}

// NewEmergencyExitExecutor creates the executor. pool may be nil, in
// which case symbols are processed serially.
func NewEmergencyExitExecutor(port core.ExchangePort, clock core.Clock, pool *concurrency.WorkerPool, config EmergencyExitConfig, logger core.ILogger) *EmergencyExitExecutor {
	if config.VerifyAttempts <= 0 {
		config.VerifyAttempts = defaultVerifyAttempts
	}
	if config.VerifyIntervalMs <= 0 {
		config.VerifyIntervalMs = defaultVerifyIntervalMs
	}
	return &EmergencyExitExecutor{
		port:   port,
		clock:  clock,
		pool:   pool,
		config: config,
		logger: logger.WithField("component", "emergency_exit"),
	}
}

// HasExecuted reports the once-per-lifetime latch.
func (e *EmergencyExitExecutor) HasExecuted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.executed
}

// Execute runs the exit sequence for the given symbols. Errors in
// individual steps are logged and do not abort subsequent steps. A
// second call returns a zero result without side effects.
func (e *EmergencyExitExecutor) Execute(ctx context.Context, tsMs int64, reason string, symbols []string) EmergencyExitResult {
	e.mu.Lock()
	if e.executed {
		e.mu.Unlock()
		e.logger.Warn("emergency exit already executed this process, skipping", "reason", reason)
		return EmergencyExitResult{TriggeredAtMs: tsMs, Reason: reason}
	}
	e.executed = true
	e.mu.Unlock()

	e.logger.Error("EMERGENCY EXIT START", "reason", reason, "symbols", symbols)

	var mu sync.Mutex
	ordersCancelled := 0
	marketOrdersPlaced := 0

	runPerSymbol := func(fn func(symbol string)) {
		if e.pool == nil {
			for _, s := range symbols {
				fn(s)
			}
			return
		}
		var wg sync.WaitGroup
		for _, s := range symbols {
			symbol := s
			wg.Add(1)
			_ = e.pool.Submit(func() {
				defer wg.Done()
				fn(symbol)
			})
		}
		wg.Wait()
	}

	// Phase 1: cancel all pending orders.
	runPerSymbol(func(symbol string) {
		n, err := e.port.CancelAllOrders(ctx, symbol)
		if err != nil {
			e.logger.Error("cancel_all_orders failed, continuing", "symbol", symbol, "error", err)
			return
		}
		mu.Lock()
		ordersCancelled += n
		mu.Unlock()
	})

	// Phase 2: market reduce-only close per non-zero position.
	runPerSymbol(func(symbol string) {
		positions, err := e.port.FetchPositions(ctx, symbol)
		if err != nil {
			e.logger.Error("fetch_positions failed, continuing", "symbol", symbol, "error", err)
			return
		}
		for _, pos := range positions {
			if pos.Qty.IsZero() {
				continue
			}
			side := core.SideSell
			if pos.Qty.IsNegative() {
				side = core.SideBuy
			}
			_, err := e.port.PlaceMarketOrder(ctx, core.MarketOrderRequest{
				Symbol:     symbol,
				Side:       side,
				Quantity:   pos.Qty.Abs(),
				ReduceOnly: true,
			})
			if err != nil {
				e.logger.Error("market close failed, continuing", "symbol", symbol, "error", err)
				continue
			}
			mu.Lock()
			marketOrdersPlaced++
			mu.Unlock()
		}
	})

	// Phase 3: bounded verify loop.
	remaining := e.countOpenPositions(ctx, symbols)
	for attempt := 1; remaining > 0 && attempt < e.config.VerifyAttempts; attempt++ {
		e.clock.SleepMs(e.config.VerifyIntervalMs)
		remaining = e.countOpenPositions(ctx, symbols)
	}

	result := EmergencyExitResult{
		TriggeredAtMs:      tsMs,
		Reason:             reason,
		OrdersCancelled:    ordersCancelled,
		MarketOrdersPlaced: marketOrdersPlaced,
		PositionsRemaining: remaining,
		Success:            remaining == 0,
	}
	if result.Success {
		e.logger.Warn("emergency exit complete", "orders_cancelled", ordersCancelled, "market_orders", marketOrdersPlaced)
	} else {
		e.logger.Error("CRITICAL: emergency exit PARTIAL", "positions_remaining", remaining)
	}
	return result
}

func (e *EmergencyExitExecutor) countOpenPositions(ctx context.Context, symbols []string) int {
	count := 0
	for _, symbol := range symbols {
		positions, err := e.port.FetchPositions(ctx, symbol)
		if err != nil {
			e.logger.Error("verify fetch_positions failed", "symbol", symbol, "error", err)
			count++
			continue
		}
		for _, pos := range positions {
			if !pos.Qty.IsZero() {
				count++
			}
		}
	}
	return count
}
