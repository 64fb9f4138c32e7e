package reconcile

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bnzr-team/grinder/internal/core"
)

// Budget block reasons. Closed set, used as metric labels.
const (
	BlockMaxCallsPerRun     = "max_calls_per_run"
	BlockMaxNotionalPerRun  = "max_notional_per_run"
	BlockMaxCallsPerDay     = "max_calls_per_day"
	BlockMaxNotionalPerDay  = "max_notional_per_day"
)

// BudgetConfig bounds remediation over two axes, per run and per UTC
// day. Negative values disable a limit; zero means "no executions".
type BudgetConfig struct {
	MaxCallsPerRun    int
	MaxNotionalPerRun decimal.Decimal
	MaxCallsPerDay    int
	MaxNotionalPerDay decimal.Decimal
	StatePath         string
}

// budgetState is the persisted JSON layout.
type budgetState struct {
	Date            string `json:"date"`
	CallsToday      int    `json:"calls_today"`
	NotionalToday   string `json:"notional_today"`
	LastUpdatedTsMs int64  `json:"last_updated_ts_ms"`
}

// Budget tracks remediation spending. Daily counters reset at UTC
// midnight and persist across restarts; per-run counters reset on
// NewRun.
type Budget struct {
	mu            sync.Mutex
	config        BudgetConfig
	clock         core.Clock
	logger        core.ILogger
	date          string
	callsToday    int
	notionalToday decimal.Decimal
	callsRun      int
	notionalRun   decimal.Decimal
}

// NewBudget creates the budget, reloading persisted daily state when a
// state path is configured.
func NewBudget(config BudgetConfig, clock core.Clock, logger core.ILogger) *Budget {
	b := &Budget{
		config:        config,
		clock:         clock,
		logger:        logger.WithField("component", "remediation_budget"),
		notionalToday: decimal.Zero,
		notionalRun:   decimal.Zero,
	}
	b.date = b.utcDate()
	b.load()
	return b
}

func (b *Budget) utcDate() string {
	return time.UnixMilli(b.clock.NowMs()).UTC().Format("2006-01-02")
}

// rollLocked resets daily counters when the UTC date changed.
func (b *Budget) rollLocked() {
	today := b.utcDate()
	if today != b.date {
		b.date = today
		b.callsToday = 0
		b.notionalToday = decimal.Zero
		b.persistLocked()
	}
}

// NewRun resets the per-run counters.
func (b *Budget) NewRun() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callsRun = 0
	b.notionalRun = decimal.Zero
	b.rollLocked()
}

// CanExecute reports whether one more call of the given notional fits
// within every limit; on block the violated reason is returned.
func (b *Budget) CanExecute(notional decimal.Decimal) (bool, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollLocked()

	if b.config.MaxCallsPerRun >= 0 && b.callsRun+1 > b.config.MaxCallsPerRun {
		return false, BlockMaxCallsPerRun
	}
	if !b.config.MaxNotionalPerRun.IsNegative() && b.notionalRun.Add(notional).GreaterThan(b.config.MaxNotionalPerRun) {
		return false, BlockMaxNotionalPerRun
	}
	if b.config.MaxCallsPerDay >= 0 && b.callsToday+1 > b.config.MaxCallsPerDay {
		return false, BlockMaxCallsPerDay
	}
	if !b.config.MaxNotionalPerDay.IsNegative() && b.notionalToday.Add(notional).GreaterThan(b.config.MaxNotionalPerDay) {
		return false, BlockMaxNotionalPerDay
	}
	return true, ""
}

// RecordExecution bumps both axes and persists the daily state.
func (b *Budget) RecordExecution(notional decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollLocked()
	b.callsRun++
	b.notionalRun = b.notionalRun.Add(notional)
	b.callsToday++
	b.notionalToday = b.notionalToday.Add(notional)
	b.persistLocked()
}

// DayUsage returns the daily counters for gauges.
func (b *Budget) DayUsage() (calls, callsRemaining int, notional, notionalRemaining decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollLocked()
	callsRemaining = b.config.MaxCallsPerDay - b.callsToday
	if callsRemaining < 0 {
		callsRemaining = 0
	}
	notionalRemaining = b.config.MaxNotionalPerDay.Sub(b.notionalToday)
	if notionalRemaining.IsNegative() {
		notionalRemaining = decimal.Zero
	}
	return b.callsToday, callsRemaining, b.notionalToday, notionalRemaining
}

func (b *Budget) load() {
	if b.config.StatePath == "" {
		return
	}
	raw, err := os.ReadFile(b.config.StatePath)
	if err != nil {
		if !os.IsNotExist(err) {
			b.logger.Warn("failed to read budget state, starting fresh", "error", err)
		}
		return
	}
	var st budgetState
	if err := json.Unmarshal(raw, &st); err != nil {
		b.logger.Warn("corrupt budget state, starting fresh", "error", err)
		return
	}
	if st.Date != b.date {
		return
	}
	notional, err := decimal.NewFromString(st.NotionalToday)
	if err != nil {
		b.logger.Warn("corrupt budget notional, starting fresh", "error", err)
		return
	}
	b.callsToday = st.CallsToday
	b.notionalToday = notional
}

func (b *Budget) persistLocked() {
	if b.config.StatePath == "" {
		return
	}
	st := budgetState{
		Date:            b.date,
		CallsToday:      b.callsToday,
		NotionalToday:   b.notionalToday.String(),
		LastUpdatedTsMs: b.clock.NowMs(),
	}
	raw, err := json.Marshal(st)
	if err != nil {
		b.logger.Warn("failed to marshal budget state", "error", err)
		return
	}
	tmp := fmt.Sprintf("%s.tmp", b.config.StatePath)
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		b.logger.Warn("failed to write budget state", "error", err)
		return
	}
	if err := os.Rename(tmp, b.config.StatePath); err != nil {
		b.logger.Warn("failed to replace budget state", "error", err)
	}
}
