package feature

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/bnzr-team/grinder/internal/core"
)

var bpsFactor = decimal.NewFromInt(10_000)

// Config holds the feature engine parameters.
type Config struct {
	BarIntervalMs int64
	ATRPeriod     int
	RangeHorizon  int
	MaxBars       int
}

// DefaultConfig mirrors production defaults: 1m bars, 14-period ATR.
func DefaultConfig() Config {
	return Config{
		BarIntervalMs: 60_000,
		ATRPeriod:     14,
		RangeHorizon:  14,
		MaxBars:       1000,
	}
}

// Validate refuses non-positive parameters.
func (c Config) Validate() error {
	if c.BarIntervalMs <= 0 {
		return fmt.Errorf("bar_interval_ms must be positive, got %d", c.BarIntervalMs)
	}
	if c.ATRPeriod <= 0 {
		return fmt.Errorf("atr_period must be positive, got %d", c.ATRPeriod)
	}
	if c.RangeHorizon <= 0 {
		return fmt.Errorf("range_horizon must be positive, got %d", c.RangeHorizon)
	}
	if c.MaxBars <= 0 {
		return fmt.Errorf("max_bars must be positive, got %d", c.MaxBars)
	}
	return nil
}

type symbolState struct {
	builder *BarBuilder
	bars    []core.MidBar
}

// Engine maintains per-symbol bar builders and computes a
// FeatureSnapshot for every processed market snapshot.
type Engine struct {
	config Config
	state  map[string]*symbolState
	latest map[string]core.FeatureSnapshot
}

// NewEngine creates a feature engine.
func NewEngine(config Config) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		config: config,
		state:  make(map[string]*symbolState),
		latest: make(map[string]core.FeatureSnapshot),
	}, nil
}

// ProcessSnapshot feeds one market snapshot and returns the feature
// vector for its symbol.
func (e *Engine) ProcessSnapshot(snap core.Snapshot) core.FeatureSnapshot {
	st, ok := e.state[snap.Symbol]
	if !ok {
		st = &symbolState{builder: NewBarBuilder(e.config.BarIntervalMs)}
		e.state[snap.Symbol] = st
	}

	mid := snap.MidPrice()
	if completed := st.builder.Feed(snap.TS, mid); completed != nil {
		st.bars = append(st.bars, *completed)
		if len(st.bars) > e.config.MaxBars {
			st.bars = st.bars[len(st.bars)-e.config.MaxBars:]
		}
	}

	fs := core.FeatureSnapshot{
		TS:         snap.TS,
		Symbol:     snap.Symbol,
		MidPrice:   mid,
		SpreadBps:  snap.SpreadBps(),
		ThinL1:     decimal.Min(snap.BidQty, snap.AskQty),
		WarmupBars: len(st.bars),
	}
	fs.ImbalanceL1Bps = imbalanceL1Bps(snap.BidQty, snap.AskQty)

	if len(st.bars) >= e.config.ATRPeriod {
		fs.ATR = computeATR(st.bars, e.config.ATRPeriod)
		if !mid.IsZero() {
			fs.NatrBps = fs.ATR.Div(mid).Mul(bpsFactor).IntPart()
		}
	}
	if len(st.bars) >= 2 {
		fs.SumAbsReturnsBps, fs.NetReturnBps, fs.RangeScore = computeRangeTrend(st.bars, e.config.RangeHorizon)
	}

	e.latest[snap.Symbol] = fs
	return fs
}

// Latest returns the most recent feature snapshot for the symbol.
func (e *Engine) Latest(symbol string) (core.FeatureSnapshot, bool) {
	fs, ok := e.latest[symbol]
	return fs, ok
}

// Warm reports whether the symbol has enough completed bars for
// indicator-based regime decisions.
func (e *Engine) Warm(symbol string) bool {
	st, ok := e.state[symbol]
	return ok && len(st.bars) >= e.config.ATRPeriod
}

// BarCount returns the completed bar count for a symbol.
func (e *Engine) BarCount(symbol string) int {
	st, ok := e.state[symbol]
	if !ok {
		return 0
	}
	return len(st.bars)
}

// imbalanceL1Bps computes (bid_qty - ask_qty) / (bid_qty + ask_qty) in
// integer basis points.
func imbalanceL1Bps(bidQty, askQty decimal.Decimal) int64 {
	total := bidQty.Add(askQty)
	if total.IsZero() {
		return 0
	}
	return bidQty.Sub(askQty).Div(total).Mul(bpsFactor).IntPart()
}

// computeATR returns the simple average true range over the last
// period completed bars.
func computeATR(bars []core.MidBar, period int) decimal.Decimal {
	if len(bars) < period {
		return decimal.Zero
	}
	window := bars[len(bars)-period:]
	sum := decimal.Zero
	for i, bar := range window {
		tr := bar.High.Sub(bar.Low)
		if i > 0 {
			prevClose := window[i-1].Close
			if hc := bar.High.Sub(prevClose).Abs(); hc.GreaterThan(tr) {
				tr = hc
			}
			if lc := bar.Low.Sub(prevClose).Abs(); lc.GreaterThan(tr) {
				tr = lc
			}
		}
		sum = sum.Add(tr)
	}
	return sum.Div(decimal.NewFromInt(int64(period)))
}

// computeRangeTrend returns (sum_abs_returns_bps, net_return_bps,
// range_score) over the last horizon completed bars. range_score is the
// ratio of path length to net displacement: near 1 for clean trends,
// large for chop.
func computeRangeTrend(bars []core.MidBar, horizon int) (sumAbsBps, netBps, rangeScore int64) {
	window := bars
	if len(window) > horizon {
		window = window[len(window)-horizon:]
	}
	if len(window) < 2 {
		return 0, 0, 0
	}

	first := window[0].Close
	last := window[len(window)-1].Close
	if first.IsZero() {
		return 0, 0, 0
	}
	netBps = last.Sub(first).Div(first).Mul(bpsFactor).IntPart()

	sumAbs := decimal.Zero
	for i := 1; i < len(window); i++ {
		prev := window[i-1].Close
		if prev.IsZero() {
			continue
		}
		ret := window[i].Close.Sub(prev).Div(prev).Mul(bpsFactor).Abs()
		sumAbs = sumAbs.Add(ret)
	}
	sumAbsBps = sumAbs.IntPart()

	absNet := netBps
	if absNet < 0 {
		absNet = -absNet
	}
	if absNet == 0 {
		absNet = 1
	}
	rangeScore = sumAbsBps / absNet
	return sumAbsBps, netBps, rangeScore
}
