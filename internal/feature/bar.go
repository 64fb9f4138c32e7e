// Package feature computes per-symbol market features from the
// snapshot stream. Deterministic: the same snapshot sequence produces
// identical features. Not thread-safe; one engine per symbol universe,
// driven only by the main loop.
package feature

import (
	"github.com/shopspring/decimal"

	"github.com/bnzr-team/grinder/internal/core"
)

// BarBuilder accumulates mid prices into fixed-interval OHLC bars and
// rolls on the timestamp boundary.
type BarBuilder struct {
	intervalMs int64
	current    *core.MidBar
}

// NewBarBuilder creates a builder with the given interval.
func NewBarBuilder(intervalMs int64) *BarBuilder {
	return &BarBuilder{intervalMs: intervalMs}
}

func (b *BarBuilder) bucket(ts int64) int64 {
	return ts - (ts % b.intervalMs)
}

// Feed adds a mid price observation. If the timestamp crosses a bar
// boundary, the completed bar is returned; otherwise nil.
func (b *BarBuilder) Feed(ts int64, mid decimal.Decimal) *core.MidBar {
	bucket := b.bucket(ts)

	if b.current == nil {
		b.current = &core.MidBar{OpenTS: bucket, Open: mid, High: mid, Low: mid, Close: mid}
		return nil
	}

	if bucket == b.current.OpenTS {
		if mid.GreaterThan(b.current.High) {
			b.current.High = mid
		}
		if mid.LessThan(b.current.Low) {
			b.current.Low = mid
		}
		b.current.Close = mid
		return nil
	}

	completed := *b.current
	b.current = &core.MidBar{OpenTS: bucket, Open: mid, High: mid, Low: mid, Close: mid}
	return &completed
}

// Current returns the in-progress bar, or nil before the first feed.
func (b *BarBuilder) Current() *core.MidBar {
	if b.current == nil {
		return nil
	}
	bar := *b.current
	return &bar
}
