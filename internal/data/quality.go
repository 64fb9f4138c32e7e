// Package data validates incoming market snapshots before they reach
// the feature engine. A failed check is an invariant violation: the
// current snapshot cycle is aborted.
package data

import (
	"fmt"

	"github.com/bnzr-team/grinder/internal/core"
)

// Quality check violation codes.
const (
	ViolationCrossedBook  = "CROSSED_BOOK"
	ViolationNonPositive  = "NON_POSITIVE_VALUE"
	ViolationTsRegression = "TS_REGRESSION"
	ViolationEmptySymbol  = "EMPTY_SYMBOL"
)

// QualityError reports which invariant a snapshot violated.
type QualityError struct {
	Violation string
	Symbol    string
	Detail    string
}

func (e *QualityError) Error() string {
	return fmt.Sprintf("snapshot quality violation %s (%s): %s", e.Violation, e.Symbol, e.Detail)
}

// QualityChecker validates snapshots per symbol. Not thread-safe;
// driven by the main loop.
type QualityChecker struct {
	lastTs map[string]int64
}

// NewQualityChecker creates a checker.
func NewQualityChecker() *QualityChecker {
	return &QualityChecker{lastTs: make(map[string]int64)}
}

// Check validates one snapshot and records its timestamp on success.
func (q *QualityChecker) Check(snap core.Snapshot) error {
	if snap.Symbol == "" {
		return &QualityError{Violation: ViolationEmptySymbol, Detail: "missing symbol"}
	}
	if !snap.BidPrice.IsPositive() || !snap.AskPrice.IsPositive() {
		return &QualityError{
			Violation: ViolationNonPositive, Symbol: snap.Symbol,
			Detail: fmt.Sprintf("bid=%s ask=%s", snap.BidPrice, snap.AskPrice),
		}
	}
	if snap.BidQty.IsNegative() || snap.AskQty.IsNegative() {
		return &QualityError{
			Violation: ViolationNonPositive, Symbol: snap.Symbol,
			Detail: fmt.Sprintf("bid_qty=%s ask_qty=%s", snap.BidQty, snap.AskQty),
		}
	}
	if snap.BidPrice.GreaterThan(snap.AskPrice) {
		return &QualityError{
			Violation: ViolationCrossedBook, Symbol: snap.Symbol,
			Detail: fmt.Sprintf("bid=%s > ask=%s", snap.BidPrice, snap.AskPrice),
		}
	}
	if last, ok := q.lastTs[snap.Symbol]; ok && snap.TS < last {
		return &QualityError{
			Violation: ViolationTsRegression, Symbol: snap.Symbol,
			Detail: fmt.Sprintf("ts=%d < last=%d", snap.TS, last),
		}
	}
	q.lastTs[snap.Symbol] = snap.TS
	return nil
}
