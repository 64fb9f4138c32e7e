package resilience

import (
	"context"
	"time"
)

// DeadlinePolicy maps each port operation to its call deadline.
type DeadlinePolicy struct {
	deadlines map[string]time.Duration
	fallback  time.Duration
}

// DefaultDeadlinePolicy carries the production per-operation deadlines.
func DefaultDeadlinePolicy() *DeadlinePolicy {
	return &DeadlinePolicy{
		deadlines: map[string]time.Duration{
			"cancel_order":    600 * time.Millisecond,
			"place_order":     1500 * time.Millisecond,
			"cancel_all":      1200 * time.Millisecond,
			"get_open_orders": 2000 * time.Millisecond,
			"get_positions":   2500 * time.Millisecond,
			"get_account":     2500 * time.Millisecond,
			"exchange_info":   5000 * time.Millisecond,
			"ping_time":       800 * time.Millisecond,
			"get_user_trades": 2500 * time.Millisecond,
		},
		fallback: 2 * time.Second,
	}
}

// Deadline returns the deadline for an operation.
func (p *DeadlinePolicy) Deadline(op string) time.Duration {
	if d, ok := p.deadlines[op]; ok {
		return d
	}
	return p.fallback
}

// WithDeadline derives a context bounded by the operation deadline.
func (p *DeadlinePolicy) WithDeadline(ctx context.Context, op string) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.Deadline(op))
}
