package gating

import (
	"github.com/bnzr-team/grinder/internal/core"
)

// Rate limiter block reasons.
const (
	ReasonRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	ReasonCooldownActive    = "COOLDOWN_ACTIVE"
)

const windowMs = 60_000

// RateLimiterConfig bounds order submission frequency.
type RateLimiterConfig struct {
	MaxOrdersPerMinute int
	CooldownMs         int64
}

// RateLimiter enforces a sliding 60s window count plus a per-order
// cooldown. Driven only by the main loop; the clock is injected for
// deterministic tests.
type RateLimiter struct {
	config      RateLimiterConfig
	clock       core.Clock
	submissions []int64
	lastOrderMs int64
}

// NewRateLimiter creates the rate gate.
func NewRateLimiter(config RateLimiterConfig, clock core.Clock) *RateLimiter {
	return &RateLimiter{config: config, clock: clock, lastOrderMs: -1}
}

func (r *RateLimiter) Name() string { return GateRate }

func (r *RateLimiter) Evaluate(_ Context) core.GatingResult {
	now := r.clock.NowMs()
	r.evict(now)

	if r.lastOrderMs >= 0 && r.config.CooldownMs > 0 && now-r.lastOrderMs < r.config.CooldownMs {
		return core.Blocked(ReasonCooldownActive, map[string]any{
			"remaining_ms": r.config.CooldownMs - (now - r.lastOrderMs),
		})
	}
	if r.config.MaxOrdersPerMinute > 0 && len(r.submissions) >= r.config.MaxOrdersPerMinute {
		return core.Blocked(ReasonRateLimitExceeded, map[string]any{
			"window_count": len(r.submissions),
		})
	}
	return core.Allowed()
}

// Record notes a submitted order. Call after the order is actually sent.
func (r *RateLimiter) Record() {
	now := r.clock.NowMs()
	r.evict(now)
	r.submissions = append(r.submissions, now)
	r.lastOrderMs = now
}

// evict drops submissions that are a full window old or older: an
// order placed at t is counted up to t+60s and dropped at exactly
// t+60s.
func (r *RateLimiter) evict(now int64) {
	cut := 0
	for cut < len(r.submissions) && now-r.submissions[cut] >= windowMs {
		cut++
	}
	if cut > 0 {
		r.submissions = r.submissions[cut:]
	}
}
