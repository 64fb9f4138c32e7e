// Package ha implements leader election over a TTL lease in a
// key-value store with atomic NX/XX + PX semantics (Redis in
// production). Exactly one instance is ACTIVE; every failure path
// demotes to STANDBY before the next write attempt.
package ha

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bnzr-team/grinder/internal/core"
)

// Role is the HA role of this instance.
type Role string

const (
	RoleActive  Role = "active"
	RoleStandby Role = "standby"
	RoleUnknown Role = "unknown"
)

// Environment variables recognized by the elector.
const (
	EnvRedisURL        = "GRINDER_REDIS_URL"
	EnvLockTTLMs       = "GRINDER_HA_LOCK_TTL_MS"
	EnvRenewIntervalMs = "GRINDER_HA_RENEW_INTERVAL_MS"
)

const minLockTTLMs = 1000

// LockStore is the narrow key-value interface the elector needs.
type LockStore interface {
	// Get returns the current holder value, or "" when the key is
	// absent.
	Get(ctx context.Context, key string) (string, error)
	// SetNX acquires the key with a TTL iff absent.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// SetXX renews the key with a TTL iff present.
	SetXX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// DelIfValue deletes the key iff it still holds value.
	DelIfValue(ctx context.Context, key, value string) error
}

// Observer receives role changes.
type Observer interface {
	HARole(role string)
}

type nopObserver struct{}

func (nopObserver) HARole(string) {}

// Config tunes the elector. Invariant: RenewIntervalMs < LockTTLMs and
// LockTTLMs >= 1000.
type Config struct {
	Key             string
	InstanceID      string
	LockTTLMs       int64
	RenewIntervalMs int64
}

// Validate enforces the lease invariants; violation refuses startup.
func (c Config) Validate() error {
	if c.LockTTLMs < minLockTTLMs {
		return fmt.Errorf("lock_ttl_ms must be >= %d, got %d", minLockTTLMs, c.LockTTLMs)
	}
	if c.RenewIntervalMs >= c.LockTTLMs {
		return fmt.Errorf("renew_interval_ms %d must be < lock_ttl_ms %d", c.RenewIntervalMs, c.LockTTLMs)
	}
	if c.RenewIntervalMs <= 0 {
		return fmt.Errorf("renew_interval_ms must be positive, got %d", c.RenewIntervalMs)
	}
	if c.Key == "" || c.InstanceID == "" {
		return fmt.Errorf("key and instance_id are required")
	}
	return nil
}

// Elector runs the renewal loop.
type Elector struct {
	config   Config
	store    LockStore
	clock    core.Clock
	observer Observer
	logger   core.ILogger

	mu                sync.RWMutex
	role              Role
	lastLockAttemptMs int64
}

// NewElector creates an elector in the UNKNOWN role.
func NewElector(config Config, store LockStore, clock core.Clock, observer Observer, logger core.ILogger) (*Elector, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if observer == nil {
		observer = nopObserver{}
	}
	e := &Elector{
		config:   config,
		store:    store,
		clock:    clock,
		observer: observer,
		logger:   logger.WithField("component", "leader_elector"),
		role:     RoleUnknown,
	}
	observer.HARole(string(RoleUnknown))
	return e, nil
}

// Role returns the current role.
func (e *Elector) Role() Role {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.role
}

// IsActive reports whether this instance holds the lease.
func (e *Elector) IsActive() bool { return e.Role() == RoleActive }

func (e *Elector) setRole(role Role) {
	e.mu.Lock()
	changed := e.role != role
	e.role = role
	e.mu.Unlock()
	if changed {
		e.observer.HARole(string(role))
		e.logger.Info("HA role changed", "role", string(role))
	}
}

// Attempt performs one acquire-or-renew step. Any store error demotes
// to STANDBY (fail-safe).
func (e *Elector) Attempt(ctx context.Context) Role {
	e.mu.Lock()
	e.lastLockAttemptMs = e.clock.NowMs()
	e.mu.Unlock()

	ttl := time.Duration(e.config.LockTTLMs) * time.Millisecond

	holder, err := e.store.Get(ctx, e.config.Key)
	if err != nil {
		e.logger.Warn("lock store unavailable, demoting", "error", err)
		e.setRole(RoleStandby)
		return RoleStandby
	}

	switch holder {
	case e.config.InstanceID:
		ok, err := e.store.SetXX(ctx, e.config.Key, e.config.InstanceID, ttl)
		if err != nil || !ok {
			e.logger.Warn("lease renewal failed, demoting", "error", err)
			e.setRole(RoleStandby)
			return RoleStandby
		}
		e.setRole(RoleActive)
	case "":
		ok, err := e.store.SetNX(ctx, e.config.Key, e.config.InstanceID, ttl)
		if err != nil {
			e.logger.Warn("lease acquire failed, demoting", "error", err)
			e.setRole(RoleStandby)
			return RoleStandby
		}
		if ok {
			e.setRole(RoleActive)
		} else {
			e.setRole(RoleStandby)
		}
	default:
		e.setRole(RoleStandby)
	}
	return e.Role()
}

// Run drives the renewal loop until the context is cancelled, then
// conditionally releases the lock.
func (e *Elector) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(e.config.RenewIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	e.Attempt(ctx)
	for {
		select {
		case <-ctx.Done():
			e.Stop()
			return
		case <-ticker.C:
			e.Attempt(ctx)
		}
	}
}

// Stop releases the lease iff we still hold it and demotes.
func (e *Elector) Stop() {
	releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if e.IsActive() {
		if err := e.store.DelIfValue(releaseCtx, e.config.Key, e.config.InstanceID); err != nil {
			e.logger.Warn("lease release failed", "error", err)
		}
	}
	e.setRole(RoleStandby)
}
