package live

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/bnzr-team/grinder/internal/core"
	"github.com/bnzr-team/grinder/internal/reconcile"
)

// Environment variables recognized by the loop.
const (
	EnvReconcileEnabled    = "RECONCILE_ENABLED"
	EnvReconcileIntervalMs = "RECONCILE_INTERVAL_MS"
)

// SnapshotSource refreshes the observed store from the exchange.
type SnapshotSource interface {
	Refresh(ctx context.Context) error
}

// RoleProbe gates writes to the ACTIVE instance.
type RoleProbe interface {
	IsActive() bool
}

// ReconcileLoopConfig tunes the loop.
type ReconcileLoopConfig struct {
	IntervalMs int64
	// AllowStandby lets the loop run even when not ACTIVE; used by
	// operator tooling, never in production.
	AllowStandby bool
}

// ReconcileLoop periodically refreshes observed state and runs one
// reconcile cycle. Cycles are serial: a tick that finds the previous
// cycle still running is impossible by construction (single goroutine).
type ReconcileLoop struct {
	config ReconcileLoopConfig
	engine *reconcile.Engine
	source SnapshotSource
	role   RoleProbe
	logger core.ILogger
}

// NewReconcileLoop wires the loop.
func NewReconcileLoop(config ReconcileLoopConfig, engine *reconcile.Engine, source SnapshotSource, role RoleProbe, logger core.ILogger) *ReconcileLoop {
	if config.IntervalMs <= 0 {
		config.IntervalMs = 30_000
	}
	return &ReconcileLoop{
		config: config,
		engine: engine,
		source: source,
		role:   role,
		logger: logger.WithField("component", "reconcile_loop"),
	}
}

// Run ticks until the context is cancelled. The loop is interruptible
// between ticks.
func (l *ReconcileLoop) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(l.config.IntervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

func (l *ReconcileLoop) tick(ctx context.Context) {
	if l.role != nil && !l.role.IsActive() && !l.config.AllowStandby {
		return
	}
	if l.source != nil {
		if err := l.source.Refresh(ctx); err != nil {
			l.logger.Warn("observed snapshot refresh failed, skipping cycle", "error", err)
			return
		}
	}
	runID := uuid.NewString()
	mismatches, err := l.engine.RunCycle(ctx, runID)
	if err != nil {
		l.logger.Error("reconcile cycle failed", "run_id", runID, "error", err)
		return
	}
	if len(mismatches) > 0 {
		l.logger.Warn("reconcile cycle found mismatches", "run_id", runID, "count", len(mismatches))
	}
}
