package live

import (
	"context"

	"github.com/bnzr-team/grinder/internal/core"
)

// Pipeline is the per-snapshot decision engine the main loop drives.
// Implemented by replay.CycleEngine for both simulated and live ports.
type Pipeline interface {
	ProcessSnapshot(ctx context.Context, snap core.Snapshot) (core.Decision, error)
}

// MainLoop is the single mutator of per-symbol pipeline state: it
// consumes market snapshots in arrival order and drives the decision
// pipeline for each one. The decision and actions for snapshot n
// complete before snapshot n+1 is read. Snapshots arriving while this
// instance is not the ACTIVE leader are dropped, so a standby never
// quotes.
type MainLoop struct {
	snapshots <-chan core.Snapshot
	pipeline  Pipeline
	role      RoleProbe
	logger    core.ILogger
}

// NewMainLoop wires the loop. role may be nil (single-instance mode,
// always active).
func NewMainLoop(snapshots <-chan core.Snapshot, pipeline Pipeline, role RoleProbe, logger core.ILogger) *MainLoop {
	return &MainLoop{
		snapshots: snapshots,
		pipeline:  pipeline,
		role:      role,
		logger:    logger.WithField("component", "main_loop"),
	}
}

// Run processes snapshots until the context ends or the feed channel
// closes. Per-snapshot errors (quality violations, unknown symbols)
// abort only that cycle.
func (l *MainLoop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-l.snapshots:
			if !ok {
				l.logger.Warn("snapshot feed closed, main loop exiting")
				return
			}
			l.process(ctx, snap)
		}
	}
}

func (l *MainLoop) process(ctx context.Context, snap core.Snapshot) {
	if l.role != nil && !l.role.IsActive() {
		return
	}
	decision, err := l.pipeline.ProcessSnapshot(ctx, snap)
	if err != nil {
		l.logger.Warn("snapshot cycle aborted", "symbol", snap.Symbol, "error", err)
		return
	}
	if len(decision.OrderIntents) > 0 || len(decision.CancelOrderIDs) > 0 {
		l.logger.Info("decision applied",
			"symbol", decision.Symbol,
			"mode", string(decision.Mode),
			"places", len(decision.OrderIntents),
			"cancels", len(decision.CancelOrderIDs))
	}
}
