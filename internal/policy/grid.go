// Package policy contains the grid policies. Every policy is
// deterministic in its feature inputs.
package policy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/bnzr-team/grinder/internal/core"
)

// Reason codes attached to plans.
const (
	ReasonRegimeRange = "REGIME_RANGE"
	ReasonStaticGrid  = "STATIC_GRID"
)

// GridPolicy produces a GridPlan from the current features.
type GridPolicy interface {
	Name() string
	Evaluate(features core.FeatureSnapshot) (core.GridPlan, error)
}

// StaticGridConfig configures the baseline symmetric grid.
type StaticGridConfig struct {
	SpacingBps   int64
	Levels       int
	SizePerLevel decimal.Decimal
}

// Validate refuses degenerate grids.
func (c StaticGridConfig) Validate() error {
	if c.SpacingBps <= 0 {
		return fmt.Errorf("spacing_bps must be positive, got %d", c.SpacingBps)
	}
	if c.Levels <= 0 {
		return fmt.Errorf("levels must be positive, got %d", c.Levels)
	}
	if !c.SizePerLevel.IsPositive() {
		return fmt.Errorf("size_per_level must be positive, got %s", c.SizePerLevel)
	}
	return nil
}

// StaticGridPolicy emits a symmetric bilateral grid centered on the
// mid price. Size schedule is base-asset quantity per level, never
// notional.
type StaticGridPolicy struct {
	config StaticGridConfig
}

// NewStaticGridPolicy creates the baseline policy.
func NewStaticGridPolicy(config StaticGridConfig) (*StaticGridPolicy, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &StaticGridPolicy{config: config}, nil
}

func (p *StaticGridPolicy) Name() string { return "static_grid_v1" }

func (p *StaticGridPolicy) Evaluate(features core.FeatureSnapshot) (core.GridPlan, error) {
	if !features.MidPrice.IsPositive() {
		return core.GridPlan{}, fmt.Errorf("mid price must be positive, got %s", features.MidPrice)
	}

	schedule := make([]decimal.Decimal, p.config.Levels)
	for i := range schedule {
		schedule[i] = p.config.SizePerLevel
	}

	plan := core.GridPlan{
		Mode:         core.ModeBilateral,
		CenterPrice:  features.MidPrice,
		SpacingBps:   p.config.SpacingBps,
		LevelsUp:     p.config.Levels,
		LevelsDown:   p.config.Levels,
		SizeSchedule: schedule,
		SkewBps:      0,
		Regime:       core.RegimeRange,
		WidthBps:     p.config.SpacingBps * int64(p.config.Levels),
		ResetAction:  core.ResetNone,
		ReasonCodes:  []string{ReasonRegimeRange, ReasonStaticGrid},
	}
	if err := plan.Validate(); err != nil {
		return core.GridPlan{}, err
	}
	return plan, nil
}
