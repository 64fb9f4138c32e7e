package execution

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/bnzr-team/grinder/internal/core"
)

// ActionKind discriminates engine actions.
type ActionKind string

const (
	ActionPlace   ActionKind = "PLACE"
	ActionCancel  ActionKind = "CANCEL"
	ActionReplace ActionKind = "REPLACE"
)

// Skip reason codes.
const ReasonMinQty = "MIN_QTY"

// Action is one PLACE/CANCEL/REPLACE decision for a single order.
type Action struct {
	Kind     ActionKind
	Symbol   string
	Side     core.OrderSide
	LevelID  int
	Price    decimal.Decimal
	Quantity decimal.Decimal
	OrderID  string
	Reason   string
}

// Skipped records a level whose desired quantity quantized below the
// exchange minimum.
type Skipped struct {
	Side    core.OrderSide
	LevelID int
	Reason  string
}

// EngineConfig tunes the diffing behavior.
type EngineConfig struct {
	// RepriceThresholdBps is the minimum price drift before an active
	// order is replaced. Quantity changes always replace.
	RepriceThresholdBps int64
}

// Engine computes the minimal action diff between a plan and the
// current execution state.
type Engine struct {
	config EngineConfig
	logger core.ILogger
}

// NewEngine creates the execution engine.
func NewEngine(config EngineConfig, logger core.ILogger) *Engine {
	return &Engine{
		config: config,
		logger: logger.WithField("component", "execution_engine"),
	}
}

type target struct {
	key      LevelKey
	price    decimal.Decimal
	quantity decimal.Decimal
}

// ComputeActions diffs the desired grid against the resting orders.
// Ordering is deterministic: cancels, then replaces, then places, each
// sorted by (side, level_id).
func (e *Engine) ComputeActions(plan core.GridPlan, state *State, constraints core.SymbolConstraints) ([]Action, []Skipped) {
	targets, skipped := e.desiredTargets(plan, constraints, state.Symbol)

	desired := make(map[LevelKey]target, len(targets))
	for _, t := range targets {
		desired[t.key] = t
	}

	var cancels, replaces, places []Action

	// Levels no longer desired are cancelled.
	for _, key := range state.ActiveKeys() {
		if _, ok := desired[key]; !ok {
			active, _ := state.Active(key)
			cancels = append(cancels, Action{
				Kind: ActionCancel, Symbol: state.Symbol, Side: key.Side,
				LevelID: key.LevelID, OrderID: active.OrderID,
			})
		}
	}

	for _, t := range targets {
		active, ok := state.Active(t.key)
		if !ok {
			places = append(places, Action{
				Kind: ActionPlace, Symbol: state.Symbol, Side: t.key.Side,
				LevelID: t.key.LevelID, Price: t.price, Quantity: t.quantity,
			})
			continue
		}
		if e.needsReprice(active, t) {
			replaces = append(replaces, Action{
				Kind: ActionReplace, Symbol: state.Symbol, Side: t.key.Side,
				LevelID: t.key.LevelID, Price: t.price, Quantity: t.quantity,
				OrderID: active.OrderID,
			})
		}
	}

	sortActions(cancels)
	sortActions(replaces)
	sortActions(places)

	actions := make([]Action, 0, len(cancels)+len(replaces)+len(places))
	actions = append(actions, cancels...)
	actions = append(actions, replaces...)
	actions = append(actions, places...)
	return actions, skipped
}

func (e *Engine) needsReprice(active ActiveOrder, t target) bool {
	if !active.Quantity.Equal(t.quantity) {
		return true
	}
	if active.Price.Equal(t.price) {
		return false
	}
	if active.Price.IsZero() {
		return true
	}
	driftBps := t.price.Sub(active.Price).Abs().Div(active.Price).Mul(decimal.NewFromInt(10_000)).IntPart()
	return driftBps >= e.config.RepriceThresholdBps
}

// desiredTargets expands the plan into quantized per-level targets.
// Buy rungs sit below center, sell rungs above; SkewBps shifts the
// effective center before spacing is applied.
func (e *Engine) desiredTargets(plan core.GridPlan, constraints core.SymbolConstraints, symbol string) ([]target, []Skipped) {
	if plan.Mode != core.ModeBilateral {
		return nil, nil
	}

	bps := decimal.NewFromInt(10_000)
	center := plan.CenterPrice
	if plan.SkewBps != 0 {
		center = center.Mul(decimal.NewFromInt(10_000 + plan.SkewBps)).Div(bps)
	}

	var targets []target
	var skipped []Skipped

	addLevel := func(side core.OrderSide, level int, price decimal.Decimal) {
		qty := quantizeQty(plan.SizeSchedule[level-1], constraints.StepSize)
		if qty.LessThan(constraints.MinQty) || qty.IsZero() {
			skipped = append(skipped, Skipped{Side: side, LevelID: level, Reason: ReasonMinQty})
			e.logger.Debug("level skipped", "side", string(side), "level_id", level, "reason", ReasonMinQty)
			return
		}
		targets = append(targets, target{
			key:      LevelKey{Side: side, LevelID: level},
			price:    quantizePrice(price, constraints.TickSize),
			quantity: qty,
		})
	}

	for i := 1; i <= plan.LevelsDown; i++ {
		offset := decimal.NewFromInt(plan.SpacingBps * int64(i))
		price := center.Mul(bps.Sub(offset)).Div(bps)
		addLevel(core.SideBuy, i, price)
	}
	for i := 1; i <= plan.LevelsUp; i++ {
		offset := decimal.NewFromInt(plan.SpacingBps * int64(i))
		price := center.Mul(bps.Add(offset)).Div(bps)
		addLevel(core.SideSell, i, price)
	}

	return targets, skipped
}

// quantizePrice snaps a price to the tick size, rounding down.
func quantizePrice(price, tick decimal.Decimal) decimal.Decimal {
	if tick.IsZero() {
		return price
	}
	return price.Div(tick).Floor().Mul(tick)
}

// quantizeQty snaps a quantity to the step size, rounding down.
func quantizeQty(qty, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return qty
	}
	return qty.Div(step).Floor().Mul(step)
}

func sortActions(actions []Action) {
	sort.Slice(actions, func(i, j int) bool {
		if actions[i].Side != actions[j].Side {
			return actions[i].Side < actions[j].Side
		}
		return actions[i].LevelID < actions[j].LevelID
	})
}
