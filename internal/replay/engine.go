// Package replay owns the per-snapshot decision pipeline (quality ->
// features -> regime -> gating -> policy -> execution -> port). The
// replay harness drives it against the simulated port for
// digest-stable fixture runs; the live main loop drives the same
// engine against the idempotent exchange port.
package replay

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/bnzr-team/grinder/internal/core"
	"github.com/bnzr-team/grinder/internal/data"
	"github.com/bnzr-team/grinder/internal/exchange"
	"github.com/bnzr-team/grinder/internal/execution"
	"github.com/bnzr-team/grinder/internal/feature"
	"github.com/bnzr-team/grinder/internal/gating"
	"github.com/bnzr-team/grinder/internal/policy"
	"github.com/bnzr-team/grinder/internal/regime"
	"github.com/bnzr-team/grinder/internal/safety"
)

// Config assembles the pipeline.
type Config struct {
	Symbols        []string
	FeatureConfig  feature.Config
	RegimeConfig   regime.Config
	GridConfig     policy.StaticGridConfig
	EngineConfig   execution.EngineConfig
	Constraints    map[string]core.SymbolConstraints
	InitialCapital decimal.Decimal
	MaxDrawdownPct float64
	Identity       exchange.IdentityConfig
}

// CycleEngine owns the per-snapshot pipeline: quality check, features,
// regime, gating, policy, execution diff, simulated fills, interlocks.
// Single-threaded by contract.
type CycleEngine struct {
	config    Config
	quality   *data.QualityChecker
	features  *feature.Engine
	toxicity  *gating.ToxicityGate
	chain     *gating.Chain
	rate      *gating.RateLimiter
	policy    policy.GridPolicy
	exec      *execution.Engine
	states    map[string]*execution.State
	paper     *exchange.PaperPort
	port      core.ExchangePort
	kill      *safety.KillSwitch
	drawdown  *safety.DrawdownGuard
	fsm       *safety.FSM
	emergency *safety.EmergencyExitExecutor
	clock     core.Clock
	logger    core.ILogger
	seq       exchange.SeqGenerator
	decisions []core.Decision
	entries   map[string]decimal.Decimal
}

// NewCycleEngine wires a fresh pipeline over a paper port. recorder
// may be nil (no gate metrics).
func NewCycleEngine(config Config, clock core.Clock, recorder gating.Recorder, logger core.ILogger) (*CycleEngine, error) {
	paper := exchange.NewPaperPort(logger)
	engine, err := newCycleEngine(config, paper, clock, recorder, logger)
	if err != nil {
		return nil, err
	}
	engine.paper = paper
	return engine, nil
}

// NewLiveCycleEngine wires the same pipeline against an injected port
// (normally the idempotent wrapper over the live or paper adapter).
// No fills are simulated; fills arrive through reconciliation and the
// user-data stream.
func NewLiveCycleEngine(config Config, port core.ExchangePort, clock core.Clock, recorder gating.Recorder, logger core.ILogger) (*CycleEngine, error) {
	return newCycleEngine(config, port, clock, recorder, logger)
}

func newCycleEngine(config Config, port core.ExchangePort, clock core.Clock, recorder gating.Recorder, logger core.ILogger) (*CycleEngine, error) {
	features, err := feature.NewEngine(config.FeatureConfig)
	if err != nil {
		return nil, err
	}
	gridPolicy, err := policy.NewStaticGridPolicy(config.GridConfig)
	if err != nil {
		return nil, err
	}

	kill := safety.NewKillSwitch(nil)
	drawdown, err := safety.NewDrawdownGuard(config.InitialCapital, config.MaxDrawdownPct, nil)
	if err != nil {
		return nil, err
	}

	toxicity := gating.NewToxicityGate(gating.ToxicityConfig{SpreadSpikeBps: 200, PriceImpactBps: 400})
	rate := gating.NewRateLimiter(gating.RateLimiterConfig{MaxOrdersPerMinute: 0}, clock)
	chain := gating.NewChain([]gating.Gate{
		gating.NewPrefilter(gating.PrefilterConfig{}),
		rate,
		gating.NewRiskGate(gating.RiskGateConfig{}),
		toxicity,
		gating.NewKillSwitchGate(kill),
	}, recorder, logger)

	states := make(map[string]*execution.State, len(config.Symbols))
	for _, s := range config.Symbols {
		states[s] = execution.NewState(s)
	}

	engine := &CycleEngine{
		config:   config,
		quality:  data.NewQualityChecker(),
		features: features,
		toxicity: toxicity,
		chain:    chain,
		rate:     rate,
		policy:   gridPolicy,
		exec:     execution.NewEngine(config.EngineConfig, logger),
		states:   states,
		port:     port,
		kill:     kill,
		drawdown: drawdown,
		fsm:      safety.NewFSM(nil),
		clock:    clock,
		logger:   logger.WithField("component", "cycle_engine"),
		entries:  make(map[string]decimal.Decimal),
	}
	engine.emergency = safety.NewEmergencyExitExecutor(port, clock, nil, safety.EmergencyExitConfig{}, logger)

	engine.fsm.Tick(safety.FSMInputs{HealthOK: true})
	engine.fsm.Tick(safety.FSMInputs{HealthOK: true, Armed: true})
	return engine, nil
}

// Paper exposes the simulated port for assertions. Nil when the
// engine was built over a live port.
func (e *CycleEngine) Paper() *exchange.PaperPort { return e.paper }

// UpdateEquity feeds an externally computed equity value (from account
// snapshots) into the drawdown guard. Live mode only; the simulated
// engine marks to market itself.
func (e *CycleEngine) UpdateEquity(equity decimal.Decimal, tsMs int64) {
	result := e.drawdown.Update(equity)
	if result.Triggered && !e.kill.IsTriggered() {
		e.kill.Trip(safety.KillReasonDrawdownLimit, tsMs, map[string]any{
			"drawdown_pct": result.DrawdownPct,
		})
	}
}

// KillSwitch exposes the interlock for test harnesses.
func (e *CycleEngine) KillSwitch() *safety.KillSwitch { return e.kill }

// Drawdown exposes the guard for test harnesses.
func (e *CycleEngine) Drawdown() *safety.DrawdownGuard { return e.drawdown }

// FSM exposes the state machine.
func (e *CycleEngine) FSM() *safety.FSM { return e.fsm }

// Decisions returns all decisions so far.
func (e *CycleEngine) Decisions() []core.Decision {
	return append([]core.Decision(nil), e.decisions...)
}

// ProcessSnapshot runs one full cycle. Quality violations abort the
// cycle with an error; everything downstream is deterministic in the
// snapshot sequence.
func (e *CycleEngine) ProcessSnapshot(ctx context.Context, snap core.Snapshot) (core.Decision, error) {
	if err := e.quality.Check(snap); err != nil {
		return core.Decision{}, err
	}

	state, ok := e.states[snap.Symbol]
	if !ok {
		return core.Decision{}, fmt.Errorf("symbol %s not in configured universe", snap.Symbol)
	}

	// In simulated mode, cross resting orders first so the grid reacts
	// to its own fills. Live fills arrive via the user-data stream and
	// reconciliation instead.
	if e.paper != nil {
		fills := e.paper.SimulateFills(snap)
		for _, f := range fills {
			state.OnFill(f)
		}
	}

	fs := e.features.ProcessSnapshot(snap)

	// Equity: initial capital plus mark-to-market of the simulated
	// position. Observational drawdown drives the guard.
	equity := e.markToMarket(snap)
	ddResult := e.drawdown.Update(equity)
	if ddResult.Triggered && !e.kill.IsTriggered() {
		e.kill.Trip(safety.KillReasonDrawdownLimit, snap.TS, map[string]any{
			"drawdown_pct": ddResult.DrawdownPct,
		})
	}

	var featuresPtr *core.FeatureSnapshot
	if e.features.Warm(snap.Symbol) {
		featuresPtr = &fs
	}
	toxVerdict := e.toxicity.Evaluate(gating.Context{Symbol: snap.Symbol, Features: featuresPtr})
	regimeDecision := regime.Classify(featuresPtr, e.kill.IsTriggered(), &toxVerdict, e.config.RegimeConfig)

	sysState := e.fsm.Tick(safety.FSMInputs{
		HealthOK:          true,
		Armed:             true,
		ToxicityThrottled: regimeDecision.Regime == core.RegimeToxic,
		KillSwitchActive:  e.kill.IsTriggered(),
		DrawdownTripped:   e.drawdown.IsTriggered(),
		PositionReduced:   e.emergency.HasExecuted(),
	})

	decision := core.Decision{
		TS:         snap.TS,
		Symbol:     snap.Symbol,
		Mode:       core.ModeBilateral,
		Reason:     regimeDecision.Reason,
		PolicyName: e.policy.Name(),
	}

	if sysState == safety.StateEmergency {
		e.runEmergencyExit(ctx, snap.TS)
		decision.Mode = core.ModeHalted
		decision.ContextHash = e.contextHash(fs, regimeDecision)
		e.decisions = append(e.decisions, decision)
		return decision, nil
	}
	if regimeDecision.Regime != core.RegimeRange {
		// Non-quotable regime: hold existing orders, no new quoting.
		decision.Mode = core.ModeHalted
		decision.ContextHash = e.contextHash(fs, regimeDecision)
		e.decisions = append(e.decisions, decision)
		return decision, nil
	}

	plan, err := e.policy.Evaluate(fs)
	if err != nil {
		return core.Decision{}, err
	}
	constraints := e.config.Constraints[snap.Symbol]
	actions, _ := e.exec.ComputeActions(plan, state, constraints)

	for _, action := range actions {
		if err := e.apply(ctx, snap, state, action, &decision); err != nil {
			return core.Decision{}, err
		}
	}

	decision.ContextHash = e.contextHash(fs, regimeDecision)
	e.decisions = append(e.decisions, decision)
	return decision, nil
}

func (e *CycleEngine) apply(ctx context.Context, snap core.Snapshot, state *execution.State, action execution.Action, decision *core.Decision) error {
	switch action.Kind {
	case execution.ActionCancel:
		if !e.fsm.AllowIntent(safety.IntentCancel) {
			return nil
		}
		ok, err := e.port.CancelOrder(ctx, action.OrderID)
		if err != nil {
			e.logger.Warn("cancel failed", "error", err)
			return nil
		}
		if ok {
			state.OnCancelled(action.OrderID)
			decision.CancelOrderIDs = append(decision.CancelOrderIDs, action.OrderID)
		}
		return nil

	case execution.ActionPlace, execution.ActionReplace:
		intent := core.OrderIntent{
			Symbol:   action.Symbol,
			Side:     action.Side,
			Price:    action.Price,
			Quantity: action.Quantity,
			Reason:   "GRID_LEVEL",
			LevelID:  action.LevelID,
		}
		if !e.fsm.AllowIntent(safety.IntentIncreaseRisk) {
			return nil
		}
		verdict := e.chain.Evaluate(gating.Context{
			TS:             snap.TS,
			Symbol:         snap.Symbol,
			Intent:         &intent,
			SymbolNotional: state.NotionalAtRest(),
			TotalNotional:  e.totalNotional(),
		})
		if !verdict.Allowed {
			return nil
		}

		var orderID string
		var err error
		if action.Kind == execution.ActionReplace {
			orderID, err = e.port.ReplaceOrder(ctx, core.ReplaceOrderRequest{
				OrderID:     action.OrderID,
				NewPrice:    action.Price,
				NewQuantity: action.Quantity,
				TS:          snap.TS,
			})
			if err == nil {
				state.OnCancelled(action.OrderID)
			}
		} else {
			orderID, err = e.port.PlaceOrder(ctx, core.PlaceOrderRequest{
				Symbol:   action.Symbol,
				Side:     action.Side,
				Price:    action.Price,
				Quantity: action.Quantity,
				LevelID:  action.LevelID,
				TS:       snap.TS,
			})
		}
		if err != nil {
			e.logger.Warn("order submit failed", "kind", string(action.Kind), "error", err)
			return nil
		}
		e.rate.Record()
		state.OnPlaced(execution.LevelKey{Side: action.Side, LevelID: action.LevelID}, orderID, action.Price, action.Quantity)
		decision.OrderIntents = append(decision.OrderIntents, intent)
		return nil

	default:
		return fmt.Errorf("unknown action kind %q", action.Kind)
	}
}

func (e *CycleEngine) runEmergencyExit(ctx context.Context, tsMs int64) {
	if e.emergency.HasExecuted() {
		return
	}
	result := e.emergency.Execute(ctx, tsMs, "drawdown_breach", e.config.Symbols)
	e.logger.Warn("emergency exit finished",
		"success", result.Success,
		"orders_cancelled", result.OrdersCancelled,
		"market_orders", result.MarketOrdersPlaced)
}

func (e *CycleEngine) markToMarket(snap core.Snapshot) decimal.Decimal {
	equity := e.config.InitialCapital
	if e.paper == nil {
		// Live equity comes from account snapshots, not local marking;
		// the drawdown guard is fed via UpdateEquity there.
		return equity
	}
	for _, symbol := range e.config.Symbols {
		pos := e.paper.Position(symbol)
		if pos.IsZero() {
			continue
		}
		entry, ok := e.entries[symbol]
		if !ok {
			entry = snap.MidPrice()
			e.entries[symbol] = entry
		}
		if symbol == snap.Symbol {
			equity = equity.Add(pos.Mul(snap.MidPrice().Sub(entry)))
		}
	}
	return equity
}

func (e *CycleEngine) totalNotional() decimal.Decimal {
	total := decimal.Zero
	for _, state := range e.states {
		total = total.Add(state.NotionalAtRest())
	}
	return total
}

func (e *CycleEngine) contextHash(fs core.FeatureSnapshot, rd regime.Decision) string {
	hash, err := core.Digest(map[string]any{
		"ts":         fs.TS,
		"symbol":     fs.Symbol,
		"mid_price":  fs.MidPrice.String(),
		"spread_bps": fs.SpreadBps,
		"regime":     string(rd.Regime),
		"reason":     rd.Reason,
	})
	if err != nil {
		return ""
	}
	return hash
}

// Digest returns the run digest over every decision so far.
func (e *CycleEngine) Digest() (string, error) {
	maps := make([]any, 0, len(e.decisions))
	for _, d := range e.decisions {
		maps = append(maps, d.ToMap())
	}
	return core.Digest(maps)
}
