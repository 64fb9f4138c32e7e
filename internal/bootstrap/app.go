package bootstrap

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/bnzr-team/grinder/internal/account"
	"github.com/bnzr-team/grinder/internal/core"
	"github.com/bnzr-team/grinder/internal/exchange"
	"github.com/bnzr-team/grinder/internal/ha"
	"github.com/bnzr-team/grinder/internal/health"
	"github.com/bnzr-team/grinder/internal/idempotency"
	"github.com/bnzr-team/grinder/internal/live"
	"github.com/bnzr-team/grinder/internal/execution"
	"github.com/bnzr-team/grinder/internal/metrics"
	"github.com/bnzr-team/grinder/internal/feature"
	"github.com/bnzr-team/grinder/internal/ml"
	"github.com/bnzr-team/grinder/internal/policy"
	"github.com/bnzr-team/grinder/internal/reconcile"
	"github.com/bnzr-team/grinder/internal/regime"
	"github.com/bnzr-team/grinder/internal/replay"
	"github.com/bnzr-team/grinder/pkg/concurrency"
	"github.com/bnzr-team/grinder/pkg/httpx"
	"github.com/bnzr-team/grinder/pkg/logging"
	"github.com/bnzr-team/grinder/pkg/telemetry"
)

// App owns the wired process: one container, no hidden globals.
type App struct {
	Config   *Config
	Clock    core.Clock
	Logger   core.ILogger
	Metrics  *metrics.Registry
	Health   *health.Manager
	Identity exchange.IdentityConfig
	Port     core.ExchangePort
	Expected *reconcile.ExpectedStateStore
	Observed *reconcile.ObservedStateStore
	Budget   *reconcile.Budget
	Audit    *reconcile.AuditWriter
	Engine   *reconcile.Engine
	Elector  *ha.Elector
	Server   *metrics.Server
	Feed     *live.Feed
	Loop     *live.ReconcileLoop
	Cycle    *replay.CycleEngine
	Main     *live.MainLoop
	HTTP     *httpx.Client
	Models   *ml.Registry

	listenKeys      *live.ListenKeyManager
	shutdownTracing func(context.Context) error
}

// roleAdapter bridges the elector to the main-loop/reconcile/readyz
// probes. Without an elector the instance runs single-node and is
// always ACTIVE.
type roleAdapter struct{ elector *ha.Elector }

func (r roleAdapter) IsActive() bool {
	return r.elector == nil || r.elector.IsActive()
}

func (r roleAdapter) Role() string {
	if r.elector == nil {
		return string(ha.RoleActive)
	}
	return string(r.elector.Role())
}

// NewApp wires every component from config.
func NewApp(cfg *Config) (*App, error) {
	logger, err := logging.NewZapLogger(cfg.System.LogLevel)
	if err != nil {
		return nil, err
	}
	clock := core.SystemClock{}

	shutdownTracing, err := telemetry.Setup(cfg.System.TraceDebug)
	if err != nil {
		return nil, err
	}

	reg := metrics.NewRegistry(clock)
	healthMgr := health.NewManager(clock, logger)
	identity := exchange.NewIdentityConfig(cfg.Identity.Prefix, cfg.Identity.StrategyID, cfg.Identity.AllowedStrategies)

	app := &App{
		Config:          cfg,
		Clock:           clock,
		Logger:          logger,
		Metrics:         reg,
		Health:          healthMgr,
		Identity:        identity,
		Observed:        reconcile.NewObservedStateStore(),
		shutdownTracing: shutdownTracing,
	}

	app.HTTP = httpx.NewClient(httpx.DefaultConfig(), reg, logger)
	app.Models = ml.NewRegistry(logger)

	// Exchange port, wrapped idempotent.
	var inner core.ExchangePort
	switch cfg.Exchange.Mode {
	case "binance":
		port, err := exchange.NewBinancePort(exchange.BinanceConfig{
			APIKey:     os.Getenv(cfg.Exchange.APIKeyEnv),
			APISecret:  os.Getenv(cfg.Exchange.APISecretEnv),
			UseTestnet: cfg.Exchange.UseTestnet,
			Identity:   identity,
		}, clock, logger)
		if err != nil {
			return nil, err
		}
		inner = port
		app.listenKeys = live.NewListenKeyManager(port, logger)
	default:
		inner = exchange.NewPaperPort(logger)
	}
	store := idempotency.NewInMemoryStore(clock)
	app.Port = exchange.NewIdempotentPort(inner, store, clock, reg, logger)

	// HA elector (optional: single-instance without redis).
	if cfg.HA.RedisURL != "" {
		lockStore, err := ha.NewRedisLockStore(cfg.HA.RedisURL)
		if err != nil {
			return nil, err
		}
		elector, err := ha.NewElector(ha.Config{
			Key:             cfg.HA.LockKey,
			InstanceID:      cfg.System.InstanceID,
			LockTTLMs:       cfg.HA.LockTTLMs,
			RenewIntervalMs: cfg.HA.RenewIntervalMs,
		}, lockStore, clock, reg, logger)
		if err != nil {
			return nil, err
		}
		app.Elector = elector
	} else {
		reg.HARole(string(ha.RoleActive))
	}
	role := roleAdapter{elector: app.Elector}

	// Reconciliation stack.
	app.Expected = reconcile.NewExpectedStateStore(1000, 24*3600*1000, clock)
	if cfg.Audit.Enabled {
		writer, err := reconcile.NewAuditWriter(reconcile.AuditConfig{
			Path:     cfg.Audit.Path,
			FailOpen: !cfg.Audit.FailClosed,
		}, clock, logger)
		if err != nil {
			return nil, err
		}
		app.Audit = writer
	}
	app.Budget = reconcile.NewBudget(reconcile.BudgetConfig{
		MaxCallsPerRun:    cfg.Reconcile.Budget.MaxCallsPerRun,
		MaxNotionalPerRun: decimal.RequireFromString(cfg.Reconcile.Budget.MaxNotionalPerRun),
		MaxCallsPerDay:    cfg.Reconcile.Budget.MaxCallsPerDay,
		MaxNotionalPerDay: decimal.RequireFromString(cfg.Reconcile.Budget.MaxNotionalPerDay),
		StatePath:         cfg.Reconcile.Budget.StatePath,
	}, clock, logger)
	app.Engine = reconcile.NewEngine(
		reconcile.EngineConfig{
			Mode:               reconcile.Mode(cfg.Reconcile.Mode),
			OrderGracePeriodMs: cfg.Reconcile.OrderGracePeriodMs,
		},
		app.Expected, app.Observed, identity, app.Budget, app.Audit,
		app.Port, role, clock, reg, logger,
	)

	syncer := account.NewSyncer(app.Port, reg, logger)
	snapshotClient := live.NewSnapshotClient(syncer, app.Observed, identity, nil, logger)
	if cfg.Reconcile.Enabled {
		app.Loop = live.NewReconcileLoop(live.ReconcileLoopConfig{
			IntervalMs: cfg.Reconcile.IntervalMs,
		}, app.Engine, snapshotClient, role, logger)
	}

	// Market feed and the decision pipeline it drives.
	app.Feed = live.NewFeed(live.FeedConfig{Symbols: cfg.Trading.Symbols}, clock, logger)

	constraints, err := loadConstraints(cfg, clock, logger)
	if err != nil {
		return nil, err
	}
	app.Cycle, err = replay.NewLiveCycleEngine(replay.Config{
		Symbols:        cfg.Trading.Symbols,
		FeatureConfig:  feature.DefaultConfig(),
		RegimeConfig:   regime.DefaultConfig(),
		GridConfig: policy.StaticGridConfig{
			SpacingBps:   cfg.Trading.SpacingBps,
			Levels:       cfg.Trading.Levels,
			SizePerLevel: cfg.SizePerLevel(),
		},
		EngineConfig:   execution.EngineConfig{RepriceThresholdBps: 1},
		Constraints:    constraints,
		InitialCapital: cfg.InitialCapital(),
		MaxDrawdownPct: cfg.Trading.MaxDrawdownPct,
		Identity:       identity,
	}, app.Port, clock, reg, logger)
	if err != nil {
		return nil, err
	}
	app.Main = live.NewMainLoop(app.Feed.Snapshots(), app.Cycle, role, logger)

	// Observability server.
	app.Server = metrics.NewServer(cfg.System.MetricsPort, reg, healthMgr, role, clock, logger)

	healthMgr.Register("config", func() error { return nil })
	healthMgr.Register("port", func() error {
		if app.Port == nil {
			return fmt.Errorf("port not wired")
		}
		return nil
	})

	return app, nil
}

// Run starts the background tasks and blocks until the context ends.
func (a *App) Run(ctx context.Context) error {
	a.Server.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = a.Server.Stop(stopCtx)
		if a.Audit != nil {
			_ = a.Audit.Close()
		}
		if a.shutdownTracing != nil {
			_ = a.shutdownTracing(stopCtx)
		}
	}()

	// Refresh the exchange-info cache up front; a stale cache is a
	// valid fallback so failures only warn.
	if a.Config.Exchange.ExchangeInfoPath != "" && a.Config.Exchange.Mode == "binance" {
		if err := execution.DownloadExchangeInfo(ctx, a.HTTP, "", a.Config.Exchange.ExchangeInfoPath, a.Clock); err != nil {
			a.Logger.Warn("exchange-info refresh failed, using cached copy", "error", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Main.Run(ctx)
		return nil
	})
	if a.listenKeys != nil {
		g.Go(func() error {
			if err := a.listenKeys.Run(ctx); err != nil && ctx.Err() == nil {
				a.Logger.Warn("listen key manager stopped", "error", err)
			}
			return nil
		})
	}
	if a.Elector != nil {
		g.Go(func() error {
			a.Elector.Run(ctx)
			return nil
		})
	}
	if a.Loop != nil {
		g.Go(func() error {
			a.Loop.Run(ctx)
			return nil
		})
	}
	g.Go(func() error {
		a.Feed.Run(ctx)
		return nil
	})

	a.Logger.Info("grinder started",
		"mode", a.Config.Exchange.Mode,
		"symbols", a.Config.Trading.Symbols,
		"metrics_port", a.Config.System.MetricsPort)

	return g.Wait()
}

// loadConstraints builds the per-symbol quantization rules from the
// exchange-info cache when configured, falling back to conservative
// defaults per symbol otherwise.
func loadConstraints(cfg *Config, clock core.Clock, logger core.ILogger) (map[string]core.SymbolConstraints, error) {
	fallback := func(symbol string) core.SymbolConstraints {
		return core.SymbolConstraints{
			Symbol:   symbol,
			TickSize: decimal.RequireFromString("0.01"),
			StepSize: decimal.RequireFromString("0.001"),
			MinQty:   decimal.RequireFromString("0.001"),
		}
	}

	out := make(map[string]core.SymbolConstraints, len(cfg.Trading.Symbols))
	var provider *execution.ConstraintProvider
	if cfg.Exchange.ExchangeInfoPath != "" {
		if _, err := os.Stat(cfg.Exchange.ExchangeInfoPath); err == nil {
			provider, err = execution.NewConstraintProvider(
				cfg.Exchange.ExchangeInfoPath, cfg.Exchange.ExchangeInfoTTLMs, clock, logger)
			if err != nil {
				return nil, err
			}
		}
	}
	for _, symbol := range cfg.Trading.Symbols {
		if provider != nil {
			if c, err := provider.Get(symbol); err == nil {
				out[symbol] = c
				continue
			}
			logger.Warn("symbol missing from exchange-info cache, using default constraints", "symbol", symbol)
		}
		out[symbol] = fallback(symbol)
	}
	return out, nil
}

// EmergencyPool builds the worker pool used by the emergency exit.
func (a *App) EmergencyPool() *concurrency.WorkerPool {
	return concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:       "emergency_exit",
		MaxWorkers: 4,
	}, a.Logger)
}
