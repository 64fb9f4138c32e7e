// Package bootstrap loads configuration and wires the process.
package bootstrap

import (
	"fmt"
	"os"
	"strconv"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/bnzr-team/grinder/internal/ha"
	"github.com/bnzr-team/grinder/internal/live"
	"github.com/bnzr-team/grinder/internal/reconcile"
)

// Config is the full process configuration. The YAML file is the base;
// recognized environment variables override it.
type Config struct {
	System struct {
		LogLevel    string `yaml:"log_level"`
		MetricsPort int    `yaml:"metrics_port"`
		InstanceID  string `yaml:"instance_id"`
		TraceDebug  bool   `yaml:"trace_debug"`
	} `yaml:"system"`

	Trading struct {
		Symbols        []string `yaml:"symbols"`
		SpacingBps     int64    `yaml:"spacing_bps"`
		Levels         int      `yaml:"levels"`
		SizePerLevel   string   `yaml:"size_per_level"`
		InitialCapital string   `yaml:"initial_capital"`
		MaxDrawdownPct float64  `yaml:"max_drawdown_pct"`
	} `yaml:"trading"`

	Exchange struct {
		Mode              string `yaml:"mode"` // paper | binance
		UseTestnet        bool   `yaml:"use_testnet"`
		APIKeyEnv         string `yaml:"api_key_env"`
		APISecretEnv      string `yaml:"api_secret_env"`
		ExchangeInfoPath  string `yaml:"exchange_info_path"`
		ExchangeInfoTTLMs int64  `yaml:"exchange_info_ttl_ms"`
	} `yaml:"exchange"`

	Identity struct {
		Prefix            string   `yaml:"prefix"`
		StrategyID        string   `yaml:"strategy_id"`
		AllowedStrategies []string `yaml:"allowed_strategies"`
	} `yaml:"identity"`

	HA struct {
		RedisURL        string `yaml:"redis_url"`
		LockKey         string `yaml:"lock_key"`
		LockTTLMs       int64  `yaml:"lock_ttl_ms"`
		RenewIntervalMs int64  `yaml:"renew_interval_ms"`
	} `yaml:"ha"`

	Reconcile struct {
		Enabled            bool   `yaml:"enabled"`
		IntervalMs         int64  `yaml:"interval_ms"`
		Mode               string `yaml:"mode"` // dry_run | live
		OrderGracePeriodMs int64  `yaml:"order_grace_period_ms"`
		ExpectedStorePath  string `yaml:"expected_store_path"`

		Budget struct {
			MaxCallsPerRun    int    `yaml:"max_calls_per_run"`
			MaxNotionalPerRun string `yaml:"max_notional_per_run"`
			MaxCallsPerDay    int    `yaml:"max_calls_per_day"`
			MaxNotionalPerDay string `yaml:"max_notional_per_day"`
			StatePath         string `yaml:"state_path"`
		} `yaml:"budget"`
	} `yaml:"reconcile"`

	Audit struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
		// FailClosed raises on audit write errors instead of the
		// default warn-and-continue.
		FailClosed bool `yaml:"fail_closed"`
	} `yaml:"audit"`

	EmergencyExit struct {
		Enabled          bool  `yaml:"enabled"`
		VerifyAttempts   int   `yaml:"verify_attempts"`
		VerifyIntervalMs int64 `yaml:"verify_interval_ms"`
	} `yaml:"emergency_exit"`
}

// Load reads the YAML file (optional) and applies env overrides,
// defaults, and invariant checks.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.System.LogLevel == "" {
		c.System.LogLevel = "INFO"
	}
	if c.System.MetricsPort == 0 {
		c.System.MetricsPort = 9090
	}
	if c.System.InstanceID == "" {
		host, _ := os.Hostname()
		c.System.InstanceID = fmt.Sprintf("grinder-%s-%d", host, os.Getpid())
	}
	if c.Trading.SpacingBps == 0 {
		c.Trading.SpacingBps = 10
	}
	if c.Trading.Levels == 0 {
		c.Trading.Levels = 5
	}
	if c.Trading.SizePerLevel == "" {
		c.Trading.SizePerLevel = "0.001"
	}
	if c.Trading.InitialCapital == "" {
		c.Trading.InitialCapital = "10000"
	}
	if c.Trading.MaxDrawdownPct == 0 {
		c.Trading.MaxDrawdownPct = 5.0
	}
	if c.Exchange.Mode == "" {
		c.Exchange.Mode = "paper"
	}
	if c.Exchange.ExchangeInfoTTLMs == 0 {
		c.Exchange.ExchangeInfoTTLMs = 24 * 3600 * 1000
	}
	if c.HA.LockKey == "" {
		c.HA.LockKey = "grinder:leader"
	}
	if c.HA.LockTTLMs == 0 {
		c.HA.LockTTLMs = 10_000
	}
	if c.HA.RenewIntervalMs == 0 {
		c.HA.RenewIntervalMs = 3000
	}
	if c.Reconcile.IntervalMs == 0 {
		c.Reconcile.IntervalMs = 30_000
	}
	if c.Reconcile.Mode == "" {
		c.Reconcile.Mode = string(reconcile.ModeDryRun)
	}
	if c.Reconcile.OrderGracePeriodMs == 0 {
		c.Reconcile.OrderGracePeriodMs = 10_000
	}
	if c.Reconcile.Budget.MaxNotionalPerRun == "" {
		c.Reconcile.Budget.MaxNotionalPerRun = "1000"
	}
	if c.Reconcile.Budget.MaxNotionalPerDay == "" {
		c.Reconcile.Budget.MaxNotionalPerDay = "5000"
	}
	if c.EmergencyExit.VerifyAttempts == 0 {
		c.EmergencyExit.VerifyAttempts = 10
	}
	if c.EmergencyExit.VerifyIntervalMs == 0 {
		c.EmergencyExit.VerifyIntervalMs = 200
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv(ha.EnvRedisURL); v != "" {
		c.HA.RedisURL = v
	}
	if v := envInt64(ha.EnvLockTTLMs); v > 0 {
		c.HA.LockTTLMs = v
	}
	if v := envInt64(ha.EnvRenewIntervalMs); v > 0 {
		c.HA.RenewIntervalMs = v
	}
	if v := os.Getenv(live.EnvReconcileEnabled); v != "" {
		c.Reconcile.Enabled = v == "1" || v == "true"
	}
	if v := envInt64(live.EnvReconcileIntervalMs); v > 0 {
		c.Reconcile.IntervalMs = v
	}
	if v := os.Getenv("GRINDER_EMERGENCY_EXIT_ENABLED"); v != "" {
		c.EmergencyExit.Enabled = v == "1" || v == "true"
	}
	if v := os.Getenv("GRINDER_AUDIT_ENABLED"); v != "" {
		c.Audit.Enabled = v == "1" || v == "true"
	}
	if v := os.Getenv("GRINDER_AUDIT_PATH"); v != "" {
		c.Audit.Path = v
	}
}

func envInt64(key string) int64 {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// validate refuses startup on invariant violations.
func (c *Config) validate() error {
	if c.HA.RenewIntervalMs >= c.HA.LockTTLMs {
		return fmt.Errorf("ha.renew_interval_ms %d must be < ha.lock_ttl_ms %d", c.HA.RenewIntervalMs, c.HA.LockTTLMs)
	}
	if c.HA.LockTTLMs < 1000 {
		return fmt.Errorf("ha.lock_ttl_ms must be >= 1000, got %d", c.HA.LockTTLMs)
	}
	if _, err := decimal.NewFromString(c.Trading.SizePerLevel); err != nil {
		return fmt.Errorf("trading.size_per_level: %w", err)
	}
	if _, err := decimal.NewFromString(c.Trading.InitialCapital); err != nil {
		return fmt.Errorf("trading.initial_capital: %w", err)
	}
	if c.Audit.Enabled && c.Audit.Path == "" {
		return fmt.Errorf("audit.path required when audit is enabled")
	}
	switch c.Exchange.Mode {
	case "paper", "binance":
	default:
		return fmt.Errorf("exchange.mode must be paper or binance, got %q", c.Exchange.Mode)
	}
	return nil
}

// SizePerLevel parses the configured per-level size.
func (c *Config) SizePerLevel() decimal.Decimal {
	return decimal.RequireFromString(c.Trading.SizePerLevel)
}

// InitialCapital parses the configured starting capital.
func (c *Config) InitialCapital() decimal.Decimal {
	return decimal.RequireFromString(c.Trading.InitialCapital)
}
