package bootstrap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "INFO", cfg.System.LogLevel)
	assert.Equal(t, 9090, cfg.System.MetricsPort)
	assert.Equal(t, int64(10), cfg.Trading.SpacingBps)
	assert.Equal(t, 5, cfg.Trading.Levels)
	assert.Equal(t, "paper", cfg.Exchange.Mode)
	assert.Equal(t, int64(10_000), cfg.HA.LockTTLMs)
	assert.Equal(t, int64(3000), cfg.HA.RenewIntervalMs)
	assert.Equal(t, int64(30_000), cfg.Reconcile.IntervalMs)
	assert.Equal(t, "dry_run", cfg.Reconcile.Mode)
}

func TestYamlOverrides(t *testing.T) {
	path := writeConfig(t, `
system:
  log_level: DEBUG
  metrics_port: 9999
trading:
  symbols: [BTCUSDT, ETHUSDT]
  spacing_bps: 25
  levels: 3
  size_per_level: "0.01"
exchange:
  mode: paper
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "DEBUG", cfg.System.LogLevel)
	assert.Equal(t, 9999, cfg.System.MetricsPort)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, cfg.Trading.Symbols)
	assert.True(t, cfg.SizePerLevel().Equal(decimal.RequireFromString("0.01")))
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GRINDER_REDIS_URL", "redis://localhost:6379/1")
	t.Setenv("GRINDER_HA_LOCK_TTL_MS", "20000")
	t.Setenv("GRINDER_HA_RENEW_INTERVAL_MS", "5000")
	t.Setenv("RECONCILE_ENABLED", "1")
	t.Setenv("RECONCILE_INTERVAL_MS", "15000")
	t.Setenv("GRINDER_AUDIT_ENABLED", "1")
	t.Setenv("GRINDER_AUDIT_PATH", "/tmp/audit.jsonl")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "redis://localhost:6379/1", cfg.HA.RedisURL)
	assert.Equal(t, int64(20_000), cfg.HA.LockTTLMs)
	assert.Equal(t, int64(5000), cfg.HA.RenewIntervalMs)
	assert.True(t, cfg.Reconcile.Enabled)
	assert.Equal(t, int64(15_000), cfg.Reconcile.IntervalMs)
	assert.True(t, cfg.Audit.Enabled)
	assert.Equal(t, "/tmp/audit.jsonl", cfg.Audit.Path)
}

func TestRenewIntervalInvariantRefusesStartup(t *testing.T) {
	t.Setenv("GRINDER_HA_LOCK_TTL_MS", "2000")
	t.Setenv("GRINDER_HA_RENEW_INTERVAL_MS", "2000")
	_, err := Load("")
	assert.Error(t, err)
}

func TestMinTTLRefusesStartup(t *testing.T) {
	path := writeConfig(t, `
ha:
  lock_ttl_ms: 500
  renew_interval_ms: 100
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestBadModeRefused(t *testing.T) {
	path := writeConfig(t, `
exchange:
  mode: kraken
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestAuditRequiresPath(t *testing.T) {
	t.Setenv("GRINDER_AUDIT_ENABLED", "1")
	t.Setenv("GRINDER_AUDIT_PATH", "")
	_, err := Load("")
	assert.Error(t, err)
}
