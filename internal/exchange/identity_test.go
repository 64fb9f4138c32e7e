package exchange

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateParseRoundTrip(t *testing.T) {
	cfg := NewIdentityConfig("grinder_", "momentum", []string{"momentum"})

	id := GenerateClientOrderID(cfg, "BTCUSDT", 3, 1704067200000, 7)
	assert.Equal(t, "grinder_momentum_BTCUSDT_3_1704067200000_7", id)

	parsed, err := ParseClientOrderID(cfg, id)
	require.NoError(t, err)
	assert.Equal(t, "grinder_", parsed.Prefix)
	assert.Equal(t, "momentum", parsed.StrategyID)
	assert.Equal(t, "BTCUSDT", parsed.Symbol)
	assert.Equal(t, "3", parsed.LevelID)
	assert.Equal(t, int64(1704067200000), parsed.TS)
	assert.Equal(t, int64(7), parsed.Seq)
	assert.False(t, parsed.IsLegacy)
}

func TestPrefixNormalization(t *testing.T) {
	cfg := NewIdentityConfig("grinder", "default", nil)
	assert.Equal(t, "grinder_", cfg.Prefix)
	assert.True(t, cfg.AllowedStrategies["default"])
}

func TestLegacyFormatRejectedByDefault(t *testing.T) {
	cfg := NewIdentityConfig("grinder_", "default", nil)
	_, err := ParseClientOrderID(cfg, "grinder_BTCUSDT_1_1704067200000_1")
	assert.Error(t, err)
}

func TestLegacyFormatAcceptedWhenAllowed(t *testing.T) {
	cfg := NewIdentityConfig("grinder_", "default", nil)
	cfg.AllowLegacy = true

	parsed, err := ParseClientOrderID(cfg, "grinder_BTCUSDT_1_1704067200000_1")
	require.NoError(t, err)
	assert.True(t, parsed.IsLegacy)
	assert.Equal(t, "BTCUSDT", parsed.Symbol)
	assert.Equal(t, "__legacy__", parsed.StrategyID)
}

func TestLegacyEnvOverride(t *testing.T) {
	t.Setenv(EnvAllowLegacyOrderID, "1")
	cfg := NewIdentityConfig("grinder_", "default", nil)
	assert.True(t, cfg.AllowLegacy)
}

func TestIsOurs(t *testing.T) {
	cfg := NewIdentityConfig("grinder_", "default", []string{"default", "momentum"})

	assert.True(t, IsOurs(cfg, GenerateClientOrderID(cfg, "BTCUSDT", 1, 1, 1)))

	other := IdentityConfig{Prefix: "grinder_", StrategyID: "rogue", AllowedStrategies: map[string]bool{"rogue": true}, RequireAllowlist: true}
	rogueID := GenerateClientOrderID(other, "BTCUSDT", 1, 1, 1)
	assert.False(t, IsOurs(cfg, rogueID), "strategy outside allowlist is not ours")

	assert.False(t, IsOurs(cfg, "webui_manual_order_123"), "foreign prefix is not ours")
	assert.False(t, IsOurs(cfg, "grinder_garbage"), "malformed id is not ours")
}

func TestSeqGeneratorMonotonic(t *testing.T) {
	var g SeqGenerator
	assert.Equal(t, int64(1), g.Next())
	assert.Equal(t, int64(2), g.Next())
	assert.Equal(t, int64(3), g.Next())
}
