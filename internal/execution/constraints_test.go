package execution

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnzr-team/grinder/internal/core"
	"github.com/bnzr-team/grinder/pkg/logging"
)

const cacheJSON = `{
  "fetched_at_ms": 1000,
  "symbols": [
    {
      "symbol": "BTCUSDT",
      "filters": [
        {"filterType": "PRICE_FILTER", "tickSize": "0.10"},
        {"filterType": "LOT_SIZE", "stepSize": "0.001", "minQty": "0.001"}
      ]
    }
  ]
}`

func writeCache(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "exchange_info.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestConstraintProviderLoadsFilters(t *testing.T) {
	path := writeCache(t, cacheJSON)
	p, err := NewConstraintProvider(path, 0, core.NewManualClock(2000), logging.NewNop())
	require.NoError(t, err)

	c, err := p.Get("BTCUSDT")
	require.NoError(t, err)
	assert.True(t, c.TickSize.Equal(d("0.1")))
	assert.True(t, c.StepSize.Equal(d("0.001")))
	assert.True(t, c.MinQty.Equal(d("0.001")))

	_, err = p.Get("DOGEUSDT")
	assert.Error(t, err)
}

func TestStaleCacheIsValidFallback(t *testing.T) {
	path := writeCache(t, cacheJSON)
	// TTL 1h, cache fetched at ts=1000, clock far beyond: stale but
	// still served.
	p, err := NewConstraintProvider(path, 3_600_000, core.NewManualClock(10_000_000), logging.NewNop())
	require.NoError(t, err)

	c, err := p.Get("BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", c.Symbol)
}

func TestMissingCacheRefusesStartup(t *testing.T) {
	_, err := NewConstraintProvider(filepath.Join(t.TempDir(), "missing.json"), 0, core.NewManualClock(0), logging.NewNop())
	assert.Error(t, err)
}

func TestCorruptCacheRefusesStartup(t *testing.T) {
	path := writeCache(t, `{"symbols": [{"symbol": "X", "filters": [{"filterType": "LOT_SIZE", "stepSize": "abc", "minQty": "1"}]}]}`)
	_, err := NewConstraintProvider(path, 0, core.NewManualClock(0), logging.NewNop())
	assert.Error(t, err)
}
