package idempotency

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnzr-team/grinder/internal/core"
)

func TestPutIfAbsentWinsOnce(t *testing.T) {
	clock := core.NewManualClock(0)
	store := NewInMemoryStore(clock)

	entry := Entry{Key: "k1", Status: StatusInflight, ExpiresAtMs: 1000}
	assert.True(t, store.PutIfAbsent(entry))
	assert.False(t, store.PutIfAbsent(entry), "second insert loses the race")
}

func TestTTLEvictionOnRead(t *testing.T) {
	clock := core.NewManualClock(0)
	store := NewInMemoryStore(clock)

	require.True(t, store.PutIfAbsent(Entry{Key: "k1", Status: StatusInflight, ExpiresAtMs: 500}))
	_, ok := store.Get("k1")
	assert.True(t, ok)

	clock.Advance(500)
	_, ok = store.Get("k1")
	assert.False(t, ok, "expired entry evicted on read")

	// Expired slot can be re-acquired.
	assert.True(t, store.PutIfAbsent(Entry{Key: "k1", Status: StatusInflight, ExpiresAtMs: clock.NowMs() + 500}))
}

func TestMarkDoneAndFailed(t *testing.T) {
	clock := core.NewManualClock(0)
	store := NewInMemoryStore(clock)

	require.True(t, store.PutIfAbsent(Entry{Key: "k1", Status: StatusInflight, ExpiresAtMs: 10_000}))

	store.MarkDone("k1", "order-42", 86_400_000)
	e, ok := store.Get("k1")
	require.True(t, ok)
	assert.Equal(t, StatusDone, e.Status)
	assert.Equal(t, "order-42", e.Result)
	assert.Equal(t, int64(86_400_000), e.ExpiresAtMs)

	require.True(t, store.PutIfAbsent(Entry{Key: "k2", Status: StatusInflight, ExpiresAtMs: 10_000}))
	store.MarkFailed("k2", "timeout")
	e, ok = store.Get("k2")
	require.True(t, ok)
	assert.Equal(t, StatusFailed, e.Status)
	assert.Equal(t, "timeout", e.ErrorKind)
}

func TestComputeKeyExcludesNothingButIsOrderIndependent(t *testing.T) {
	a := ComputeKey("exec", "place_order", map[string]string{"symbol": "BTCUSDT", "price": "100"})
	b := ComputeKey("exec", "place_order", map[string]string{"price": "100", "symbol": "BTCUSDT"})
	assert.Equal(t, a, b, "param order must not matter")

	c := ComputeKey("exec", "place_order", map[string]string{"symbol": "BTCUSDT", "price": "101"})
	assert.NotEqual(t, a, c)

	d := ComputeKey("exec", "cancel_order", map[string]string{"symbol": "BTCUSDT", "price": "100"})
	assert.NotEqual(t, a, d, "op is part of the key")
}

func TestFingerprintIncludesTs(t *testing.T) {
	params := map[string]string{"symbol": "BTCUSDT"}
	f1 := ComputeFingerprint("exec", "place_order", 100, params)
	f2 := ComputeFingerprint("exec", "place_order", 200, params)
	assert.NotEqual(t, f1, f2)

	k := ComputeKey("exec", "place_order", params)
	assert.NotEqual(t, k, f1)
}
