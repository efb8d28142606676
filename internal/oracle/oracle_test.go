package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

func TestMemoryOracle_CurrentAndHistorical(t *testing.T) {
	m := NewMemoryOracle()
	m.Seed("0xabc", 1.0, t0)
	m.Seed("0xabc", 3.0, t0.Add(24*time.Hour))
	m.Seed("0xabc", 2.0, t0.Add(48*time.Hour))

	pd, err := m.GetCurrentPrice(context.Background(), "0xabc", "ethereum")
	require.NoError(t, err)
	require.NotNil(t, pd)
	assert.Equal(t, 2.0, pd.Price)

	pd, err = m.GetHistoricalPriceNear(context.Background(), "ABC", t0.Add(25*time.Hour), "0xabc", "ethereum")
	require.NoError(t, err)
	require.NotNil(t, pd)
	assert.Equal(t, 3.0, pd.Price)

	pd, err = m.GetCurrentPrice(context.Background(), "0xunknown", "ethereum")
	require.NoError(t, err)
	assert.Nil(t, pd, "unknown address is no-data, not an error")
}

func TestMemoryOracle_ForwardOHLC(t *testing.T) {
	m := NewMemoryOracle()
	m.Seed("0xabc", 1.0, t0)
	m.Seed("0xabc", 4.5, t0.Add(36*time.Hour))
	m.Seed("0xabc", 2.0, t0.Add(10*24*time.Hour))
	m.Seed("0xabc", 9.0, t0.Add(60*24*time.Hour)) // outside window

	ohlc, err := m.GetForwardOHLCWithATH(context.Background(), "ABC", t0, 30, "0xabc", "ethereum")
	require.NoError(t, err)
	require.NotNil(t, ohlc)
	assert.Equal(t, 4.5, ohlc.ATHPrice)
	assert.InDelta(t, 1.5, ohlc.DaysToATH, 1e-9)
	assert.Len(t, ohlc.Candles, 3)
}

type failingOracle struct {
	calls int
}

func (f *failingOracle) GetCurrentPrice(context.Context, string, string) (*PriceData, error) {
	f.calls++
	return nil, errors.New("upstream down")
}

func (f *failingOracle) GetHistoricalPriceNear(context.Context, string, time.Time, string, string) (*PriceData, error) {
	f.calls++
	return nil, errors.New("upstream down")
}

func (f *failingOracle) GetForwardOHLCWithATH(context.Context, string, time.Time, int, string, string) (*ForwardOHLC, error) {
	f.calls++
	return nil, errors.New("upstream down")
}

func TestResilientOracle_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	inner := &failingOracle{}
	r := NewResilientOracle(inner, &ResilientConfig{
		RequestsPerSecond: 1000,
		Burst:             1000,
		BreakerMaxFails:   3,
		BreakerOpenFor:    time.Minute,
	})

	for i := 0; i < 5; i++ {
		_, err := r.GetCurrentPrice(context.Background(), "0xabc", "ethereum")
		assert.Error(t, err)
	}

	// Breaker tripped after 3 consecutive failures; later calls are
	// short-circuited without reaching the inner oracle.
	assert.Equal(t, 3, inner.calls)
}

func TestResilientOracle_PassesThroughSuccess(t *testing.T) {
	m := NewMemoryOracle()
	m.Seed("0xabc", 1.5, t0)
	r := NewResilientOracle(m, nil)

	pd, err := r.GetCurrentPrice(context.Background(), "0xabc", "ethereum")
	require.NoError(t, err)
	require.NotNil(t, pd)
	assert.Equal(t, 1.5, pd.Price)
}

// fakeRedis implements the redisClient slice with an in-memory map.
type fakeRedis struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string]string)}
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.data[key]; ok {
		return redis.NewStringResult(v, nil)
	}
	return redis.NewStringResult("", redis.Nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	}
	return redis.NewStatusResult("OK", nil)
}

func TestCachedOracle_HitSkipsInner(t *testing.T) {
	inner := NewMemoryOracle()
	inner.Seed("0xabc", 2.0, t0)
	r := newFakeRedis()

	// Pre-seed the cache entry.
	data, _ := json.Marshal(&PriceData{Price: 7.0, Timestamp: t0, Source: "cache"})
	r.data["callrank:price:ethereum:0xabc"] = string(data)

	var hits, misses int
	c := NewCachedOracle(inner, r, nil)
	c.OnHit = func() { hits++ }
	c.OnMiss = func() { misses++ }

	pd, err := c.GetCurrentPrice(context.Background(), "0xabc", "ethereum")
	require.NoError(t, err)
	require.NotNil(t, pd)
	assert.Equal(t, 7.0, pd.Price, "cache hit must not consult the inner oracle")
	assert.Equal(t, 1, hits)
	assert.Equal(t, 0, misses)
}

func TestCachedOracle_MissPopulatesCache(t *testing.T) {
	inner := NewMemoryOracle()
	inner.Seed("0xabc", 2.0, t0)
	r := newFakeRedis()
	c := NewCachedOracle(inner, r, nil)

	pd, err := c.GetCurrentPrice(context.Background(), "0xabc", "ethereum")
	require.NoError(t, err)
	require.NotNil(t, pd)
	assert.Equal(t, 2.0, pd.Price)
	assert.Contains(t, r.data, "callrank:price:ethereum:0xabc")

	// Second call served from cache even if the inner price moves.
	inner.Seed("0xabc", 5.0, t0.Add(time.Hour))
	pd, err = c.GetCurrentPrice(context.Background(), "0xabc", "ethereum")
	require.NoError(t, err)
	assert.Equal(t, 2.0, pd.Price)
}

func TestStaticBlacklist(t *testing.T) {
	m := NewMemoryOracle()
	m.Seed("0xalive", 1.0, t0)
	b := NewStaticBlacklist(m)

	assert.False(t, b.IsBlacklisted("0xalive"))

	check, err := b.CheckAndBlacklistIfDead(context.Background(), "0xalive", "ethereum")
	require.NoError(t, err)
	assert.False(t, check.IsDead)

	check, err = b.CheckAndBlacklistIfDead(context.Background(), "0xrug", "ethereum")
	require.NoError(t, err)
	assert.True(t, check.IsDead)
	assert.Equal(t, "no_price_data", check.Reason)
	assert.True(t, b.IsBlacklisted("0xrug"))
}
