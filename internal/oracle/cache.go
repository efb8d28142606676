package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// redisClient is the slice of go-redis used by the cache. redis.Client and
// redis.ClusterClient both satisfy it.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// CacheConfig tunes the price cache TTLs.
type CacheConfig struct {
	CurrentPriceTTL    time.Duration `yaml:"current_price_ttl"`
	HistoricalPriceTTL time.Duration `yaml:"historical_price_ttl"`
}

// DefaultCacheConfig returns production TTLs: live prices go stale fast,
// historical prices never change.
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		CurrentPriceTTL:    30 * time.Second,
		HistoricalPriceTTL: 24 * time.Hour,
	}
}

// CachedOracle caches price lookups in Redis in front of an inner oracle.
// Cache failures degrade to the inner lookup; they are never fatal.
type CachedOracle struct {
	inner  PriceOracle
	client redisClient
	config *CacheConfig

	// Hit/miss observers, optional.
	OnHit  func()
	OnMiss func()
}

// NewCachedOracle wraps inner with a Redis price cache; nil config selects
// defaults.
func NewCachedOracle(inner PriceOracle, client redisClient, config *CacheConfig) *CachedOracle {
	if config == nil {
		config = DefaultCacheConfig()
	}
	return &CachedOracle{inner: inner, client: client, config: config}
}

func (c *CachedOracle) GetCurrentPrice(ctx context.Context, address, chain string) (*PriceData, error) {
	key := fmt.Sprintf("callrank:price:%s:%s", chain, address)
	if pd := c.lookup(ctx, key); pd != nil {
		return pd, nil
	}

	pd, err := c.inner.GetCurrentPrice(ctx, address, chain)
	if err != nil || pd == nil {
		return pd, err
	}
	c.put(ctx, key, pd, c.config.CurrentPriceTTL)
	return pd, nil
}

func (c *CachedOracle) GetHistoricalPriceNear(ctx context.Context, symbol string, ts time.Time, address, chain string) (*PriceData, error) {
	// Bucket by hour so nearby lookups share an entry.
	key := fmt.Sprintf("callrank:hist:%s:%s:%d", chain, address, ts.Truncate(time.Hour).Unix())
	if pd := c.lookup(ctx, key); pd != nil {
		return pd, nil
	}

	pd, err := c.inner.GetHistoricalPriceNear(ctx, symbol, ts, address, chain)
	if err != nil || pd == nil {
		return pd, err
	}
	c.put(ctx, key, pd, c.config.HistoricalPriceTTL)
	return pd, nil
}

// GetForwardOHLCWithATH is passed through uncached: backfill calls it once
// per signal.
func (c *CachedOracle) GetForwardOHLCWithATH(ctx context.Context, symbol string, start time.Time, windowDays int, address, chain string) (*ForwardOHLC, error) {
	return c.inner.GetForwardOHLCWithATH(ctx, symbol, start, windowDays, address, chain)
}

func (c *CachedOracle) lookup(ctx context.Context, key string) *PriceData {
	raw, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		if c.OnMiss != nil {
			c.OnMiss()
		}
		return nil
	}
	if err != nil {
		log.Debug().Err(err).Str("key", key).Msg("price cache read failed")
		return nil
	}
	var pd PriceData
	if err := json.Unmarshal([]byte(raw), &pd); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("price cache entry corrupt")
		return nil
	}
	if c.OnHit != nil {
		c.OnHit()
	}
	return &pd
}

func (c *CachedOracle) put(ctx context.Context, key string, pd *PriceData, ttl time.Duration) {
	data, err := json.Marshal(pd)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("price cache write failed")
	}
}
