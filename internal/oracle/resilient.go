package oracle

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/callrank/callrank/internal/metrics"
)

// ResilientConfig tunes the breaker and rate limiter around an oracle.
type ResilientConfig struct {
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	BreakerMaxFails   uint32        `yaml:"breaker_max_fails"`
	BreakerOpenFor    time.Duration `yaml:"breaker_open_for"`
}

// DefaultResilientConfig returns conservative production limits.
func DefaultResilientConfig() *ResilientConfig {
	return &ResilientConfig{
		RequestsPerSecond: 5,
		Burst:             10,
		BreakerMaxFails:   5,
		BreakerOpenFor:    30 * time.Second,
	}
}

// ResilientOracle wraps an oracle with a token-bucket rate limit and a
// circuit breaker. Breaker-open and limiter errors surface as transient
// errors, so callers retain their last known value and retry later.
type ResilientOracle struct {
	inner   PriceOracle
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// NewResilientOracle wraps inner; nil config selects defaults.
func NewResilientOracle(inner PriceOracle, config *ResilientConfig) *ResilientOracle {
	if config == nil {
		config = DefaultResilientConfig()
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "price-oracle",
		Timeout: config.BreakerOpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.BreakerMaxFails
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				metrics.BreakerOpens.Inc()
			}
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("oracle breaker state change")
		},
	})
	return &ResilientOracle{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.Burst),
		breaker: breaker,
	}
}

func (r *ResilientOracle) GetCurrentPrice(ctx context.Context, address, chain string) (*PriceData, error) {
	return r.price(ctx, func() (*PriceData, error) {
		return r.inner.GetCurrentPrice(ctx, address, chain)
	})
}

func (r *ResilientOracle) GetHistoricalPriceNear(ctx context.Context, symbol string, ts time.Time, address, chain string) (*PriceData, error) {
	return r.price(ctx, func() (*PriceData, error) {
		return r.inner.GetHistoricalPriceNear(ctx, symbol, ts, address, chain)
	})
}

func (r *ResilientOracle) GetForwardOHLCWithATH(ctx context.Context, symbol string, start time.Time, windowDays int, address, chain string) (*ForwardOHLC, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	res, err := r.breaker.Execute(func() (interface{}, error) {
		return r.inner.GetForwardOHLCWithATH(ctx, symbol, start, windowDays, address, chain)
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	return res.(*ForwardOHLC), nil
}

func (r *ResilientOracle) price(ctx context.Context, fetch func() (*PriceData, error)) (*PriceData, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	res, err := r.breaker.Execute(func() (interface{}, error) {
		return fetch()
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	return res.(*PriceData), nil
}
