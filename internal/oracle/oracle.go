// Package oracle defines the price-retrieval and dead-token contracts the
// tracking engine consumes, plus resilience decorators (cache, breaker, rate
// limit) that wrap any implementation. Actual multi-source price retrieval
// lives outside this module.
package oracle

import (
	"context"
	"time"
)

// PriceData is one observed price point. A nil *PriceData with a nil error
// means "no data available"; a non-nil error means the lookup itself failed
// and may be retried.
type PriceData struct {
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// Candle is one OHLC bar.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// ForwardOHLC is the forward-looking window from a signal's entry, with the
// peak pre-extracted.
type ForwardOHLC struct {
	ATHPrice         float64   `json:"ath_price"`
	ATHTimestamp     time.Time `json:"ath_timestamp"`
	DaysToATH        float64   `json:"days_to_ath"`
	Candles          []Candle  `json:"candles"`
	DataCompleteness float64   `json:"data_completeness"` // 0..1 fraction of expected bars present
}

// PriceOracle is the black-box price retrieval contract.
type PriceOracle interface {
	// GetCurrentPrice returns the latest price for a token, or (nil, nil)
	// when no source knows it.
	GetCurrentPrice(ctx context.Context, address, chain string) (*PriceData, error)

	// GetHistoricalPriceNear returns the price closest to ts, or (nil, nil)
	// when no source covers that time.
	GetHistoricalPriceNear(ctx context.Context, symbol string, ts time.Time, address, chain string) (*PriceData, error)

	// GetForwardOHLCWithATH returns the OHLC window starting at start,
	// windowDays long, with the ATH extracted, or (nil, nil) when
	// unavailable.
	GetForwardOHLCWithATH(ctx context.Context, symbol string, start time.Time, windowDays int, address, chain string) (*ForwardOHLC, error)
}

// DeadCheck is the result of a dead-token probe.
type DeadCheck struct {
	IsDead bool   `json:"is_dead"`
	Reason string `json:"reason,omitempty"`
}

// DeadTokenDetector flags rugged or abandoned tokens so tracking can stop
// early instead of polling a corpse for 30 days.
type DeadTokenDetector interface {
	IsBlacklisted(address string) bool
	CheckAndBlacklistIfDead(ctx context.Context, address, chain string) (DeadCheck, error)
}
