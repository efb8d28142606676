package oracle

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryOracle is a deterministic in-memory oracle fed with seeded price
// series. Used in tests and offline runs.
type MemoryOracle struct {
	mu     sync.RWMutex
	series map[string][]PriceData // keyed by address
}

// NewMemoryOracle creates an empty in-memory oracle.
func NewMemoryOracle() *MemoryOracle {
	return &MemoryOracle{series: make(map[string][]PriceData)}
}

// Seed appends a price point for an address, keeping the series sorted.
func (m *MemoryOracle) Seed(address string, price float64, ts time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := append(m.series[address], PriceData{Price: price, Timestamp: ts, Source: "memory"})
	sort.Slice(s, func(i, j int) bool { return s[i].Timestamp.Before(s[j].Timestamp) })
	m.series[address] = s
}

func (m *MemoryOracle) GetCurrentPrice(_ context.Context, address, _ string) (*PriceData, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.series[address]
	if len(s) == 0 {
		return nil, nil
	}
	pd := s[len(s)-1]
	return &pd, nil
}

func (m *MemoryOracle) GetHistoricalPriceNear(_ context.Context, _ string, ts time.Time, address, _ string) (*PriceData, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.series[address]
	if len(s) == 0 {
		return nil, nil
	}
	best := s[0]
	bestDelta := absDuration(ts.Sub(best.Timestamp))
	for _, pd := range s[1:] {
		if d := absDuration(ts.Sub(pd.Timestamp)); d < bestDelta {
			best, bestDelta = pd, d
		}
	}
	return &best, nil
}

func (m *MemoryOracle) GetForwardOHLCWithATH(_ context.Context, _ string, start time.Time, windowDays int, address, _ string) (*ForwardOHLC, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	end := start.Add(time.Duration(windowDays) * 24 * time.Hour)

	var window []PriceData
	for _, pd := range m.series[address] {
		if !pd.Timestamp.Before(start) && !pd.Timestamp.After(end) {
			window = append(window, pd)
		}
	}
	if len(window) == 0 {
		return nil, nil
	}

	out := &ForwardOHLC{DataCompleteness: 1.0}
	for _, pd := range window {
		out.Candles = append(out.Candles, Candle{
			Timestamp: pd.Timestamp,
			Open:      pd.Price, High: pd.Price, Low: pd.Price, Close: pd.Price,
		})
		if pd.Price > out.ATHPrice {
			out.ATHPrice = pd.Price
			out.ATHTimestamp = pd.Timestamp
			out.DaysToATH = pd.Timestamp.Sub(start).Hours() / 24.0
		}
	}
	return out, nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// StaticBlacklist is a DeadTokenDetector over a fixed in-memory set, with an
// optional probe that marks tokens dead when no source prices them anymore.
type StaticBlacklist struct {
	mu        sync.RWMutex
	addresses map[string]string // address -> reason
	probe     PriceOracle
}

// NewStaticBlacklist creates a detector; probe may be nil to disable live
// dead checks.
func NewStaticBlacklist(probe PriceOracle) *StaticBlacklist {
	return &StaticBlacklist{addresses: make(map[string]string), probe: probe}
}

// Add blacklists an address.
func (b *StaticBlacklist) Add(address, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.addresses[address] = reason
}

func (b *StaticBlacklist) IsBlacklisted(address string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.addresses[address]
	return ok
}

func (b *StaticBlacklist) CheckAndBlacklistIfDead(ctx context.Context, address, chain string) (DeadCheck, error) {
	if b.IsBlacklisted(address) {
		b.mu.RLock()
		reason := b.addresses[address]
		b.mu.RUnlock()
		return DeadCheck{IsDead: true, Reason: reason}, nil
	}
	if b.probe == nil {
		return DeadCheck{}, nil
	}

	pd, err := b.probe.GetCurrentPrice(ctx, address, chain)
	if err != nil {
		return DeadCheck{}, err
	}
	if pd == nil || pd.Price <= 0 {
		b.Add(address, "no_price_data")
		return DeadCheck{IsDead: true, Reason: "no_price_data"}, nil
	}
	return DeadCheck{}, nil
}
