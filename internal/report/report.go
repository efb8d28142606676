// Package report renders tracking output into tabular sinks: an
// upsert-by-key CSV table per address, an append-only JSONL message log,
// and a reputation snapshot file.
package report

import (
	"time"

	"github.com/callrank/callrank/internal/outcome"
	"github.com/callrank/callrank/internal/roi"
)

// PerformanceData is the flattened per-address snapshot consumed by the
// tabular sinks.
type PerformanceData struct {
	Address           string         `json:"address"`
	Chain             string         `json:"chain"`
	Symbol            string         `json:"symbol"`
	ChannelName       string         `json:"channel_name"`
	SignalNumber      int            `json:"signal_number"`
	StartPrice        float64        `json:"start_price"`
	StartTime         time.Time      `json:"start_time"`
	CurrentPrice      float64        `json:"current_price"`
	CurrentTime       time.Time      `json:"current_time"`
	ATHPrice          float64        `json:"ath_price"`
	ATHTime           time.Time      `json:"ath_time"`
	CurrentMultiplier float64        `json:"current_multiplier"`
	ATHMultiplier     float64        `json:"ath_multiplier"`
	Day7Multiplier    float64        `json:"day7_multiplier,omitempty"`
	Day30Multiplier   float64        `json:"day30_multiplier,omitempty"`
	Trajectory        roi.Trajectory `json:"trajectory,omitempty"`
	IsComplete        bool           `json:"is_complete"`
	OutcomeCategory   string         `json:"outcome_category,omitempty"`
}

// Snapshot flattens a SignalOutcome for the sinks.
func Snapshot(o *outcome.SignalOutcome) PerformanceData {
	return PerformanceData{
		Address:           o.Address,
		Chain:             o.Chain,
		Symbol:            o.Symbol,
		ChannelName:       o.ChannelName,
		SignalNumber:      o.SignalNumber,
		StartPrice:        o.EntryPrice,
		StartTime:         o.EntryTimestamp,
		CurrentPrice:      o.CurrentPrice,
		CurrentTime:       o.LastObservedAt,
		ATHPrice:          o.ATHPrice,
		ATHTime:           o.ATHTimestamp,
		CurrentMultiplier: o.CurrentMultiplier,
		ATHMultiplier:     o.ATHMultiplier,
		Day7Multiplier:    o.Day7Multiplier,
		Day30Multiplier:   o.Day30Multiplier,
		Trajectory:        o.Trajectory,
		IsComplete:        o.IsComplete,
		OutcomeCategory:   string(o.OutcomeCategory),
	}
}
