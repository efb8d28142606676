package tdlearn

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callrank/callrank/internal/outcome"
	"github.com/callrank/callrank/internal/roi"
)

var t0 = time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

func completedSignal(channel, address string, athMult float64) *outcome.SignalOutcome {
	return &outcome.SignalOutcome{
		SignalID:        fmt.Sprintf("sig-%s-%s-%f", channel, address, athMult),
		ChannelName:     channel,
		Address:         address,
		Symbol:          "TKN",
		EntryPrice:      1.0,
		EntryTimestamp:  t0,
		ATHPrice:        athMult,
		ATHMultiplier:   athMult,
		DaysToATH:       1.5,
		MarketTier:      roi.TierSmall,
		IsComplete:      true,
		Status:          outcome.StatusCompleted,
		OutcomeCategory: roi.CategoryWinner,
	}
}

func TestRecordOutcome_IgnoresInProgress(t *testing.T) {
	svc := NewService(nil, 0)
	o := completedSignal("alpha", "0xabc", 2.0)
	o.IsComplete = false

	svc.RecordOutcome(o)
	_, ok := svc.ExpectedROI("alpha")
	assert.False(t, ok)
}

func TestTDConvergenceDirection(t *testing.T) {
	svc := NewService(nil, 0)

	// Seed the overall estimate at 1.5 via a first observation of 6.0:
	// 1.0 + 0.1*(6.0-1.0) = 1.5.
	svc.RecordOutcome(completedSignal("alpha", "0x1", 6.0))
	expected, ok := svc.ExpectedROI("alpha")
	require.True(t, ok)
	require.InDelta(t, 1.5, expected, 1e-9)

	// Repeated identical actual=3.0 observations strictly shrink the gap.
	prevGap := math.Abs(3.0 - expected)
	for i := 0; i < 20; i++ {
		svc.RecordOutcome(completedSignal("alpha", fmt.Sprintf("0xa%d", i), 3.0))
		expected, _ = svc.ExpectedROI("alpha")
		gap := math.Abs(3.0 - expected)
		assert.Less(t, gap, prevGap)
		prevGap = gap
	}
}

func TestUpdateTD_Bookkeeping(t *testing.T) {
	svc := NewService(nil, 0)

	svc.RecordOutcome(completedSignal("alpha", "0x1", 3.0))
	ch, ok := svc.ChannelState("alpha")
	require.True(t, ok)

	st := ch.Overall
	assert.Equal(t, 1, st.TotalPredictions)
	assert.Equal(t, 1, st.Underestimations) // actual 3.0 > predicted 1.0
	assert.Equal(t, 0, st.Overestimations)
	assert.Equal(t, 0, st.CorrectPredictions) // 200% error
	require.Len(t, st.PredictionErrorHistory, 1)

	rec := st.PredictionErrorHistory[0]
	assert.InDelta(t, 1.0, rec.Predicted, 1e-9)
	assert.InDelta(t, 3.0, rec.Actual, 1e-9)
	assert.InDelta(t, 2.0, rec.Error, 1e-9)
	assert.InDelta(t, 200.0, rec.PercentageError, 1e-9)
	assert.InDelta(t, 2.0, st.MeanAbsoluteError, 1e-9)
	assert.InDelta(t, 4.0, st.MeanSquaredError, 1e-9)
}

func TestUpdateTD_CorrectPrediction(t *testing.T) {
	svc := NewService(nil, 0)

	// Prediction starts at 1.0; actual 1.05 is a 5% error.
	svc.RecordOutcome(completedSignal("alpha", "0x1", 1.05))
	ch, _ := svc.ChannelState("alpha")
	assert.Equal(t, 1, ch.Overall.CorrectPredictions)
}

func TestUpdateTD_Overestimation(t *testing.T) {
	svc := NewService(nil, 0)

	svc.RecordOutcome(completedSignal("alpha", "0x1", 0.5))
	ch, _ := svc.ChannelState("alpha")
	assert.Equal(t, 1, ch.Overall.Overestimations)
}

func TestErrorHistoryIsUnbounded(t *testing.T) {
	svc := NewService(nil, 0)
	for i := 0; i < 250; i++ {
		svc.RecordOutcome(completedSignal("alpha", fmt.Sprintf("0x%d", i), 2.0))
	}
	ch, _ := svc.ChannelState("alpha")
	assert.Len(t, ch.Overall.PredictionErrorHistory, 250)
	assert.Equal(t, 250, ch.Overall.TotalPredictions)
}

func TestCoinSpecific_FirstMentionInitializesDirectly(t *testing.T) {
	svc := NewService(nil, 0)

	svc.RecordOutcome(completedSignal("alpha", "0xabc", 4.0))
	ch, _ := svc.ChannelState("alpha")
	coin := ch.CoinSpecific["0xabc"]
	require.NotNil(t, coin)

	// Seeded directly with no learning update recorded.
	assert.InDelta(t, 4.0, coin.ExpectedROI, 1e-9)
	assert.Equal(t, 0, coin.TotalPredictions)
	assert.Empty(t, coin.PredictionErrorHistory)

	// Second mention applies the TD rule: 4.0 + 0.1*(2.0-4.0) = 3.8.
	svc.RecordOutcome(completedSignal("alpha", "0xabc", 2.0))
	ch, _ = svc.ChannelState("alpha")
	coin = ch.CoinSpecific["0xabc"]
	assert.InDelta(t, 3.8, coin.ExpectedROI, 1e-9)
	assert.Equal(t, 1, coin.TotalPredictions)
}

func TestCrossChannel_Aggregates(t *testing.T) {
	svc := NewService(nil, 0)

	svc.RecordOutcome(completedSignal("alpha", "0xabc", 3.0))
	svc.RecordOutcome(completedSignal("beta", "0xabc", 0.8))
	svc.RecordOutcome(completedSignal("gamma", "0xabc", 1.6))

	coin, ok := svc.Coin("0xabc")
	require.True(t, ok)

	assert.Equal(t, "alpha", coin.BestChannel)
	assert.InDelta(t, 3.0, coin.BestROI, 1e-9)
	assert.Equal(t, "beta", coin.WorstChannel)
	assert.InDelta(t, 0.8, coin.WorstROI, 1e-9)
	assert.Equal(t, 1, coin.ChannelMentions["alpha"])
	assert.Len(t, coin.ChannelMentions, 3)
	assert.InDelta(t, 1.8, coin.AvgROI, 1e-9)
	assert.InDelta(t, 1.6, coin.MedianROI, 1e-9)
	assert.InDelta(t, coin.AvgROI, coin.ExpectedROI, 1e-9)
	assert.NotEmpty(t, coin.Recommendation)
}

func TestMultiDimensionalPrediction_Blend(t *testing.T) {
	svc := NewService(nil, 0)

	// alpha overall learns from two coins; 0xabc gets coin-specific data;
	// beta's outcome feeds only the cross-channel level for 0xabc.
	svc.RecordOutcome(completedSignal("alpha", "0xabc", 4.0))
	svc.RecordOutcome(completedSignal("alpha", "0xother", 1.0))
	svc.RecordOutcome(completedSignal("beta", "0xabc", 2.0))

	p := svc.MultiDimensionalPrediction("alpha", "0xabc", "TKN")
	assert.True(t, p.HasCoinData)
	assert.True(t, p.HasCrossData)

	want := WeightOverall*p.Overall + WeightCoinSpecific*p.CoinLevel + WeightCrossChannel*p.CrossLevel
	assert.InDelta(t, want, p.Blended, 1e-9)
	assert.InDelta(t, 4.0, p.CoinLevel, 1e-9)  // seeded directly
	assert.InDelta(t, 3.0, p.CrossLevel, 1e-9) // mean(4.0, 2.0)
}

func TestMultiDimensionalPrediction_FallsBackToOverall(t *testing.T) {
	svc := NewService(nil, 0)
	svc.RecordOutcome(completedSignal("alpha", "0xother", 3.0))

	p := svc.MultiDimensionalPrediction("alpha", "0xnever", "NEW")
	assert.False(t, p.HasCoinData)
	assert.False(t, p.HasCrossData)
	// All three levels collapse to the overall estimate.
	assert.InDelta(t, p.Overall, p.Blended, 1e-9)
}

func TestMultiDimensionalPrediction_UnknownChannel(t *testing.T) {
	svc := NewService(nil, 0)
	p := svc.MultiDimensionalPrediction("ghost", "0xabc", "TKN")
	assert.InDelta(t, 1.0, p.Blended, 1e-9)
}
