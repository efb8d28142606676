package reputation

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callrank/callrank/internal/outcome"
	"github.com/callrank/callrank/internal/roi"
)

var t0 = time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

func completedOutcome(i int, athMult float64, tier roi.MarketTier) outcome.SignalOutcome {
	isWinner, category := roi.NewCalculator(nil).Categorize(athMult, tier)
	return outcome.SignalOutcome{
		SignalID:        fmt.Sprintf("sig-%d", i),
		Address:         fmt.Sprintf("0x%03d", i),
		ChannelName:     "alpha-calls",
		EntryPrice:      1.0,
		EntryTimestamp:  t0,
		ATHPrice:        athMult,
		ATHMultiplier:   athMult,
		DaysToATH:       2.0,
		MarketTier:      tier,
		IsComplete:      true,
		Status:          outcome.StatusCompleted,
		IsWinner:        isWinner,
		OutcomeCategory: category,
		PeakTiming:      roi.PeakEarly,
	}
}

func TestCompute_EmptyChannel(t *testing.T) {
	calc := NewCalculator(nil)
	rep := calc.Compute("alpha-calls", nil)

	assert.Equal(t, 0, rep.TotalSignals)
	assert.Equal(t, TierUnproven, rep.ReputationTier)
}

func TestCompute_IgnoresInProgress(t *testing.T) {
	calc := NewCalculator(nil)
	inProgress := completedOutcome(1, 2.0, roi.TierSmall)
	inProgress.IsComplete = false
	inProgress.Status = outcome.StatusInProgress

	rep := calc.Compute("alpha-calls", []outcome.SignalOutcome{inProgress})
	assert.Equal(t, 0, rep.TotalSignals)
}

func TestCompute_Counts(t *testing.T) {
	calc := NewCalculator(nil)
	outcomes := []outcome.SignalOutcome{
		completedOutcome(1, 2.5, roi.TierSmall), // winner
		completedOutcome(2, 3.0, roi.TierSmall), // winner
		completedOutcome(3, 0.5, roi.TierSmall), // loser
		completedOutcome(4, 1.2, roi.TierSmall), // break even
	}

	rep := calc.Compute("alpha-calls", outcomes)
	assert.Equal(t, 4, rep.TotalSignals)
	assert.Equal(t, 2, rep.Winners)
	assert.Equal(t, 1, rep.Losers)
	assert.Equal(t, 1, rep.Neutral)
	assert.InDelta(t, 0.5, rep.WinRate, 1e-9)

	assert.InDelta(t, 1.8, rep.AvgROI, 1e-9)
	assert.InDelta(t, 1.85, rep.MedianROI, 1e-9) // (1.2+2.5)/2
	assert.InDelta(t, 3.0, rep.BestROI, 1e-9)
	assert.InDelta(t, 0.5, rep.WorstROI, 1e-9)
	assert.Greater(t, rep.SharpeRatio, 0.0)
}

func TestCompute_DeadTokenCountsAsLoser(t *testing.T) {
	calc := NewCalculator(nil)
	dead := completedOutcome(1, 1.0, roi.TierSmall)
	dead.IsWinner = false
	dead.OutcomeCategory = roi.CategoryDeadToken

	rep := calc.Compute("alpha-calls", []outcome.SignalOutcome{dead})
	assert.Equal(t, 1, rep.Losers)
}

func TestTieringBoundary_Unproven(t *testing.T) {
	calc := NewCalculator(nil)

	// 5 strong signals: still Unproven regardless of score.
	var outcomes []outcome.SignalOutcome
	for i := 0; i < 5; i++ {
		outcomes = append(outcomes, completedOutcome(i, 5.0, roi.TierSmall))
	}
	rep := calc.Compute("alpha-calls", outcomes)
	assert.Equal(t, TierUnproven, rep.ReputationTier)
	assert.Greater(t, rep.ReputationScore, 0.0)
}

func TestTierFor_Boundaries(t *testing.T) {
	calc := NewCalculator(nil)

	assert.Equal(t, TierUnproven, calc.tierFor(92, 5))
	assert.Equal(t, TierElite, calc.tierFor(92, 12))
	assert.Equal(t, TierElite, calc.tierFor(90, 10))
	assert.Equal(t, TierExcellent, calc.tierFor(89.9, 10))
	assert.Equal(t, TierExcellent, calc.tierFor(75, 10))
	assert.Equal(t, TierGood, calc.tierFor(60, 10))
	assert.Equal(t, TierAverage, calc.tierFor(40, 10))
	assert.Equal(t, TierPoor, calc.tierFor(20, 10))
	assert.Equal(t, TierUnreliable, calc.tierFor(19.9, 10))
}

func TestCompositeScore_MonotonicInWinRate(t *testing.T) {
	calc := NewCalculator(nil)

	mixed := []outcome.SignalOutcome{
		completedOutcome(1, 2.5, roi.TierSmall),
		completedOutcome(2, 0.8, roi.TierSmall),
	}
	strong := []outcome.SignalOutcome{
		completedOutcome(1, 2.5, roi.TierSmall),
		completedOutcome(2, 2.5, roi.TierSmall),
	}

	weak := calc.Compute("a", mixed)
	better := calc.Compute("a", strong)
	assert.Greater(t, better.ReputationScore, weak.ReputationScore)
}

func TestCompositeScore_Bounded(t *testing.T) {
	calc := NewCalculator(nil)
	var outcomes []outcome.SignalOutcome
	for i := 0; i < 20; i++ {
		o := completedOutcome(i, 50.0, roi.TierSmall)
		o.DaysToATH = 0.1
		outcomes = append(outcomes, o)
	}
	rep := calc.Compute("a", outcomes)
	assert.LessOrEqual(t, rep.ReputationScore, 100.0)
	assert.GreaterOrEqual(t, rep.ReputationScore, 0.0)
}

func TestTierBreakdown(t *testing.T) {
	calc := NewCalculator(nil)
	outcomes := []outcome.SignalOutcome{
		completedOutcome(1, 2.5, roi.TierSmall),
		completedOutcome(2, 0.5, roi.TierSmall),
		completedOutcome(3, 1.3, roi.TierLarge), // winner for large
	}

	rep := calc.Compute("alpha-calls", outcomes)
	require.Contains(t, rep.TierPerformance, roi.TierSmall)
	require.Contains(t, rep.TierPerformance, roi.TierLarge)

	small := rep.TierPerformance[roi.TierSmall]
	assert.Equal(t, 2, small.TotalCalls)
	assert.Equal(t, 1, small.WinningCalls)
	assert.InDelta(t, 0.5, small.WinRate, 1e-9)
	assert.InDelta(t, 1.5, small.AvgROI, 1e-9)

	large := rep.TierPerformance[roi.TierLarge]
	assert.Equal(t, 1, large.TotalCalls)
	assert.Equal(t, 1, large.WinningCalls)
}

func TestTimingPatterns(t *testing.T) {
	calc := NewCalculator(nil)

	early := completedOutcome(1, 3.0, roi.TierSmall)
	early.PeakTiming = roi.PeakEarly
	early.Trajectory = roi.TrajectoryCrashed
	early.DaysToATH = 0.5

	late := completedOutcome(2, 3.0, roi.TierSmall)
	late.PeakTiming = roi.PeakLate
	late.Trajectory = roi.TrajectoryImproved
	late.DaysToATH = 10.0

	rep := calc.Compute("alpha-calls", []outcome.SignalOutcome{early, late})
	assert.InDelta(t, 50.0, rep.Timing.EarlyPeakPct, 1e-9)
	assert.InDelta(t, 50.0, rep.Timing.LatePeakPct, 1e-9)
	assert.InDelta(t, 0.5, rep.Timing.CrashRateAfterDay7, 1e-9)
	assert.InDelta(t, 5.25, rep.Timing.AvgDaysToATH, 1e-9)
	assert.GreaterOrEqual(t, rep.Timing.RecommendedHoldDays, 1.0)
}

func TestRecommendedHold_CapsAtDay7OnHighCrashRate(t *testing.T) {
	tp := TimingPatterns{AvgDaysToATH: 12, CrashRateAfterDay7: 0.8}
	assert.Equal(t, 7.0, recommendedHold(tp))

	tp = TimingPatterns{AvgDaysToATH: 12, CrashRateAfterDay7: 0.2}
	assert.Equal(t, 13.0, recommendedHold(tp))
}

func TestSpeedScore_FasterIsHigher(t *testing.T) {
	calc := NewCalculator(nil)

	fast := completedOutcome(1, 2.5, roi.TierSmall)
	fast.DaysToATH = 0.5
	slow := completedOutcome(2, 2.5, roi.TierSmall)
	slow.DaysToATH = 25.0

	fastRep := calc.Compute("a", []outcome.SignalOutcome{fast})
	slowRep := calc.Compute("a", []outcome.SignalOutcome{slow})
	assert.Greater(t, fastRep.SpeedScore, slowRep.SpeedScore)
}
