// Package reputation derives aggregate channel statistics from completed
// signal outcomes: win rate, ROI distribution, Sharpe-like ratio, speed,
// per-tier breakdown, timing patterns, and a composite 0-100 score with a
// named tier.
package reputation

import (
	"math"
	"sort"
	"time"

	"github.com/callrank/callrank/internal/outcome"
	"github.com/callrank/callrank/internal/roi"
)

// Tier names, best to worst. Unproven overrides all of them below the
// minimum track record.
const (
	TierElite      = "Elite"
	TierExcellent  = "Excellent"
	TierGood       = "Good"
	TierAverage    = "Average"
	TierPoor       = "Poor"
	TierUnreliable = "Unreliable"
	TierUnproven   = "Unproven"
)

// TierStats is win/ROI performance within one market-cap tier.
type TierStats struct {
	TotalCalls   int     `json:"total_calls"`
	WinningCalls int     `json:"winning_calls"`
	WinRate      float64 `json:"win_rate"`
	AvgROI       float64 `json:"avg_roi"`
	Sharpe       float64 `json:"sharpe"`
}

// TimingPatterns describes when a channel's calls tend to peak and how often
// they give the gains back.
type TimingPatterns struct {
	EarlyPeakPct        float64 `json:"early_peak_pct"`
	LatePeakPct         float64 `json:"late_peak_pct"`
	AvgDaysToATH        float64 `json:"avg_days_to_ath"`
	CrashRateAfterDay7  float64 `json:"crash_rate_after_day7"`
	RecommendedHoldDays float64 `json:"recommended_hold_days"`
}

// ChannelReputation is the aggregate scorecard for one channel.
type ChannelReputation struct {
	ChannelName string `json:"channel_name"`

	TotalSignals int     `json:"total_signals"`
	Winners      int     `json:"winners"`
	Losers       int     `json:"losers"`
	Neutral      int     `json:"neutral"`
	WinRate      float64 `json:"win_rate"`

	AvgROI    float64 `json:"avg_roi"`
	MedianROI float64 `json:"median_roi"`
	BestROI   float64 `json:"best_roi"`
	WorstROI  float64 `json:"worst_roi"`

	StdDev      float64 `json:"std_dev"`
	SharpeRatio float64 `json:"sharpe_ratio"`
	SpeedScore  float64 `json:"speed_score"`

	TierPerformance map[roi.MarketTier]*TierStats `json:"tier_performance"`
	Timing          TimingPatterns                `json:"timing"`

	ReputationScore float64   `json:"reputation_score"`
	ReputationTier  string    `json:"reputation_tier"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Config holds the tunable policy behind the composite score. Weights must
// sum to 1 so the score stays in [0,100].
type Config struct {
	WinRateWeight float64 `yaml:"win_rate_weight"`
	AvgROIWeight  float64 `yaml:"avg_roi_weight"`
	SharpeWeight  float64 `yaml:"sharpe_weight"`
	SpeedWeight   float64 `yaml:"speed_weight"`

	// ROIScoreCeiling is the average multiplier that maps to a full ROI
	// sub-score; SharpeScoreCeiling likewise for the Sharpe sub-score.
	ROIScoreCeiling    float64 `yaml:"roi_score_ceiling"`
	SharpeScoreCeiling float64 `yaml:"sharpe_score_ceiling"`

	// MinTrackRecord is the completed-signal count below which the channel
	// is Unproven regardless of score.
	MinTrackRecord int `yaml:"min_track_record"`
}

// DefaultConfig returns the production scoring policy.
func DefaultConfig() *Config {
	return &Config{
		WinRateWeight:      0.35,
		AvgROIWeight:       0.25,
		SharpeWeight:       0.20,
		SpeedWeight:        0.20,
		ROIScoreCeiling:    3.0,
		SharpeScoreCeiling: 2.0,
		MinTrackRecord:     10,
	}
}

// Calculator computes channel reputations from completed outcomes.
type Calculator struct {
	config *Config
}

// NewCalculator creates a calculator; nil config selects defaults.
func NewCalculator(config *Config) *Calculator {
	if config == nil {
		config = DefaultConfig()
	}
	return &Calculator{config: config}
}

// Compute builds the full reputation for a channel from its completed
// outcomes. In-progress outcomes are ignored.
func (c *Calculator) Compute(channel string, outcomes []outcome.SignalOutcome) *ChannelReputation {
	rep := &ChannelReputation{
		ChannelName:     channel,
		TierPerformance: make(map[roi.MarketTier]*TierStats),
		UpdatedAt:       time.Now().UTC(),
	}

	var completed []outcome.SignalOutcome
	for _, o := range outcomes {
		if o.IsComplete {
			completed = append(completed, o)
		}
	}
	rep.TotalSignals = len(completed)
	if rep.TotalSignals == 0 {
		rep.ReputationTier = TierUnproven
		return rep
	}

	rois := make([]float64, 0, len(completed))
	for _, o := range completed {
		switch {
		case o.IsWinner:
			rep.Winners++
		case o.OutcomeCategory == roi.CategoryLoser || o.OutcomeCategory == roi.CategoryDeadToken:
			rep.Losers++
		default:
			rep.Neutral++
		}
		rois = append(rois, o.ActualROI())
	}
	rep.WinRate = float64(rep.Winners) / float64(rep.TotalSignals)

	rep.AvgROI = mean(rois)
	rep.MedianROI = median(rois)
	rep.BestROI = maxOf(rois)
	rep.WorstROI = minOf(rois)
	rep.StdDev = sampleStdDev(rois, rep.AvgROI)
	if rep.StdDev > 0 {
		rep.SharpeRatio = (rep.AvgROI - 1.0) / rep.StdDev
	}

	rep.SpeedScore = c.speedScore(completed)
	rep.Timing = c.timingPatterns(completed)
	c.tierBreakdown(rep, completed)

	rep.ReputationScore = c.compositeScore(rep)
	rep.ReputationTier = c.tierFor(rep.ReputationScore, rep.TotalSignals)
	return rep
}

// speedScore scores how fast a channel's calls pay off, 0-100. Lower average
// days-to-ATH and days-to-2x both raise the score, scaled against the 30-day
// window.
func (c *Calculator) speedScore(completed []outcome.SignalOutcome) float64 {
	var athDays, doubleDays []float64
	for _, o := range completed {
		if o.ATHMultiplier > 1.0 && o.DaysToATH >= 0 {
			athDays = append(athDays, o.DaysToATH)
		}
		if d, ok := daysToDouble(&o); ok {
			doubleDays = append(doubleDays, d)
		}
	}
	if len(athDays) == 0 {
		return 0
	}

	const window = 30.0
	athScore := 100.0 * (1.0 - clamp01(mean(athDays)/window))
	if len(doubleDays) == 0 {
		return athScore
	}
	doubleScore := 100.0 * (1.0 - clamp01(mean(doubleDays)/window))
	return 0.5*athScore + 0.5*doubleScore
}

// daysToDouble finds the earliest evidence the signal reached 2x: the first
// reached checkpoint at or above 2x, else the ATH timing when the peak
// itself cleared 2x.
func daysToDouble(o *outcome.SignalOutcome) (float64, bool) {
	for _, cp := range o.Checkpoints {
		if cp.Reached && cp.ROIMultiplier >= 2.0 {
			return cp.TargetTimestamp.Sub(o.EntryTimestamp).Hours() / 24.0, true
		}
	}
	if o.ATHMultiplier >= 2.0 {
		return o.DaysToATH, true
	}
	return 0, false
}

func (c *Calculator) timingPatterns(completed []outcome.SignalOutcome) TimingPatterns {
	var tp TimingPatterns
	var early, late, crashed, withTiming int
	var athDays []float64

	for _, o := range completed {
		switch o.PeakTiming {
		case roi.PeakEarly:
			early++
			withTiming++
		case roi.PeakLate:
			late++
			withTiming++
		}
		if o.Trajectory == roi.TrajectoryCrashed {
			crashed++
		}
		if o.ATHMultiplier > 1.0 && o.DaysToATH >= 0 {
			athDays = append(athDays, o.DaysToATH)
		}
	}

	if withTiming > 0 {
		tp.EarlyPeakPct = 100.0 * float64(early) / float64(withTiming)
		tp.LatePeakPct = 100.0 * float64(late) / float64(withTiming)
	}
	tp.CrashRateAfterDay7 = float64(crashed) / float64(len(completed))
	if len(athDays) > 0 {
		tp.AvgDaysToATH = mean(athDays)
	}
	tp.RecommendedHoldDays = recommendedHold(tp)
	return tp
}

// recommendedHold derives a hold period from timing behavior: hold to just
// past the average peak, but never past day 7 when the channel's calls
// usually crash afterwards.
func recommendedHold(tp TimingPatterns) float64 {
	hold := math.Ceil(tp.AvgDaysToATH + 1)
	if hold < 1 {
		hold = 1
	}
	if tp.CrashRateAfterDay7 > 0.5 && hold > 7 {
		hold = 7
	}
	if hold > 30 {
		hold = 30
	}
	return hold
}

func (c *Calculator) tierBreakdown(rep *ChannelReputation, completed []outcome.SignalOutcome) {
	byTier := make(map[roi.MarketTier][]float64)
	for _, o := range completed {
		stats, ok := rep.TierPerformance[o.MarketTier]
		if !ok {
			stats = &TierStats{}
			rep.TierPerformance[o.MarketTier] = stats
		}
		stats.TotalCalls++
		if o.IsWinner {
			stats.WinningCalls++
		}
		byTier[o.MarketTier] = append(byTier[o.MarketTier], o.ActualROI())
	}
	for tier, stats := range rep.TierPerformance {
		stats.WinRate = float64(stats.WinningCalls) / float64(stats.TotalCalls)
		rois := byTier[tier]
		stats.AvgROI = mean(rois)
		if sd := sampleStdDev(rois, stats.AvgROI); sd > 0 {
			stats.Sharpe = (stats.AvgROI - 1.0) / sd
		}
	}
}

// compositeScore blends the sub-scores with configured weights. Each
// sub-score is normalized to [0,100] and each weight is non-negative, so the
// blend is monotonic in every input and bounded.
func (c *Calculator) compositeScore(rep *ChannelReputation) float64 {
	winScore := 100.0 * clamp01(rep.WinRate)
	roiScore := 100.0 * clamp01((rep.AvgROI-1.0)/(c.config.ROIScoreCeiling-1.0))
	sharpeScore := 100.0 * clamp01(rep.SharpeRatio/c.config.SharpeScoreCeiling)
	speedScore := clampRange(rep.SpeedScore, 0, 100)

	score := c.config.WinRateWeight*winScore +
		c.config.AvgROIWeight*roiScore +
		c.config.SharpeWeight*sharpeScore +
		c.config.SpeedWeight*speedScore
	return clampRange(score, 0, 100)
}

func (c *Calculator) tierFor(score float64, totalSignals int) string {
	if totalSignals < c.config.MinTrackRecord {
		return TierUnproven
	}
	switch {
	case score >= 90:
		return TierElite
	case score >= 75:
		return TierExcellent
	case score >= 60:
		return TierGood
	case score >= 40:
		return TierAverage
	case score >= 20:
		return TierPoor
	default:
		return TierUnreliable
	}
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := make([]float64, len(xs))
	copy(sorted, xs)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func sampleStdDev(xs []float64, mu float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var ss float64
	for _, x := range xs {
		d := x - mu
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

func maxOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x > m {
			m = x
		}
	}
	return m
}

func minOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x < m {
			m = x
		}
	}
	return m
}

func clamp01(x float64) float64 {
	return clampRange(x, 0, 1)
}

func clampRange(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
