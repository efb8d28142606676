package roi

import (
	"time"
)

// MarketTier buckets tokens by market capitalization. Winner thresholds are
// tier-specific: large caps move less, so a smaller multiple counts as a win.
type MarketTier string

const (
	TierMicro MarketTier = "micro"
	TierSmall MarketTier = "small"
	TierMid   MarketTier = "mid"
	TierLarge MarketTier = "large"
)

// OutcomeCategory is the terminal classification of a completed signal.
type OutcomeCategory string

const (
	CategoryWinner    OutcomeCategory = "winner"
	CategoryLoser     OutcomeCategory = "loser"
	CategoryBreakEven OutcomeCategory = "break_even"
	CategoryDeadToken OutcomeCategory = "dead_token"
)

// Trajectory classifies how a signal moved between day 7 and day 30 relative
// to its ATH.
type Trajectory string

const (
	TrajectoryImproved Trajectory = "improved"
	TrajectoryCrashed  Trajectory = "crashed"
	TrajectoryUnknown  Trajectory = "unknown"
)

// PeakTiming classifies whether the ATH arrived early or late in the window.
type PeakTiming string

const (
	PeakEarly   PeakTiming = "early"
	PeakLate    PeakTiming = "late"
	PeakUnknown PeakTiming = "unknown"
)

// Config contains thresholds for outcome classification.
type Config struct {
	WinnerThresholdLarge   float64 `yaml:"winner_threshold_large"`   // ATH multiplier for large caps
	WinnerThresholdMid     float64 `yaml:"winner_threshold_mid"`     // ATH multiplier for mid caps
	WinnerThresholdDefault float64 `yaml:"winner_threshold_default"` // micro/small caps
	CrashDropFraction      float64 `yaml:"crash_drop_fraction"`      // drop from ATH by day 30 that counts as a crash
	EarlyPeakDays          float64 `yaml:"early_peak_days"`          // days-to-ATH at or below which the peak is "early"
	TrackingWindowDays     int     `yaml:"tracking_window_days"`     // observation horizon
}

// DefaultConfig returns production classification thresholds.
func DefaultConfig() *Config {
	return &Config{
		WinnerThresholdLarge:   1.2,
		WinnerThresholdMid:     1.5,
		WinnerThresholdDefault: 2.0,
		CrashDropFraction:      0.40,
		EarlyPeakDays:          1.0,
		TrackingWindowDays:     30,
	}
}

// Calculator holds classification thresholds. All methods are pure.
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

// Compute returns percentage ROI and price multiplier for an entry/current
// price pair. A non-positive entry price is treated as no movement.
func (c *Calculator) Compute(entry, current float64) (percentage, multiplier float64) {
	if entry <= 0 || current <= 0 {
		return 0, 1.0
	}
	multiplier = current / entry
	percentage = (multiplier - 1.0) * 100.0
	return percentage, multiplier
}

// WinnerThreshold returns the ATH multiplier a signal must reach to count as a
// winner for the given tier.
func (c *Calculator) WinnerThreshold(tier MarketTier) float64 {
	switch tier {
	case TierLarge:
		return c.config.WinnerThresholdLarge
	case TierMid:
		return c.config.WinnerThresholdMid
	default:
		return c.config.WinnerThresholdDefault
	}
}

// Categorize classifies a completed signal from its peak multiplier.
// Winner is ATH-based: touching the tier threshold at any point wins even if
// the price later collapsed.
func (c *Calculator) Categorize(athMultiplier float64, tier MarketTier) (isWinner bool, category OutcomeCategory) {
	if athMultiplier >= c.WinnerThreshold(tier) {
		return true, CategoryWinner
	}
	if athMultiplier < 1.0 {
		return false, CategoryLoser
	}
	return false, CategoryBreakEven
}

// AnalyzeTrajectory classifies the day7 → day30 path. A material drop from
// the ATH by day 30 counts as crashed even when day30 > day7, since the
// intervening peak is what holders actually experienced.
func (c *Calculator) AnalyzeTrajectory(day7Mult, day30Mult, athMult float64) (Trajectory, float64) {
	if day7Mult <= 0 || day30Mult <= 0 {
		return TrajectoryUnknown, 0
	}
	if athMult > 0 {
		drop := (athMult - day30Mult) / athMult
		if drop >= c.config.CrashDropFraction {
			return TrajectoryCrashed, drop * 100.0
		}
	}
	if day30Mult >= day7Mult {
		return TrajectoryImproved, 0
	}
	return TrajectoryUnknown, 0
}

// DeterminePeakTiming classifies when the ATH arrived.
func (c *Calculator) DeterminePeakTiming(daysToATH float64) PeakTiming {
	if daysToATH < 0 {
		return PeakUnknown
	}
	if daysToATH <= c.config.EarlyPeakDays {
		return PeakEarly
	}
	return PeakLate
}

// CheckStopConditions reports whether tracking should stop for a signal that
// entered at entryTime, evaluated at now.
func (c *Calculator) CheckStopConditions(entryTime, now time.Time) (shouldStop bool, reason string) {
	if now.Sub(entryTime) >= time.Duration(c.config.TrackingWindowDays)*24*time.Hour {
		return true, "30d_elapsed"
	}
	return false, ""
}
