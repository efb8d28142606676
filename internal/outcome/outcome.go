package outcome

import (
	"time"

	"github.com/google/uuid"

	"github.com/callrank/callrank/internal/roi"
)

// Status is the lifecycle state of a tracked signal.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Completion reasons.
const (
	ReasonWindowElapsed = "30d_elapsed"
	ReasonDeadToken     = "dead_token"
	ReasonManual        = "manual"
)

// CheckpointSpec pairs a label with its fixed offset from entry.
type CheckpointSpec struct {
	Label  string
	Offset time.Duration
}

// CheckpointSchedule is the fixed set of offsets snapshotted for every signal.
var CheckpointSchedule = []CheckpointSpec{
	{"1h", time.Hour},
	{"4h", 4 * time.Hour},
	{"24h", 24 * time.Hour},
	{"3d", 3 * 24 * time.Hour},
	{"7d", 7 * 24 * time.Hour},
	{"30d", 30 * 24 * time.Hour},
}

// Checkpoint is one fixed-offset ROI snapshot. Once Reached is set the
// recorded values never change.
type Checkpoint struct {
	Label           string    `json:"label"`
	TargetTimestamp time.Time `json:"target_timestamp"`
	Reached         bool      `json:"reached"`
	Price           float64   `json:"price,omitempty"`
	ROIPercentage   float64   `json:"roi_percentage,omitempty"`
	ROIMultiplier   float64   `json:"roi_multiplier,omitempty"`
}

// SignalOutcome is one tracked mention of one token by one channel.
type SignalOutcome struct {
	// Identity
	SignalID    string `json:"signal_id"`
	MessageID   string `json:"message_id"`
	ChannelName string `json:"channel_name"`
	Address     string `json:"address"`
	Symbol      string `json:"symbol"`
	Chain       string `json:"chain,omitempty"`

	// Entry
	EntryPrice      float64   `json:"entry_price"`
	EntryTimestamp  time.Time `json:"entry_timestamp"`
	EntryConfidence float64   `json:"entry_confidence,omitempty"`
	EntrySource     string    `json:"entry_source,omitempty"`

	// Live state
	CurrentPrice      float64   `json:"current_price"`
	CurrentMultiplier float64   `json:"current_multiplier"`
	ATHPrice          float64   `json:"ath_price"`
	ATHTimestamp      time.Time `json:"ath_timestamp"`
	ATHMultiplier     float64   `json:"ath_multiplier"`
	DaysToATH         float64   `json:"days_to_ath"`
	LastObservedAt    time.Time `json:"last_observed_at"`

	Checkpoints []Checkpoint `json:"checkpoints"`

	// Day-7 / day-30 snapshots
	Day7Price           float64        `json:"day7_price,omitempty"`
	Day7Multiplier      float64        `json:"day7_multiplier,omitempty"`
	Day7Classification  string         `json:"day7_classification,omitempty"`
	Day30Price          float64        `json:"day30_price,omitempty"`
	Day30Multiplier     float64        `json:"day30_multiplier,omitempty"`
	Day30Classification string         `json:"day30_classification,omitempty"`
	Trajectory          roi.Trajectory `json:"trajectory"`
	PeakTiming          roi.PeakTiming `json:"peak_timing"`

	// Lineage across fresh-start re-entries of the same address
	SignalNumber    int      `json:"signal_number"`
	PreviousSignals []string `json:"previous_signals,omitempty"`

	// Lifecycle
	IsComplete       bool                `json:"is_complete"`
	Status           Status              `json:"status"`
	CompletionReason string              `json:"completion_reason,omitempty"`
	IsWinner         bool                `json:"is_winner"`
	OutcomeCategory  roi.OutcomeCategory `json:"outcome_category,omitempty"`
	CompletedAt      time.Time           `json:"completed_at,omitempty"`

	// Context tags for reputation tiering
	MarketTier     roi.MarketTier `json:"market_tier"`
	RiskLevel      string         `json:"risk_level,omitempty"`
	RiskScore      float64        `json:"risk_score,omitempty"`
	Sentiment      string         `json:"sentiment,omitempty"`
	SentimentScore float64        `json:"sentiment_score,omitempty"`
	HDRBScore      float64        `json:"hdrb_score,omitempty"`
	Confidence     float64        `json:"confidence,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// NewSignalOutcome constructs an in-progress outcome with all six checkpoints
// pre-allocated and current price pinned to entry.
func NewSignalOutcome(p TrackParams) *SignalOutcome {
	checkpoints := make([]Checkpoint, 0, len(CheckpointSchedule))
	for _, spec := range CheckpointSchedule {
		checkpoints = append(checkpoints, Checkpoint{
			Label:           spec.Label,
			TargetTimestamp: p.EntryTimestamp.Add(spec.Offset),
		})
	}

	tier := p.MarketTier
	if tier == "" {
		tier = roi.TierMicro
	}

	return &SignalOutcome{
		SignalID:        uuid.NewString(),
		MessageID:       p.MessageID,
		ChannelName:     p.ChannelName,
		Address:         p.Address,
		Symbol:          p.Symbol,
		Chain:           p.Chain,
		EntryPrice:      p.EntryPrice,
		EntryTimestamp:  p.EntryTimestamp,
		EntryConfidence: p.Confidence,
		EntrySource:     p.EntrySource,

		CurrentPrice:      p.EntryPrice,
		CurrentMultiplier: 1.0,
		ATHPrice:          p.EntryPrice,
		ATHTimestamp:      p.EntryTimestamp,
		ATHMultiplier:     1.0,
		LastObservedAt:    p.EntryTimestamp,

		Checkpoints: checkpoints,

		Trajectory: roi.TrajectoryUnknown,
		PeakTiming: roi.PeakUnknown,

		SignalNumber:    max(p.SignalNumber, 1),
		PreviousSignals: p.PreviousSignals,

		Status: StatusInProgress,

		MarketTier:     tier,
		RiskLevel:      p.RiskLevel,
		RiskScore:      p.RiskScore,
		Sentiment:      p.Sentiment,
		SentimentScore: p.SentimentScore,
		HDRBScore:      p.HDRBScore,
		Confidence:     p.Confidence,

		CreatedAt: time.Now().UTC(),
	}
}

// Checkpoint returns the checkpoint with the given label, or nil.
func (o *SignalOutcome) Checkpoint(label string) *Checkpoint {
	for i := range o.Checkpoints {
		if o.Checkpoints[i].Label == label {
			return &o.Checkpoints[i]
		}
	}
	return nil
}

// ActualROI is the realized return used by the learning layer: the peak
// multiplier the signal reached.
func (o *SignalOutcome) ActualROI() float64 {
	if o.ATHMultiplier > 0 {
		return o.ATHMultiplier
	}
	return 1.0
}
