// Package backfill replays historical channel messages through the tracking
// engine, with resumable progress checkpoints so an interrupted run picks up
// where it left off.
package backfill

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/callrank/callrank/internal/bootstrap"
	"github.com/callrank/callrank/internal/ingest"
	"github.com/callrank/callrank/internal/metrics"
	"github.com/callrank/callrank/internal/oracle"
	"github.com/callrank/callrank/internal/outcome"
)

// Config tunes a backfill run.
type Config struct {
	// CheckpointEvery is how many processed messages between progress
	// writes.
	CheckpointEvery int `yaml:"checkpoint_every"`
	// WindowDays is the forward observation window per signal.
	WindowDays int `yaml:"window_days"`
}

// DefaultConfig returns production backfill settings.
func DefaultConfig() *Config {
	return &Config{
		CheckpointEvery: 25,
		WindowDays:      30,
	}
}

// Stats summarizes a run.
type Stats struct {
	Processed   int `json:"processed"`
	Tracked     int `json:"tracked"`
	FreshStarts int `json:"fresh_starts"`
	Duplicates  int `json:"duplicates"`
	NoPrice     int `json:"no_price"`
	Completed   int `json:"completed"`
	Failed      int `json:"failed"`
}

// Runner replays historical mentions through the coordinator and tracker.
type Runner struct {
	tracker  *outcome.Tracker
	coord    *bootstrap.Coordinator
	progress *bootstrap.ProgressStore
	prices   oracle.PriceOracle
	config   *Config
	clock    func() time.Time
}

// NewRunner creates a runner; nil config selects defaults.
func NewRunner(tracker *outcome.Tracker, coord *bootstrap.Coordinator, progress *bootstrap.ProgressStore, prices oracle.PriceOracle, config *Config) *Runner {
	if config == nil {
		config = DefaultConfig()
	}
	return &Runner{
		tracker:  tracker,
		coord:    coord,
		progress: progress,
		prices:   prices,
		config:   config,
		clock:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source. Test hook.
func (r *Runner) SetClock(clock func() time.Time) { r.clock = clock }

// Run processes mentions for one channel in message order. On context
// cancellation the progress checkpoint reflects a state before the next
// unprocessed message and the run can be resumed later; on success the
// progress file is cleared.
func (r *Runner) Run(ctx context.Context, channel string, mentions []ingest.Mention) (Stats, error) {
	var stats Stats

	start := 0
	status, err := r.progress.Load()
	if err == nil && status != nil && status.ChannelName == channel {
		for i, m := range mentions {
			if m.MessageID == status.LastProcessedMessageID {
				start = i + 1
				break
			}
		}
		log.Info().
			Str("channel", channel).
			Int("resume_at", start).
			Str("last_message", status.LastProcessedMessageID).
			Msg("resuming interrupted backfill")
	} else {
		status = &bootstrap.BootstrapStatus{
			ChannelName:   channel,
			TotalMessages: len(mentions),
			StartedAt:     r.clock(),
		}
	}

	for i := start; i < len(mentions); i++ {
		if ctx.Err() != nil {
			if err := r.progress.Save(status); err != nil {
				log.Warn().Err(err).Msg("progress checkpoint failed on interrupt")
			}
			return stats, ctx.Err()
		}

		m := mentions[i]
		began := time.Now()
		if err := r.processMention(ctx, m, &stats); err != nil {
			stats.Failed++
			log.Warn().Err(err).Str("message_id", m.MessageID).Msg("backfill message failed, continuing")
		}
		metrics.BackfillMessageDuration.Observe(time.Since(began).Seconds())

		stats.Processed++
		status.ProcessedMessages++
		status.LastProcessedMessageID = m.MessageID
		status.LastProcessedTimestamp = m.Timestamp

		if r.config.CheckpointEvery > 0 && stats.Processed%r.config.CheckpointEvery == 0 {
			if err := r.progress.Save(status); err != nil {
				log.Warn().Err(err).Msg("progress checkpoint failed, continuing")
			}
		}
	}

	if err := r.progress.Clear(); err != nil {
		log.Warn().Err(err).Msg("could not clear progress file after successful run")
	}
	log.Info().
		Str("channel", channel).
		Int("processed", stats.Processed).
		Int("tracked", stats.Tracked).
		Int("completed", stats.Completed).
		Msg("backfill finished")
	return stats, nil
}

func (r *Runner) processMention(ctx context.Context, m ingest.Mention, stats *Stats) error {
	dedup := r.coord.CheckForDuplicate(m.Address)
	if dedup.IsDuplicate {
		stats.Duplicates++
		return nil
	}

	entryPrice := m.Price
	if entryPrice <= 0 {
		pd, err := r.prices.GetHistoricalPriceNear(ctx, m.Symbol, m.Timestamp, m.Address, m.Chain)
		if err != nil {
			return fmt.Errorf("entry price near %s: %w", m.Timestamp.Format(time.RFC3339), err)
		}
		if pd == nil {
			stats.NoPrice++
			log.Debug().Str("address", m.Address).Msg("backfill skipped, no historical entry price")
			return nil
		}
		entryPrice = pd.Price
	}

	observations := r.collectObservations(ctx, m)

	o, err := r.tracker.Track(outcome.TrackParams{
		MessageID:            m.MessageID,
		ChannelName:          m.ChannelName,
		Address:              m.Address,
		Symbol:               m.Symbol,
		Chain:                m.Chain,
		EntryPrice:           entryPrice,
		EntryTimestamp:       m.Timestamp,
		EntrySource:          m.Source,
		SignalNumber:         dedup.SignalNumber,
		PreviousSignals:      dedup.PreviousSignals,
		MarketTier:           m.MarketTier,
		RiskLevel:            m.RiskLevel,
		RiskScore:            m.RiskScore,
		Sentiment:            m.Sentiment,
		SentimentScore:       m.SentimentScore,
		HDRBScore:            m.HDRBScore,
		Confidence:           m.Confidence,
		BackfillObservations: observations,
	})
	if err != nil {
		return err
	}

	if dedup.FreshStart {
		stats.FreshStarts++
	} else {
		stats.Tracked++
	}

	if o.IsComplete {
		stats.Completed++
		// A completion hook may have archived the signal already; only
		// archive here if this signal is not in history yet.
		if archived, ok := r.coord.History(o.Address); !ok || archived.SignalID != o.SignalID {
			if err := r.coord.ArchiveToHistory(o.Address); err != nil {
				log.Warn().Err(err).Str("address", o.Address).Msg("archive after backfill completion failed")
			}
		}
	}
	return nil
}

// collectObservations resolves historical prices for every checkpoint offset
// already elapsed, plus the window's ATH, so the tracker can replay them.
// Lookups for offsets still in the future are skipped entirely.
func (r *Runner) collectObservations(ctx context.Context, m ingest.Mention) []outcome.PriceObservation {
	now := r.clock()
	var obs []outcome.PriceObservation

	for _, spec := range bootstrap.SmartCheckpoints(m.Timestamp, now) {
		at := m.Timestamp.Add(spec.Offset)
		pd, err := r.prices.GetHistoricalPriceNear(ctx, m.Symbol, at, m.Address, m.Chain)
		if err != nil {
			log.Debug().Err(err).Str("address", m.Address).Str("checkpoint", spec.Label).Msg("checkpoint price lookup failed")
			continue
		}
		if pd == nil {
			continue
		}
		obs = append(obs, outcome.PriceObservation{Price: pd.Price, Timestamp: at})
	}

	ohlc, err := r.prices.GetForwardOHLCWithATH(ctx, m.Symbol, m.Timestamp, r.config.WindowDays, m.Address, m.Chain)
	if err != nil {
		log.Debug().Err(err).Str("address", m.Address).Msg("forward OHLC lookup failed")
		return obs
	}
	if ohlc != nil && ohlc.ATHPrice > 0 {
		obs = append(obs, outcome.PriceObservation{Price: ohlc.ATHPrice, Timestamp: ohlc.ATHTimestamp})
	}
	return obs
}
