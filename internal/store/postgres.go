package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/callrank/callrank/internal/outcome"
	"github.com/callrank/callrank/internal/reputation"
)

// PostgresArchive is an optional durable sink for completed outcomes and
// reputation snapshots, upserted by key. The JSON file stores remain the
// source of truth; this exists for downstream query/reporting consumers.
type PostgresArchive struct {
	db *sqlx.DB
}

const archiveSchema = `
CREATE TABLE IF NOT EXISTS completed_signals (
	address          TEXT PRIMARY KEY,
	signal_id        TEXT NOT NULL,
	channel_name     TEXT NOT NULL,
	symbol           TEXT NOT NULL,
	entry_price      DOUBLE PRECISION NOT NULL,
	entry_ts         TIMESTAMPTZ NOT NULL,
	ath_multiplier   DOUBLE PRECISION NOT NULL,
	days_to_ath      DOUBLE PRECISION NOT NULL,
	day7_multiplier  DOUBLE PRECISION,
	day30_multiplier DOUBLE PRECISION,
	trajectory       TEXT,
	peak_timing      TEXT,
	signal_number    INT NOT NULL,
	is_winner        BOOLEAN NOT NULL,
	category         TEXT NOT NULL,
	completed_at     TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS channel_reputation (
	channel_name     TEXT PRIMARY KEY,
	total_signals    INT NOT NULL,
	win_rate         DOUBLE PRECISION NOT NULL,
	avg_roi          DOUBLE PRECISION NOT NULL,
	sharpe_ratio     DOUBLE PRECISION NOT NULL,
	speed_score      DOUBLE PRECISION NOT NULL,
	reputation_score DOUBLE PRECISION NOT NULL,
	reputation_tier  TEXT NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL
);
`

// NewPostgresArchive connects to dsn and ensures the archive schema exists.
func NewPostgresArchive(ctx context.Context, dsn string) (*PostgresArchive, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, archiveSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure archive schema: %w", err)
	}
	return &PostgresArchive{db: db}, nil
}

// Close releases the connection pool.
func (a *PostgresArchive) Close() error { return a.db.Close() }

// UpsertOutcome writes a completed signal keyed by address.
func (a *PostgresArchive) UpsertOutcome(ctx context.Context, o *outcome.SignalOutcome) error {
	if !o.IsComplete {
		return fmt.Errorf("upsert outcome %s: signal still in progress", o.Address)
	}
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO completed_signals (
			address, signal_id, channel_name, symbol, entry_price, entry_ts,
			ath_multiplier, days_to_ath, day7_multiplier, day30_multiplier,
			trajectory, peak_timing, signal_number, is_winner, category, completed_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (address) DO UPDATE SET
			signal_id = EXCLUDED.signal_id,
			channel_name = EXCLUDED.channel_name,
			symbol = EXCLUDED.symbol,
			entry_price = EXCLUDED.entry_price,
			entry_ts = EXCLUDED.entry_ts,
			ath_multiplier = EXCLUDED.ath_multiplier,
			days_to_ath = EXCLUDED.days_to_ath,
			day7_multiplier = EXCLUDED.day7_multiplier,
			day30_multiplier = EXCLUDED.day30_multiplier,
			trajectory = EXCLUDED.trajectory,
			peak_timing = EXCLUDED.peak_timing,
			signal_number = EXCLUDED.signal_number,
			is_winner = EXCLUDED.is_winner,
			category = EXCLUDED.category,
			completed_at = EXCLUDED.completed_at`,
		o.Address, o.SignalID, o.ChannelName, o.Symbol, o.EntryPrice, o.EntryTimestamp,
		o.ATHMultiplier, o.DaysToATH, o.Day7Multiplier, o.Day30Multiplier,
		string(o.Trajectory), string(o.PeakTiming), o.SignalNumber, o.IsWinner,
		string(o.OutcomeCategory), o.CompletedAt)
	if err != nil {
		return fmt.Errorf("upsert outcome %s: %w", o.Address, err)
	}
	return nil
}

// UpsertReputation writes a reputation snapshot keyed by channel.
func (a *PostgresArchive) UpsertReputation(ctx context.Context, r *reputation.ChannelReputation) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO channel_reputation (
			channel_name, total_signals, win_rate, avg_roi, sharpe_ratio,
			speed_score, reputation_score, reputation_tier, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (channel_name) DO UPDATE SET
			total_signals = EXCLUDED.total_signals,
			win_rate = EXCLUDED.win_rate,
			avg_roi = EXCLUDED.avg_roi,
			sharpe_ratio = EXCLUDED.sharpe_ratio,
			speed_score = EXCLUDED.speed_score,
			reputation_score = EXCLUDED.reputation_score,
			reputation_tier = EXCLUDED.reputation_tier,
			updated_at = EXCLUDED.updated_at`,
		r.ChannelName, r.TotalSignals, r.WinRate, r.AvgROI, r.SharpeRatio,
		r.SpeedScore, r.ReputationScore, r.ReputationTier, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert reputation %s: %w", r.ChannelName, err)
	}
	return nil
}
