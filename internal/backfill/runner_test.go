package backfill

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callrank/callrank/internal/bootstrap"
	"github.com/callrank/callrank/internal/ingest"
	"github.com/callrank/callrank/internal/oracle"
	"github.com/callrank/callrank/internal/outcome"
	"github.com/callrank/callrank/internal/roi"
	"github.com/callrank/callrank/internal/store"
)

var t0 = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

type env struct {
	runner   *Runner
	tracker  *outcome.Tracker
	coord    *bootstrap.Coordinator
	progress *bootstrap.ProgressStore
	prices   *oracle.MemoryOracle
	now      time.Time
}

func newEnv(t *testing.T, now time.Time) *env {
	t.Helper()
	dir := t.TempDir()
	tracker := outcome.NewTracker(store.NewOutcomeFile(filepath.Join(dir, "active.json")), nil)
	tracker.SetClock(func() time.Time { return now })
	coord := bootstrap.NewCoordinator(tracker, filepath.Join(dir, "completed.json"))
	progress := bootstrap.NewProgressStore(filepath.Join(dir, "progress.json"))
	prices := oracle.NewMemoryOracle()

	runner := NewRunner(tracker, coord, progress, prices, &Config{CheckpointEvery: 2, WindowDays: 30})
	runner.SetClock(func() time.Time { return now })
	return &env{runner: runner, tracker: tracker, coord: coord, progress: progress, prices: prices, now: now}
}

func seedSeries(prices *oracle.MemoryOracle, address string, entry time.Time) {
	prices.Seed(address, 1.0, entry)
	prices.Seed(address, 1.2, entry.Add(time.Hour))
	prices.Seed(address, 3.0, entry.Add(24*time.Hour))
	prices.Seed(address, 2.0, entry.Add(7*24*time.Hour))
	prices.Seed(address, 1.1, entry.Add(30*24*time.Hour))
}

func backfillMention(i int, address string, ts time.Time) ingest.Mention {
	return ingest.Mention{
		MessageID:   fmt.Sprintf("msg-%03d", i),
		ChannelName: "alpha-calls",
		Address:     address,
		Symbol:      "TKN",
		Chain:       "ethereum",
		Timestamp:   ts,
		MarketTier:  roi.TierSmall,
	}
}

func TestRun_OldMessagesCompleteAndArchive(t *testing.T) {
	now := t0.Add(60 * 24 * time.Hour)
	e := newEnv(t, now)
	seedSeries(e.prices, "0xaaa", t0)

	stats, err := e.runner.Run(context.Background(), "alpha-calls",
		[]ingest.Mention{backfillMention(1, "0xaaa", t0)})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, 1, stats.Tracked)
	assert.Equal(t, 1, stats.Completed)

	// Completed and archived: gone from active, present in history.
	_, active := e.tracker.Get("0xaaa")
	assert.False(t, active)
	archived, ok := e.coord.History("0xaaa")
	require.True(t, ok)
	assert.True(t, archived.IsComplete)
	assert.InDelta(t, 3.0, archived.ATHMultiplier, 1e-9)
	assert.True(t, archived.IsWinner)
	assert.Equal(t, roi.TrajectoryCrashed, archived.Trajectory)
}

func TestRun_RecentMessageStaysActive(t *testing.T) {
	entry := t0
	now := t0.Add(2 * 24 * time.Hour)
	e := newEnv(t, now)
	e.prices.Seed("0xbbb", 1.0, entry)
	e.prices.Seed("0xbbb", 1.5, entry.Add(24*time.Hour))

	stats, err := e.runner.Run(context.Background(), "alpha-calls",
		[]ingest.Mention{backfillMention(1, "0xbbb", entry)})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Tracked)
	assert.Equal(t, 0, stats.Completed)

	o, ok := e.tracker.Get("0xbbb")
	require.True(t, ok)
	assert.False(t, o.IsComplete)
	// Only elapsed checkpoints were populated.
	assert.True(t, o.Checkpoint("24h").Reached)
	assert.False(t, o.Checkpoint("7d").Reached)
}

func TestRun_NoHistoricalPriceSkips(t *testing.T) {
	e := newEnv(t, t0.Add(40*24*time.Hour))

	stats, err := e.runner.Run(context.Background(), "alpha-calls",
		[]ingest.Mention{backfillMention(1, "0xghost", t0)})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.NoPrice)
	assert.Equal(t, 0, stats.Tracked)
}

func TestRun_DuplicateSkipped(t *testing.T) {
	now := t0.Add(2 * 24 * time.Hour)
	e := newEnv(t, now)
	e.prices.Seed("0xccc", 1.0, t0)

	mentions := []ingest.Mention{
		backfillMention(1, "0xccc", t0),
		backfillMention(2, "0xccc", t0.Add(time.Hour)), // same address, still active
	}
	stats, err := e.runner.Run(context.Background(), "alpha-calls", mentions)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Tracked)
	assert.Equal(t, 1, stats.Duplicates)
}

func TestRun_FreshStartAfterCompletedRun(t *testing.T) {
	now := t0.Add(90 * 24 * time.Hour)
	e := newEnv(t, now)
	seedSeries(e.prices, "0xddd", t0)
	// Second mention window, 40 days later.
	second := t0.Add(40 * 24 * time.Hour)
	e.prices.Seed("0xddd", 0.5, second)
	e.prices.Seed("0xddd", 0.6, second.Add(24*time.Hour))

	mentions := []ingest.Mention{
		backfillMention(1, "0xddd", t0),
		backfillMention(2, "0xddd", second),
	}
	stats, err := e.runner.Run(context.Background(), "alpha-calls", mentions)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Tracked)
	assert.Equal(t, 1, stats.FreshStarts)
	assert.Equal(t, 2, stats.Completed)

	archived, ok := e.coord.History("0xddd")
	require.True(t, ok)
	assert.Equal(t, 2, archived.SignalNumber)
	assert.Len(t, archived.PreviousSignals, 1)
}

func TestRun_CompletionHookArchiveIsNotRepeated(t *testing.T) {
	now := t0.Add(60 * 24 * time.Hour)
	e := newEnv(t, now)
	seedSeries(e.prices, "0xaaa", t0)

	// Mirror the app wiring: a completion hook archives the signal before
	// the runner gets to it. The runner must not try a second archive.
	e.tracker.OnComplete(func(o *outcome.SignalOutcome) {
		require.NoError(t, e.coord.ArchiveToHistory(o.Address))
	})

	var logs bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&logs)
	t.Cleanup(func() { log.Logger = prev })

	stats, err := e.runner.Run(context.Background(), "alpha-calls",
		[]ingest.Mention{backfillMention(1, "0xaaa", t0)})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Completed)

	assert.NotContains(t, logs.String(), "archive after backfill completion failed")
	_, active := e.tracker.Get("0xaaa")
	assert.False(t, active)
	archived, ok := e.coord.History("0xaaa")
	require.True(t, ok)
	assert.True(t, archived.IsComplete)
}

func TestRun_ResumesFromProgressCheckpoint(t *testing.T) {
	now := t0.Add(2 * 24 * time.Hour)
	e := newEnv(t, now)
	e.prices.Seed("0xfff", 1.0, t0)

	// A previous run already handled msg-001.
	require.NoError(t, e.progress.Save(&bootstrap.BootstrapStatus{
		ChannelName:            "alpha-calls",
		TotalMessages:          2,
		ProcessedMessages:      1,
		LastProcessedMessageID: "msg-001",
		StartedAt:              t0,
	}))

	mentions := []ingest.Mention{
		backfillMention(1, "0xeee", t0), // would fail: no price seeded
		backfillMention(2, "0xfff", t0),
	}
	stats, err := e.runner.Run(context.Background(), "alpha-calls", mentions)
	require.NoError(t, err)

	// msg-001 was skipped entirely on resume.
	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, 0, stats.NoPrice)
	_, tracked := e.tracker.Get("0xfff")
	assert.True(t, tracked)
	_, tracked = e.tracker.Get("0xeee")
	assert.False(t, tracked)
}

func TestRun_ClearsProgressOnSuccess(t *testing.T) {
	now := t0.Add(2 * 24 * time.Hour)
	e := newEnv(t, now)
	e.prices.Seed("0xaaa", 1.0, t0)

	_, err := e.runner.Run(context.Background(), "alpha-calls",
		[]ingest.Mention{backfillMention(1, "0xaaa", t0)})
	require.NoError(t, err)

	status, err := e.progress.Load()
	require.NoError(t, err)
	assert.Nil(t, status)
}

func TestRun_InterruptSavesProgress(t *testing.T) {
	now := t0.Add(2 * 24 * time.Hour)
	e := newEnv(t, now)
	e.prices.Seed("0xaaa", 1.0, t0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.runner.Run(ctx, "alpha-calls",
		[]ingest.Mention{backfillMention(1, "0xaaa", t0)})
	assert.ErrorIs(t, err, context.Canceled)

	status, err := e.progress.Load()
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, "alpha-calls", status.ChannelName)
	assert.Equal(t, 0, status.ProcessedMessages)
}
