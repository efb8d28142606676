package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/callrank/callrank/internal/backfill"
	"github.com/callrank/callrank/internal/bootstrap"
	"github.com/callrank/callrank/internal/config"
	"github.com/callrank/callrank/internal/ingest"
	"github.com/callrank/callrank/internal/metrics"
	"github.com/callrank/callrank/internal/oracle"
	"github.com/callrank/callrank/internal/outcome"
	"github.com/callrank/callrank/internal/report"
	"github.com/callrank/callrank/internal/reputation"
	"github.com/callrank/callrank/internal/roi"
	"github.com/callrank/callrank/internal/store"
	"github.com/callrank/callrank/internal/tdlearn"
)

// app holds the wired component graph shared by the subcommands.
type app struct {
	cfg      *config.Config
	tracker  *outcome.Tracker
	coord    *bootstrap.Coordinator
	engine   *reputation.Engine
	learning *tdlearn.Service
	prices   oracle.PriceOracle
	deadlist *oracle.StaticBlacklist
	pipeline *ingest.Pipeline
	progress *bootstrap.ProgressStore
	runner   *backfill.Runner
	csv      *report.CSVTable
	msgLog   *report.JSONLLog
	archive  *store.PostgresArchive
}

// buildApp wires storage, engines, oracle decorators, sinks, and completion
// hooks from the configuration. needOracle toggles whether a missing
// price_api is fatal; the reputation report command works without one.
func buildApp(ctx context.Context, cfg *config.Config, needOracle bool) (*app, error) {
	a := &app{cfg: cfg}

	calc := roi.NewCalculator(cfg.ROI)
	a.tracker = outcome.NewTracker(store.NewOutcomeFile(cfg.Paths.ActiveSignals), calc)
	a.coord = bootstrap.NewCoordinator(a.tracker, cfg.Paths.CompletedSignals)
	a.progress = bootstrap.NewProgressStore(cfg.Paths.BootstrapProgress)

	a.engine = reputation.NewEngine(
		reputation.NewCalculator(cfg.Reputation),
		store.NewReputationFile(cfg.Paths.Reputation),
		a.coord.CompletedForChannel,
	)
	a.learning = tdlearn.NewService(store.NewLearningFile(cfg.Paths.Learning), cfg.Learning.Alpha)

	if err := a.buildOracle(needOracle); err != nil {
		return nil, err
	}
	a.deadlist = oracle.NewStaticBlacklist(a.prices)

	csv, err := report.NewCSVTable(cfg.Paths.PerformanceCSV)
	if err != nil {
		return nil, fmt.Errorf("open performance table: %w", err)
	}
	a.csv = csv
	a.msgLog = report.NewJSONLLog(cfg.Paths.MessageLog)

	if cfg.Postgres.DSN != "" {
		archive, err := store.NewPostgresArchive(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect archive: %w", err)
		}
		a.archive = archive
	}

	if a.prices != nil {
		a.pipeline = ingest.NewPipeline(a.tracker, a.coord, a.prices, a.deadlist)
		a.runner = backfill.NewRunner(a.tracker, a.coord, a.progress, a.prices, cfg.Backfill)
	}

	a.tracker.OnComplete(a.onComplete)
	metrics.ActiveSignals.Set(float64(len(a.tracker.Active())))
	return a, nil
}

func (a *app) buildOracle(required bool) error {
	if a.cfg.PriceAPI == "" {
		if required {
			return fmt.Errorf("price_api is not configured")
		}
		return nil
	}

	var prices oracle.PriceOracle = oracle.NewHTTPOracle(a.cfg.PriceAPI)
	prices = oracle.NewResilientOracle(prices, a.cfg.Oracle)

	if a.cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		cached := oracle.NewCachedOracle(prices, client, a.cfg.Cache)
		cached.OnHit = func() { metrics.OracleCacheHits.Inc() }
		cached.OnMiss = func() { metrics.OracleCacheMisses.Inc() }
		prices = cached
	}

	a.prices = prices
	return nil
}

// onComplete fans a completed signal out to the learning, reputation,
// archival, and report layers. Runs outside the tracker lock.
func (a *app) onComplete(o *outcome.SignalOutcome) {
	metrics.SignalsCompleted.WithLabelValues(o.ChannelName, string(o.OutcomeCategory)).Inc()

	a.engine.HandleCompletion(o)
	a.learning.RecordOutcome(o)

	if rep, ok := a.engine.Reputation(o.ChannelName); ok {
		metrics.ReputationScore.WithLabelValues(o.ChannelName).Set(rep.ReputationScore)
	}

	if err := a.coord.ArchiveToHistory(o.Address); err != nil {
		log.Warn().Err(err).Str("address", o.Address).Msg("archive on completion failed")
	}
	metrics.ActiveSignals.Set(float64(len(a.tracker.Active())))

	if err := a.csv.Upsert(report.Snapshot(o)); err != nil {
		log.Warn().Err(err).Msg("performance table write failed")
	}
	if err := a.msgLog.Append(report.Snapshot(o)); err != nil {
		log.Warn().Err(err).Msg("message log append failed")
	}

	if a.archive != nil {
		ctx := context.Background()
		if err := a.archive.UpsertOutcome(ctx, o); err != nil {
			log.Warn().Err(err).Str("address", o.Address).Msg("postgres outcome upsert failed")
		}
		if rep, ok := a.engine.Reputation(o.ChannelName); ok {
			if err := a.archive.UpsertReputation(ctx, &rep); err != nil {
				log.Warn().Err(err).Str("channel", o.ChannelName).Msg("postgres reputation upsert failed")
			}
		}
	}
}

func (a *app) close() {
	if a.archive != nil {
		if err := a.archive.Close(); err != nil {
			log.Debug().Err(err).Msg("archive close failed")
		}
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagLogLevel == "" && cfg.LogLevel != "" {
		if err := setupLogging(cfg.LogLevel); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
