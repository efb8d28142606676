package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/callrank/callrank/internal/ingest"
)

func newTrackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "track",
		Short: "Run the live tracking loop",
		Long: `Consumes the mention feed, opens a tracked signal per new token call,
and polls prices for every active signal on the configured schedule.
Runs until interrupted.`,
		RunE: runTrack,
	}
	return cmd
}

func runTrack(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer app.close()

	scheduler := cron.New()
	_, err = scheduler.AddFunc(cfg.PollSchedule, func() {
		pollCtx, cancel := context.WithTimeout(ctx, cfg.PollTimeout)
		defer cancel()
		app.pipeline.PollPrices(pollCtx)
	})
	if err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()
	log.Info().Str("schedule", cfg.PollSchedule).Msg("price polling scheduled")

	if cfg.MentionFeed == "" {
		log.Warn().Msg("no mention feed configured, polling existing signals only")
		<-ctx.Done()
		return nil
	}

	src := ingest.NewWSSource(cfg.MentionFeed)
	if err := app.pipeline.Run(ctx, src); err != nil && ctx.Err() == nil {
		return err
	}
	log.Info().Msg("tracking loop stopped")
	return nil
}
