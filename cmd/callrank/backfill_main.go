package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/callrank/callrank/internal/ingest"
)

func newBackfillCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Bulk-process a channel's historical mentions",
		Long: `Replays an exported mention log (JSONL, one mention per line) through
the tracking engine using historical prices. Progress is checkpointed,
so an interrupted run resumes where it stopped.`,
		RunE: runBackfill,
	}
	cmd.Flags().String("channel", "", "Channel name to backfill")
	cmd.Flags().String("file", "", "Path to the exported mention log")
	cmd.MarkFlagRequired("channel")
	cmd.MarkFlagRequired("file")
	return cmd
}

func runBackfill(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	channel, _ := cmd.Flags().GetString("channel")
	file, _ := cmd.Flags().GetString("file")

	mentions, err := readMentionLog(file, channel)
	if err != nil {
		return err
	}
	if len(mentions) == 0 {
		log.Warn().Str("channel", channel).Msg("no mentions for channel in export, nothing to do")
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer app.close()

	stats, err := app.runner.Run(ctx, channel, mentions)
	if err != nil {
		return err
	}

	log.Info().
		Int("processed", stats.Processed).
		Int("tracked", stats.Tracked).
		Int("fresh_starts", stats.FreshStarts).
		Int("duplicates", stats.Duplicates).
		Int("no_price", stats.NoPrice).
		Int("completed", stats.Completed).
		Int("failed", stats.Failed).
		Msg("backfill summary")
	return nil
}

// readMentionLog loads the channel's mentions from a JSONL export, oldest
// first. Malformed lines are skipped with a warning.
func readMentionLog(path, channel string) ([]ingest.Mention, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mention log: %w", err)
	}
	defer f.Close()

	var mentions []ingest.Mention
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<20)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var m ingest.Mention
		if err := json.Unmarshal(scanner.Bytes(), &m); err != nil {
			log.Warn().Err(err).Int("line", line).Msg("skipping malformed mention line")
			continue
		}
		if m.ChannelName != channel {
			continue
		}
		mentions = append(mentions, m)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read mention log: %w", err)
	}

	sort.SliceStable(mentions, func(i, j int) bool {
		return mentions[i].Timestamp.Before(mentions[j].Timestamp)
	})
	return mentions, nil
}
