package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/callrank/callrank/internal/report"
	"github.com/callrank/callrank/internal/reputation"
)

func newReputationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reputation [channel]",
		Short: "Print channel reputation rankings",
		Long: `Prints the stored reputation for every channel, ranked by composite
score, or the full detail for one channel.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runReputation,
	}
	cmd.Flags().Bool("json", false, "Emit JSON instead of a table")
	cmd.Flags().String("snapshot", "", "Also write a snapshot file to this path")
	return cmd
}

func runReputation(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	app, err := buildApp(cmd.Context(), cfg, false)
	if err != nil {
		return err
	}
	defer app.close()

	asJSON, _ := cmd.Flags().GetBool("json")
	snapshotPath, _ := cmd.Flags().GetString("snapshot")

	if len(args) == 1 {
		rep, ok := app.engine.Reputation(args[0])
		if !ok {
			return fmt.Errorf("no reputation recorded for channel %q", args[0])
		}
		return printOne(rep, asJSON)
	}

	reps := app.engine.All()
	sort.Slice(reps, func(i, j int) bool { return reps[i].ReputationScore > reps[j].ReputationScore })

	if snapshotPath != "" {
		byName := make(map[string]*reputation.ChannelReputation, len(reps))
		for i := range reps {
			byName[reps[i].ChannelName] = &reps[i]
		}
		if err := report.WriteReputationSnapshot(snapshotPath, byName); err != nil {
			return fmt.Errorf("write snapshot: %w", err)
		}
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(reps)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tCHANNEL\tTIER\tSCORE\tSIGNALS\tWIN RATE\tAVG ROI\tSHARPE")
	for i, rep := range reps {
		fmt.Fprintf(w, "%d\t%s\t%s\t%.1f\t%d\t%.1f%%\t%.2fx\t%.2f\n",
			i+1, rep.ChannelName, rep.ReputationTier, rep.ReputationScore,
			rep.TotalSignals, rep.WinRate*100, rep.AvgROI, rep.SharpeRatio)
	}
	return w.Flush()
}

func printOne(rep reputation.ChannelReputation, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}

	fmt.Printf("Channel:      %s\n", rep.ChannelName)
	fmt.Printf("Tier:         %s (score %.1f)\n", rep.ReputationTier, rep.ReputationScore)
	fmt.Printf("Signals:      %d (%d winners, %d losers, %d neutral)\n",
		rep.TotalSignals, rep.Winners, rep.Losers, rep.Neutral)
	fmt.Printf("Win rate:     %.1f%%\n", rep.WinRate*100)
	fmt.Printf("ROI:          avg %.2fx, median %.2fx, best %.2fx, worst %.2fx\n",
		rep.AvgROI, rep.MedianROI, rep.BestROI, rep.WorstROI)
	fmt.Printf("Sharpe:       %.2f (stddev %.2f)\n", rep.SharpeRatio, rep.StdDev)
	fmt.Printf("Speed score:  %.2f\n", rep.SpeedScore)
	fmt.Printf("Avg days to ATH: %.1f, recommended hold: %.0f days\n",
		rep.Timing.AvgDaysToATH, rep.Timing.RecommendedHoldDays)
	return nil
}
