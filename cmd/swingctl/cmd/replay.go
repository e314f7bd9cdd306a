package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/mohamedkhairy/swing-detector/internal/replay"
	"github.com/mohamedkhairy/swing-detector/internal/storage"
	"github.com/mohamedkhairy/swing-detector/internal/swing"
	"github.com/spf13/cobra"
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a bar file through the swing detection engine",
	Long: `Replay bars from a CSV file (time,open,high,low,close[,volume]) through a
fresh engine and print the confirmed swings.

Examples:
  swingctl replay --file data/eurusd_h1.csv --instrument EURUSD --timeframe H1
  swingctl replay --file bars.csv --reverse-bars 5 --output json
  swingctl replay --file eurusd_h1.csv --timeframe H1 --resample D1
  swingctl replay --file bars.csv --profile profiles/wide.yaml --sqlite swings.db`,
	RunE: runReplay,
}

var (
	replayFile        string
	replayReverseBars int
	replayProfile     string
	replayOutput      string
	replayDBPath      string
	replaySeries      seriesFlags
)

func init() {
	rootCmd.AddCommand(replayCmd)

	replaySeries.register(replayCmd)
	replaySeries.registerResample(replayCmd)
	replayCmd.Flags().StringVarP(&replayFile, "file", "f", "", "CSV file of bars, - for stdin")
	replayCmd.Flags().IntVarP(&replayReverseBars, "reverse-bars", "n", 3, "reverse bars count; overrides the profile when set")
	replayCmd.Flags().StringVarP(&replayProfile, "profile", "p", "", "YAML engine profile")
	replayCmd.Flags().StringVarP(&replayOutput, "output", "o", outputTable, "output format: table, json or yaml")
	replayCmd.Flags().StringVar(&replayDBPath, "sqlite", "", "record the run and its swings in this SQLite file")
	_ = replayCmd.MarkFlagRequired("file")
}

func runReplay(cmd *cobra.Command, args []string) error {
	if err := validOutput(replayOutput); err != nil {
		return err
	}
	cfg := swing.DefaultConfig()
	if replayProfile != "" {
		var err error
		if cfg, err = replay.LoadProfile(replayProfile); err != nil {
			return err
		}
	}
	if replayProfile == "" || cmd.Flags().Changed("reverse-bars") {
		cfg.ReverseBarsCount = replayReverseBars
	}

	key, bars, err := replaySeries.load(replayFile)
	if err != nil {
		return err
	}

	res, err := replay.Run(key, bars, cfg)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}

	if replayDBPath != "" {
		if err := recordRun(cmd.Context(), replayDBPath, res); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if replayOutput != outputTable {
		return encode(out, replayOutput, res)
	}
	fmt.Fprintf(out, "%s  reverse bars %d  %d bars  %d swings  run %s\n\n",
		key, res.Config.ReverseBarsCount, res.Bars, len(res.Swings), res.RunID)
	return writeSwingTable(out, res.Swings)
}

func recordRun(ctx context.Context, path string, res *replay.Result) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	store, err := storage.NewSQLiteStore(path)
	if err != nil {
		return err
	}
	defer store.Close()

	run := storage.ReplayRun{
		ID:          res.RunID,
		Key:         res.Key,
		ReverseBars: res.Config.ReverseBarsCount,
		Source:      replayFile,
		Bars:        res.Bars,
		Swings:      len(res.Swings),
		StartedAt:   res.StartedAt,
		FinishedAt:  res.FinishedAt,
	}
	if err := store.RecordRun(ctx, run, res.Swings); err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	if err := store.SaveContext(ctx, res.Key, res.Context); err != nil {
		return fmt.Errorf("save context: %w", err)
	}
	return nil
}
