package cmd

import (
	"fmt"

	"github.com/mohamedkhairy/swing-detector/internal/models"
	"github.com/mohamedkhairy/swing-detector/internal/storage"
	"github.com/spf13/cobra"
)

var swingsCmd = &cobra.Command{
	Use:   "swings",
	Short: "Show swings or replay runs stored in SQLite",
	Long: `Show the swings recorded by "swingctl replay --sqlite" for one series, or
the list of replay runs with --runs.

Examples:
  swingctl swings --sqlite swings.db --instrument EURUSD --timeframe H1
  swingctl swings --sqlite swings.db --direction up --limit 20 --output yaml
  swingctl swings --sqlite swings.db --runs`,
	RunE: runSwings,
}

var (
	swingsDBPath    string
	swingsDirection string
	swingsLimit     int
	swingsRuns      bool
	swingsOutput    string
	swingsSeries    seriesFlags
)

func init() {
	rootCmd.AddCommand(swingsCmd)

	swingsSeries.register(swingsCmd)
	swingsCmd.Flags().StringVar(&swingsDBPath, "sqlite", "", "SQLite file written by replay")
	swingsCmd.Flags().StringVarP(&swingsDirection, "direction", "d", "", "only swings of this direction (up or down)")
	swingsCmd.Flags().IntVarP(&swingsLimit, "limit", "l", 0, "maximum number of swings, 0 for all")
	swingsCmd.Flags().BoolVar(&swingsRuns, "runs", false, "list replay runs instead of swings")
	swingsCmd.Flags().StringVarP(&swingsOutput, "output", "o", outputTable, "output format: table, json or yaml")
	_ = swingsCmd.MarkFlagRequired("sqlite")
}

func runSwings(cmd *cobra.Command, args []string) error {
	if err := validOutput(swingsOutput); err != nil {
		return err
	}
	key, err := swingsSeries.key()
	if err != nil {
		return err
	}

	store, err := storage.NewSQLiteStore(swingsDBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if swingsRuns {
		runs, err := store.ListRuns(ctx, key)
		if err != nil {
			return err
		}
		if swingsOutput != outputTable {
			return encode(out, swingsOutput, runs)
		}
		return writeRunTable(out, runs)
	}

	filter := storage.SwingFilter{Limit: swingsLimit}
	if swingsDirection != "" {
		if filter.Direction, err = models.ParseDirection(swingsDirection); err != nil {
			return err
		}
	}
	swings, err := store.GetSwings(ctx, key, filter)
	if err != nil {
		return err
	}
	if swingsOutput != outputTable {
		return encode(out, swingsOutput, swings)
	}
	if len(swings) == 0 {
		fmt.Fprintf(out, "no swings stored for %s\n", key)
		return nil
	}
	return writeSwingTable(out, swings)
}
