package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/mohamedkhairy/swing-detector/internal/bars"
	"github.com/mohamedkhairy/swing-detector/internal/models"
	"github.com/mohamedkhairy/swing-detector/internal/replay"
	"github.com/mohamedkhairy/swing-detector/pkg/logger"
	"github.com/spf13/cobra"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "swingctl",
	Short: "Offline tooling for the swing detector",
	Long: `swingctl replays bar files through the swing detection engine, inspects
replay results stored in SQLite and feeds bar files into the detector's
Redis bar stream.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logger.Init(logLevel, "development", "swingctl")
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
}

// seriesFlags are shared by every command that targets one series.
type seriesFlags struct {
	instrument string
	timeframe  string
	resample   string
}

func (f *seriesFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.instrument, "instrument", "i", "EURUSD", "instrument symbol")
	cmd.Flags().StringVarP(&f.timeframe, "timeframe", "t", "H1", "timeframe code (M5 ... Y1)")
}

func (f *seriesFlags) registerResample(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.resample, "resample", "", "aggregate the file's bars into this coarser timeframe first")
}

// load reads the bar file of the series, resampled when requested, and
// returns the key the bars belong to.
func (f *seriesFlags) load(path string) (models.SeriesKey, []models.Bar, error) {
	key, err := f.key()
	if err != nil {
		return key, nil, err
	}
	in, err := openInput(path)
	if err != nil {
		return key, nil, err
	}
	defer in.Close()
	series, err := replay.ReadCSV(in)
	if err != nil {
		return key, nil, fmt.Errorf("read %s: %w", path, err)
	}
	if f.resample == "" {
		return key, series, nil
	}

	target, err := models.ParseTimeframe(f.resample)
	if err != nil {
		return key, nil, err
	}
	if series, err = bars.Resample(key, series, target); err != nil {
		return key, nil, fmt.Errorf("resample to %s: %w", target, err)
	}
	key.Timeframe = target
	return key, series, nil
}

func (f *seriesFlags) key() (models.SeriesKey, error) {
	tf, err := models.ParseTimeframe(f.timeframe)
	if err != nil {
		return models.SeriesKey{}, err
	}
	return models.NewSeriesKey(f.instrument, tf)
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open bars: %w", err)
	}
	return f, nil
}
