package cmd

import (
	"fmt"
	"time"

	"github.com/mohamedkhairy/swing-detector/internal/config"
	"github.com/mohamedkhairy/swing-detector/internal/pubsub"
	"github.com/mohamedkhairy/swing-detector/pkg/logger"
	"github.com/spf13/cobra"
)

var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Publish a bar file to the detector's Redis bar stream",
	Long: `Publish bars from a CSV file to the bar stream consumed by swingd. Redis
and stream settings come from the same environment variables (or .env file)
as the service, so bars land on the partition stream owned by the right
worker when DETECTOR_WORKER_COUNT > 1.

Example:
  swingctl feed --file data/eurusd_h1.csv --instrument EURUSD --timeframe H1`,
	RunE: runFeed,
}

var (
	feedFile   string
	feedPace   time.Duration
	feedSeries seriesFlags
)

func init() {
	rootCmd.AddCommand(feedCmd)

	feedSeries.register(feedCmd)
	feedSeries.registerResample(feedCmd)
	feedCmd.Flags().StringVarP(&feedFile, "file", "f", "", "CSV file of bars, - for stdin")
	feedCmd.Flags().DurationVar(&feedPace, "pace", 0, "delay between bars")
	_ = feedCmd.MarkFlagRequired("file")
}

func runFeed(cmd *cobra.Command, args []string) error {
	key, bars, err := feedSeries.load(feedFile)
	if err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	redisClient, err := pubsub.NewRedisClient(cfg.Redis)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	pubConfig := pubsub.DefaultPublisherConfig(cfg.Detector.BarStream)
	if cfg.Detector.WorkerCount > 1 {
		pubConfig.Partitions = cfg.Detector.WorkerCount
	}
	publisher := pubsub.NewBarPublisher(redisClient, pubConfig)

	ctx := cmd.Context()
	for i, bar := range bars {
		if err := publisher.PublishBar(ctx, key, bar); err != nil {
			return fmt.Errorf("bar %d: %w", i, err)
		}
		if feedPace > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(feedPace):
			}
		}
	}

	logger.Info("Published bars",
		logger.Series(key),
		logger.Int("bars", len(bars)),
		logger.String("stream", cfg.Detector.BarStream),
	)
	fmt.Fprintf(cmd.OutOrStdout(), "published %d bars of %s\n", len(bars), key)
	return nil
}
