package bars

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/mohamedkhairy/swing-detector/internal/models"
)

// WalkConfig parameterizes a synthetic random-walk series
type WalkConfig struct {
	Seed       int64
	Timeframe  models.Timeframe
	Start      time.Time
	Count      int
	StartPrice float64
	// Volatility is the standard deviation of the close-to-close move.
	Volatility float64
}

// DefaultWalkConfig returns 500 H1 bars starting at 100
func DefaultWalkConfig() WalkConfig {
	return WalkConfig{
		Seed:       1,
		Timeframe:  models.TimeframeH1,
		Start:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Count:      500,
		StartPrice: 100,
		Volatility: 1,
	}
}

// RandomWalk generates a reproducible bar series for demos and load tests.
// The same config always yields the same bars. Prices never drop below one
// tenth of StartPrice.
func RandomWalk(cfg WalkConfig) ([]models.Bar, error) {
	if !cfg.Timeframe.Valid() {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidTimeframe, cfg.Timeframe)
	}
	if cfg.Count < 1 || cfg.StartPrice <= 0 || cfg.Volatility < 0 {
		return nil, fmt.Errorf("count, start price and volatility must be positive")
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	floor := cfg.StartPrice / 10
	price := cfg.StartPrice
	t := cfg.Timeframe.BucketStart(cfg.Start)

	out := make([]models.Bar, 0, cfg.Count)
	for i := 0; i < cfg.Count; i++ {
		open := price
		closePrice := math.Max(floor, open+rng.NormFloat64()*cfg.Volatility)
		wick := cfg.Volatility / 2
		out = append(out, models.Bar{
			Time:   t,
			Open:   open,
			High:   math.Max(open, closePrice) + rng.Float64()*wick,
			Low:    math.Max(floor, math.Min(open, closePrice)-rng.Float64()*wick),
			Close:  closePrice,
			Volume: int64(rng.Intn(1000) + 100),
		})
		price = closePrice
		t = cfg.Timeframe.NextBucket(t)
	}
	return out, nil
}
