package detector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mohamedkhairy/swing-detector/internal/models"
	"github.com/mohamedkhairy/swing-detector/internal/storage"
	"github.com/mohamedkhairy/swing-detector/pkg/logger"
)

// endOfTime bounds open-ended bar queries.
var endOfTime = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

// RehydrationConfig holds configuration for worker rehydration
type RehydrationConfig struct {
	ReverseBarsCount int           // checkpoints taken with another value are ignored
	HistoryCapacity  int           // bars loaded behind the checkpoint
	SwingPreload     int           // latest stored swings loaded into memory
	Timeout          time.Duration // per series
}

// DefaultRehydrationConfig returns default configuration
func DefaultRehydrationConfig() RehydrationConfig {
	return RehydrationConfig{
		ReverseBarsCount: 3,
		HistoryCapacity:  500,
		SwingPreload:     10,
		Timeout:          30 * time.Second,
	}
}

// Rehydrator rebuilds worker state from the durable stores on startup
type Rehydrator struct {
	config   RehydrationConfig
	contexts storage.ContextStorage
	bars     storage.BarStorage
	swings   storage.SwingStorage
}

// NewRehydrator creates a new rehydrator. Any store may be nil.
func NewRehydrator(config RehydrationConfig, contexts storage.ContextStorage, bars storage.BarStorage, swings storage.SwingStorage) *Rehydrator {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &Rehydrator{
		config:   config,
		contexts: contexts,
		bars:     bars,
		swings:   swings,
	}
}

// Seed loads the latest checkpoint of key with the bars behind it and the
// stored bars after it. A missing or unusable checkpoint yields a fresh seed.
func (r *Rehydrator) Seed(ctx context.Context, key models.SeriesKey) (*Seed, error) {
	if r.contexts == nil {
		return &Seed{}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	ck, err := r.contexts.LoadContext(ctx, key)
	if errors.Is(err, storage.ErrContextNotFound) {
		logger.Debug("No checkpoint, starting fresh", logger.Series(key))
		return &Seed{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if ck.ReverseBarsCount != r.config.ReverseBarsCount {
		logger.Warn("Checkpoint taken with another reverse bars count, starting fresh",
			logger.Series(key),
			logger.Int("checkpoint", ck.ReverseBarsCount),
			logger.Int("configured", r.config.ReverseBarsCount),
		)
		return &Seed{}, nil
	}
	if r.bars == nil {
		logger.Warn("No bar store to rebuild history, starting fresh", logger.Series(key))
		return &Seed{}, nil
	}

	pre, post, err := loadWindow(ctx, r.bars, key, ck.LastBarTime, r.config.HistoryCapacity)
	if err != nil {
		return nil, err
	}
	if len(pre) == 0 || !pre[len(pre)-1].Time.Equal(ck.LastBarTime) {
		logger.Warn("Stored bars do not reach the checkpoint, starting fresh",
			logger.Series(key),
			logger.Time("checkpoint", ck.LastBarTime),
			logger.Int("bar_count", len(pre)),
		)
		return &Seed{}, nil
	}

	seed := &Seed{Context: ck, Bars: pre, Pending: post}
	if r.swings != nil && r.config.SwingPreload > 0 {
		swings, err := r.swings.GetLatestSwings(ctx, key, r.config.SwingPreload)
		if err != nil {
			return nil, fmt.Errorf("failed to load swings: %w", err)
		}
		seed.Swings = confirmedBy(swings, ck.LastBarTime)
	}

	logger.Info("Rehydrated series",
		logger.Series(key),
		logger.Time("checkpoint", ck.LastBarTime),
		logger.Int64("version", ck.Version),
		logger.Int("history", len(pre)),
		logger.Int("pending", len(post)),
		logger.Int("swings", len(seed.Swings)),
	)
	return seed, nil
}

// loadWindow returns up to capacity stored bars at or before from, and every
// stored bar after it. A zero from returns no window and all bars.
func loadWindow(ctx context.Context, bars storage.BarStorage, key models.SeriesKey, from time.Time, capacity int) (pre, post []models.Bar, err error) {
	if !from.IsZero() {
		pre, err = bars.GetBars(ctx, key, time.Time{}, from)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load history: %w", err)
		}
		if capacity > 0 && len(pre) > capacity {
			pre = pre[len(pre)-capacity:]
		}
	}
	post, err = bars.GetBars(ctx, key, from.Add(time.Nanosecond), endOfTime)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load bars after %s: %w", from.Format(time.RFC3339), err)
	}
	return pre, post, nil
}

// confirmedBy keeps swings confirmed at or before t.
func confirmedBy(swings []models.SwingPoint, t time.Time) []models.SwingPoint {
	out := swings[:0:0]
	for _, sw := range swings {
		if !sw.Confirmed().After(t) {
			out = append(out, sw)
		}
	}
	return out
}
