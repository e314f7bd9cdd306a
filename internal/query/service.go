package query

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/mohamedkhairy/swing-detector/internal/models"
)

var (
	// ErrNotEnoughSwings is returned when a retracement needs three swings
	// and fewer exist.
	ErrNotEnoughSwings = errors.New("not enough swings")
	// ErrFlatLeg is returned when the impulse leg has no price move.
	ErrFlatLeg = errors.New("impulse leg has no price move")
)

// Service runs swing lookups against a Source.
type Service struct {
	src Source
}

func NewService(src Source) *Service {
	return &Service{src: src}
}

// Before returns the latest swing strictly before t, or nil.
func (s *Service) Before(ctx context.Context, key models.SeriesKey, t time.Time, dir models.Direction) (*models.SwingPoint, error) {
	return s.src.Before(ctx, key, t, dir)
}

// After returns the earliest swing strictly after t, or nil.
func (s *Service) After(ctx context.Context, key models.SeriesKey, t time.Time, dir models.Direction) (*models.SwingPoint, error) {
	return s.src.After(ctx, key, t, dir)
}

// Extremes returns the highest and lowest swings of the series.
func (s *Service) Extremes(ctx context.Context, key models.SeriesKey) (highest, lowest *models.SwingPoint, err error) {
	return s.src.Extremes(ctx, key)
}

// Nearest finds the swing of direction dir priced closest to price within
// one bar of the next coarser timeframe around t. When the series has none,
// the search repeats on each finer timeframe of the instrument with the same
// window. Returns nil when no timeframe has a candidate.
func (s *Service) Nearest(ctx context.Context, key models.SeriesKey, t time.Time, price float64, dir models.Direction) (*models.SwingPoint, error) {
	upper, ok := key.Timeframe.Next()
	if !ok {
		upper = key.Timeframe
	}
	window := minutes(upper.Minutes())
	from, to := t.Add(-window), t.Add(window)

	for tf, ok := key.Timeframe, true; ok; tf, ok = tf.Prev() {
		best, err := s.closest(ctx, models.SeriesKey{Instrument: key.Instrument, Timeframe: tf}, from, to, price, dir)
		if err != nil {
			return nil, err
		}
		if best != nil {
			return best, nil
		}
	}
	return nil, nil
}

// Precise refines sw through finer timeframes: on each one it takes the
// same direction swing closest in price to the current match within one bar
// of that timeframe around sw.Time. It stops at the first timeframe without
// a candidate and returns the last match, sw itself when none.
func (s *Service) Precise(ctx context.Context, key models.SeriesKey, sw models.SwingPoint) (models.SwingPoint, error) {
	current := sw
	for tf, ok := sw.Timeframe.Prev(); ok; tf, ok = tf.Prev() {
		window := minutes(tf.Minutes())
		best, err := s.closest(ctx, models.SeriesKey{Instrument: key.Instrument, Timeframe: tf},
			sw.Time.Add(-window), sw.Time.Add(window), current.Price, sw.Direction)
		if err != nil {
			return sw, err
		}
		if best == nil {
			break
		}
		current = *best
	}
	return current, nil
}

// Nearby walks steps times two swings forward and two swings back from
// center and returns every landing swing, oldest first. center is included
// when withCenter is set.
func (s *Service) Nearby(ctx context.Context, key models.SeriesKey, center models.SwingPoint, steps int, withCenter bool) ([]models.SwingPoint, error) {
	var out []models.SwingPoint
	if withCenter {
		out = append(out, center)
	}

	hop := func(from *models.SwingPoint, next func(context.Context, models.SeriesKey, time.Time, models.Direction) (*models.SwingPoint, error)) (*models.SwingPoint, error) {
		for i := 0; i < 2 && from != nil; i++ {
			var err error
			if from, err = next(ctx, key, from.Time, ""); err != nil {
				return nil, err
			}
		}
		return from, nil
	}

	high, low := &center, &center
	for i := 0; i < steps && (high != nil || low != nil); i++ {
		var err error
		if high, err = hop(high, s.src.After); err != nil {
			return nil, err
		}
		if high != nil {
			out = append(out, *high)
		}
		if low, err = hop(low, s.src.Before); err != nil {
			return nil, err
		}
		if low != nil {
			out = append(out, *low)
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

// Retracement relates the last two legs ending at or before at.
type Retracement struct {
	Impulse    models.SwingPair  `json:"impulse"`
	Correction models.SwingPair  `json:"correction"`
	PriceRatio float64           `json:"price_ratio"`
	TimeRatio  float64           `json:"time_ratio"`
	Level      *models.FiboLevel `json:"level,omitempty"`
}

// Retracement measures the correction leg of the last three swings at or
// before at against the impulse leg, and matches the price ratio to the
// first of levels within maxErr.
func (s *Service) Retracement(ctx context.Context, key models.SeriesKey, at time.Time, maxErr float64, levels []models.FiboLevel) (*Retracement, error) {
	var legs [3]models.SwingPoint
	cursor := at.Add(time.Nanosecond)
	for i := len(legs) - 1; i >= 0; i-- {
		sw, err := s.src.Before(ctx, key, cursor, "")
		if err != nil {
			return nil, err
		}
		if sw == nil {
			return nil, fmt.Errorf("%w: need 3 before %s", ErrNotEnoughSwings, at.Format(time.RFC3339))
		}
		legs[i] = *sw
		cursor = sw.Time
	}

	r := &Retracement{
		Impulse:    models.SwingPair{First: legs[0], Second: legs[1]},
		Correction: models.SwingPair{First: legs[1], Second: legs[2]},
	}
	ratio, ok := r.Impulse.PriceRatio(r.Correction)
	if !ok {
		return nil, ErrFlatLeg
	}
	r.PriceRatio = ratio
	r.TimeRatio, _ = r.Impulse.TimeRatio(r.Correction)
	if level, ok := models.MatchFibo(ratio, maxErr, levels); ok {
		r.Level = &level
	}
	return r, nil
}

// closest returns the swing of direction dir in [from, to] priced closest
// to price, the earliest on ties.
func (s *Service) closest(ctx context.Context, key models.SeriesKey, from, to time.Time, price float64, dir models.Direction) (*models.SwingPoint, error) {
	swings, err := s.src.Between(ctx, key, from, to)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(swings, func(i, j int) bool { return swings[i].Time.Before(swings[j].Time) })

	var best *models.SwingPoint
	for i := range swings {
		if swings[i].Direction != dir {
			continue
		}
		if best == nil || math.Abs(swings[i].Price-price) < math.Abs(best.Price-price) {
			best = &swings[i]
		}
	}
	return best, nil
}

func minutes(n int) time.Duration {
	return time.Duration(n) * time.Minute
}
