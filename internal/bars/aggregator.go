// Package bars rolls finalized bars of a fine timeframe up into a coarser
// one, so a single feed can drive detection on several timeframes.
package bars

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mohamedkhairy/swing-detector/internal/models"
	"github.com/mohamedkhairy/swing-detector/pkg/logger"
)

// Aggregator aggregates bars of a finer timeframe into bars of Target. One
// bucket is live per instrument; it is finalized when a bar of a later bucket
// arrives.
type Aggregator struct {
	target models.Timeframe

	mu         sync.Mutex
	liveBars   map[string]*models.Bar // instrument -> bar of the open bucket
	sources    map[string]models.Timeframe
	onBarFinal func(models.SeriesKey, models.Bar)
}

// NewAggregator creates an aggregator producing target bars
func NewAggregator(target models.Timeframe) (*Aggregator, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidTimeframe, target)
	}
	return &Aggregator{
		target:   target,
		liveBars: make(map[string]*models.Bar),
		sources:  make(map[string]models.Timeframe),
	}, nil
}

// Target returns the produced timeframe.
func (a *Aggregator) Target() models.Timeframe {
	return a.target
}

// SetOnBarFinal sets the callback run for each finalized bar. It is called
// synchronously, in bar order, without the aggregator lock held.
func (a *Aggregator) SetOnBarFinal(callback func(models.SeriesKey, models.Bar)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onBarFinal = callback
}

// ProcessBar adds a finalized bar of key to the live bucket of its
// instrument. It returns the bar of the previous bucket when bar opens a new
// one.
func (a *Aggregator) ProcessBar(key models.SeriesKey, bar models.Bar) (*models.Bar, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if !key.Timeframe.IsBefore(a.target) {
		return nil, fmt.Errorf("cannot aggregate %s into %s", key.Timeframe, a.target)
	}
	if err := bar.Validate(); err != nil {
		logger.Warn("Invalid bar, skipping",
			logger.ErrorField(err),
			logger.Series(key),
		)
		return nil, err
	}

	bucket := a.target.BucketStart(bar.Time)

	a.mu.Lock()
	if src, ok := a.sources[key.Instrument]; ok && src != key.Timeframe {
		a.mu.Unlock()
		return nil, fmt.Errorf("%s is already aggregated from %s", key.Instrument, src)
	}
	a.sources[key.Instrument] = key.Timeframe

	live, exists := a.liveBars[key.Instrument]
	if exists && bucket.Before(live.Time) {
		a.mu.Unlock()
		return nil, fmt.Errorf("bar at %s is older than the open %s bucket at %s",
			bar.Time, a.target, live.Time)
	}

	var finalized *models.Bar
	if exists && !live.Time.Equal(bucket) {
		done := *live
		finalized = &done
		exists = false
	}
	if !exists {
		live = &models.Bar{Time: bucket, Open: bar.Open, High: bar.High, Low: bar.Low}
		a.liveBars[key.Instrument] = live
	}
	update(live, bar)
	callback := a.onBarFinal
	a.mu.Unlock()

	if finalized != nil {
		logger.Debug("Bar finalized",
			logger.String("instrument", key.Instrument),
			logger.String("timeframe", string(a.target)),
			logger.Time("time", finalized.Time),
		)
		if callback != nil {
			callback(models.SeriesKey{Instrument: key.Instrument, Timeframe: a.target}, *finalized)
		}
	}
	return finalized, nil
}

func update(live *models.Bar, bar models.Bar) {
	if bar.High > live.High {
		live.High = bar.High
	}
	if bar.Low < live.Low {
		live.Low = bar.Low
	}
	live.Close = bar.Close
	live.Volume += bar.Volume
}

// GetLiveBar returns a copy of the open bucket of instrument
func (a *Aggregator) GetLiveBar(instrument string) *models.Bar {
	a.mu.Lock()
	defer a.mu.Unlock()

	live, exists := a.liveBars[instrument]
	if !exists {
		return nil
	}
	cp := *live
	return &cp
}

// FinalizeAllBars closes every open bucket, e.g. at the end of a file, and
// returns how many were closed. The callback sees them sorted by instrument.
func (a *Aggregator) FinalizeAllBars() int {
	a.mu.Lock()
	keys := make([]models.SeriesKey, 0, len(a.liveBars))
	finalized := make(map[models.SeriesKey]models.Bar, len(a.liveBars))
	for instrument, live := range a.liveBars {
		key := models.SeriesKey{Instrument: instrument, Timeframe: a.target}
		keys = append(keys, key)
		finalized[key] = *live
	}
	a.liveBars = make(map[string]*models.Bar)
	callback := a.onBarFinal
	a.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool { return keys[i].Instrument < keys[j].Instrument })
	if callback != nil {
		for _, key := range keys {
			callback(key, finalized[key])
		}
	}
	return len(keys)
}

// GetInstrumentCount returns the number of instruments with an open bucket
func (a *Aggregator) GetInstrumentCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.liveBars)
}

// Resample aggregates an ordered bar slice of key into target bars. The last,
// possibly incomplete, bucket is included.
func Resample(key models.SeriesKey, bars []models.Bar, target models.Timeframe) ([]models.Bar, error) {
	if key.Timeframe == target {
		return bars, nil
	}
	agg, err := NewAggregator(target)
	if err != nil {
		return nil, err
	}
	var out []models.Bar
	agg.SetOnBarFinal(func(_ models.SeriesKey, bar models.Bar) {
		out = append(out, bar)
	})
	for i, bar := range bars {
		if _, err := agg.ProcessBar(key, bar); err != nil {
			return nil, fmt.Errorf("bar %d: %w", i, err)
		}
	}
	agg.FinalizeAllBars()
	return out, nil
}
