// Package query answers swing lookups across timeframes of one instrument:
// neighbours of a time, extremes, nearest and most precise swings, and
// fibonacci retracements between the latest legs.
package query

import (
	"context"
	"time"

	"github.com/mohamedkhairy/swing-detector/internal/history"
	"github.com/mohamedkhairy/swing-detector/internal/models"
	"github.com/mohamedkhairy/swing-detector/internal/storage"
)

// Source serves swing lookups for a series. An unknown series has no swings.
type Source interface {
	Before(ctx context.Context, key models.SeriesKey, t time.Time, dir models.Direction) (*models.SwingPoint, error)
	After(ctx context.Context, key models.SeriesKey, t time.Time, dir models.Direction) (*models.SwingPoint, error)
	Between(ctx context.Context, key models.SeriesKey, from, to time.Time) ([]models.SwingPoint, error)
	Extremes(ctx context.Context, key models.SeriesKey) (highest, lowest *models.SwingPoint, err error)
}

// StoreSource reads swings from persistent storage.
type StoreSource struct {
	Store storage.SwingStorage
}

func (s StoreSource) Before(ctx context.Context, key models.SeriesKey, t time.Time, dir models.Direction) (*models.SwingPoint, error) {
	return s.Store.FindSwingBefore(ctx, key, t, dir)
}

func (s StoreSource) After(ctx context.Context, key models.SeriesKey, t time.Time, dir models.Direction) (*models.SwingPoint, error) {
	return s.Store.FindSwingAfter(ctx, key, t, dir)
}

func (s StoreSource) Between(ctx context.Context, key models.SeriesKey, from, to time.Time) ([]models.SwingPoint, error) {
	return s.Store.GetSwings(ctx, key, storage.SwingFilter{Start: from, End: to})
}

func (s StoreSource) Extremes(ctx context.Context, key models.SeriesKey) (*models.SwingPoint, *models.SwingPoint, error) {
	return s.Store.GetExtremeSwings(ctx, key)
}

// LoadFunc returns the swings of a series, oldest first, and false when the
// series is unknown.
type LoadFunc func(key models.SeriesKey) ([]models.SwingPoint, bool, error)

// SnapshotSource answers each lookup from a fresh copy of in-memory swings,
// such as those held by running series workers.
type SnapshotSource struct {
	Load LoadFunc
}

func (s SnapshotSource) swings(key models.SeriesKey) (*history.Swings, error) {
	all, ok, err := s.Load(key)
	if err != nil || !ok {
		return history.NewSwings(), err
	}
	return history.NewSwings(all...), nil
}

func (s SnapshotSource) Before(_ context.Context, key models.SeriesKey, t time.Time, dir models.Direction) (*models.SwingPoint, error) {
	sw, err := s.swings(key)
	if err != nil {
		return nil, err
	}
	return found(sw.Before(t, dir))
}

func (s SnapshotSource) After(_ context.Context, key models.SeriesKey, t time.Time, dir models.Direction) (*models.SwingPoint, error) {
	sw, err := s.swings(key)
	if err != nil {
		return nil, err
	}
	return found(sw.After(t, dir))
}

func (s SnapshotSource) Between(_ context.Context, key models.SeriesKey, from, to time.Time) ([]models.SwingPoint, error) {
	sw, err := s.swings(key)
	if err != nil {
		return nil, err
	}
	return sw.Between(from, to), nil
}

func (s SnapshotSource) Extremes(_ context.Context, key models.SeriesKey) (*models.SwingPoint, *models.SwingPoint, error) {
	sw, err := s.swings(key)
	if err != nil {
		return nil, nil, err
	}
	high, _ := found(sw.Highest())
	low, _ := found(sw.Lowest())
	return high, low, nil
}

func found(sw models.SwingPoint, ok bool) (*models.SwingPoint, error) {
	if !ok {
		return nil, nil
	}
	return &sw, nil
}
