package storage

import (
	"context"
	"errors"
	"time"

	"github.com/mohamedkhairy/swing-detector/internal/models"
	"github.com/mohamedkhairy/swing-detector/internal/swing"
)

var (
	// ErrContextNotFound is returned when no checkpoint matches.
	ErrContextNotFound = errors.New("detection context not found")
	// ErrNotImplemented marks operations a backend does not support.
	ErrNotImplemented = swing.ErrNotImplemented
)

// BarStorage defines the interface for bar storage operations
type BarStorage interface {
	// WriteBars writes finalized bars of one series
	WriteBars(ctx context.Context, key models.SeriesKey, bars []models.Bar) error

	// GetBars retrieves bars within [start, end], oldest first
	GetBars(ctx context.Context, key models.SeriesKey, start, end time.Time) ([]models.Bar, error)

	// GetLatestBars retrieves the latest N bars, oldest first
	GetLatestBars(ctx context.Context, key models.SeriesKey, limit int) ([]models.Bar, error)

	Close() error
}

// SwingStorage defines the interface for swing storage operations
type SwingStorage interface {
	// WriteSwings stores swings; writing an existing (time, direction) again
	// replaces it
	WriteSwings(ctx context.Context, key models.SeriesKey, swings []models.SwingPoint) error

	// GetSwings retrieves swings matching filter, oldest first
	GetSwings(ctx context.Context, key models.SeriesKey, filter SwingFilter) ([]models.SwingPoint, error)

	// GetLatestSwings retrieves the latest N swings, oldest first
	GetLatestSwings(ctx context.Context, key models.SeriesKey, limit int) ([]models.SwingPoint, error)

	// FindSwingBefore returns the latest swing with time strictly before t,
	// of direction dir when dir is set, or nil
	FindSwingBefore(ctx context.Context, key models.SeriesKey, t time.Time, dir models.Direction) (*models.SwingPoint, error)

	// FindSwingAfter returns the earliest swing with time strictly after t,
	// of direction dir when dir is set, or nil
	FindSwingAfter(ctx context.Context, key models.SeriesKey, t time.Time, dir models.Direction) (*models.SwingPoint, error)

	// GetExtremeSwings returns the highest and lowest priced swings, the
	// earliest on ties. Both are nil for a series without swings.
	GetExtremeSwings(ctx context.Context, key models.SeriesKey) (highest, lowest *models.SwingPoint, err error)

	// DeleteSwingsAfter removes swings confirmed strictly after t
	DeleteSwingsAfter(ctx context.Context, key models.SeriesKey, t time.Time) (int64, error)

	Close() error
}

// SwingFilter defines filtering options for swing queries
type SwingFilter struct {
	Start     time.Time
	End       time.Time
	Direction models.Direction
	Limit     int
	Offset    int
}

// Match reports whether sw passes the time and direction criteria.
func (f SwingFilter) Match(sw models.SwingPoint) bool {
	if !f.Start.IsZero() && sw.Time.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && sw.Time.After(f.End) {
		return false
	}
	return f.Direction == "" || sw.Direction == f.Direction
}

// ContextStorage persists detection context checkpoints.
type ContextStorage interface {
	// LoadContext returns the most recent checkpoint or ErrContextNotFound
	LoadContext(ctx context.Context, key models.SeriesKey) (*swing.DetectionContext, error)
	SaveContext(ctx context.Context, key models.SeriesKey, c *swing.DetectionContext) error
}

// ContextHistory is implemented by stores that keep older checkpoints, which
// makes rollback possible.
type ContextHistory interface {
	ContextStorage

	// LoadContextBefore returns the latest checkpoint whose last bar is
	// strictly before t, or ErrContextNotFound
	LoadContextBefore(ctx context.Context, key models.SeriesKey, t time.Time) (*swing.DetectionContext, error)

	// DeleteContextsAfter removes checkpoints whose last bar is strictly after t
	DeleteContextsAfter(ctx context.Context, key models.SeriesKey, t time.Time) error
}

// RedisClient defines the interface for Redis operations
type RedisClient interface {
	// Stream operations
	PublishToStream(ctx context.Context, stream string, key string, value interface{}) error
	ConsumeFromStream(ctx context.Context, stream string, group string, consumer string) (<-chan StreamMessage, error)
	AcknowledgeMessage(ctx context.Context, stream string, group string, id string) error

	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Sorted set operations. Members are stored as JSON; score bounds use the
	// Redis syntax ("-inf", "+inf", "(123" for exclusive).
	ZAddJSON(ctx context.Context, key string, score float64, value interface{}) error
	ZRevRangeByScore(ctx context.Context, key string, max string, limit int64) ([]string, error)
	ZRemRangeByScore(ctx context.Context, key string, min, max string) error
	ZRemRangeByRank(ctx context.Context, key string, start, stop int64) error

	// Pub/Sub operations
	Publish(ctx context.Context, channel string, message interface{}) error

	Close() error
}

// StreamMessage represents a message from a Redis stream
type StreamMessage struct {
	ID     string
	Stream string
	Values map[string]interface{}
}
