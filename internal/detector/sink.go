package detector

import (
	"context"
	"errors"

	"github.com/mohamedkhairy/swing-detector/internal/models"
	"github.com/mohamedkhairy/swing-detector/internal/pubsub"
	"github.com/mohamedkhairy/swing-detector/internal/storage"
	"github.com/mohamedkhairy/swing-detector/internal/swing"
)

// SwingSink receives every swing a worker confirms.
type SwingSink interface {
	HandleSwing(ctx context.Context, key models.SeriesKey, sw models.SwingPoint, cause swing.Cause) error
}

// SinkFunc adapts a function to SwingSink.
type SinkFunc func(ctx context.Context, key models.SeriesKey, sw models.SwingPoint, cause swing.Cause) error

func (f SinkFunc) HandleSwing(ctx context.Context, key models.SeriesKey, sw models.SwingPoint, cause swing.Cause) error {
	return f(ctx, key, sw, cause)
}

// StorageSink persists swings.
type StorageSink struct {
	Store storage.SwingStorage
}

func (s StorageSink) HandleSwing(ctx context.Context, key models.SeriesKey, sw models.SwingPoint, _ swing.Cause) error {
	return s.Store.WriteSwings(ctx, key, []models.SwingPoint{sw})
}

// PublisherSink announces swings on the swing stream.
type PublisherSink struct {
	Publisher *pubsub.SwingPublisher
}

func (p PublisherSink) HandleSwing(ctx context.Context, key models.SeriesKey, sw models.SwingPoint, cause swing.Cause) error {
	return p.Publisher.PublishSwing(ctx, pubsub.NewSwingEvent(key, sw, string(cause)))
}

// MultiSink fans a swing out to every sink, in order. All sinks are called
// even if one fails.
type MultiSink []SwingSink

func (m MultiSink) HandleSwing(ctx context.Context, key models.SeriesKey, sw models.SwingPoint, cause swing.Cause) error {
	var errs []error
	for _, s := range m {
		if err := s.HandleSwing(ctx, key, sw, cause); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
