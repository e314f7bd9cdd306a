package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mohamedkhairy/swing-detector/internal/models"
	"github.com/mohamedkhairy/swing-detector/internal/storage"
	"github.com/mohamedkhairy/swing-detector/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	publishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_publish_total",
			Help: "Total number of messages published to streams",
		},
		[]string{"stream", "partition"},
	)

	publishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_publish_errors_total",
			Help: "Total number of publish errors",
		},
		[]string{"stream", "partition"},
	)

	publishLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stream_publish_latency_seconds",
			Help:    "Publish latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"stream", "partition"},
	)
)

// PublisherConfig holds configuration for stream publishers
type PublisherConfig struct {
	StreamName    string
	Channel       string // optional pub/sub channel mirrored on every publish
	Partitions    int    // 0 = no partitioning
	RetryAttempts int
	RetryDelay    time.Duration
}

// DefaultPublisherConfig returns default configuration
func DefaultPublisherConfig(streamName string) PublisherConfig {
	return PublisherConfig{
		StreamName:    streamName,
		RetryAttempts: 3,
		RetryDelay:    100 * time.Millisecond,
	}
}

// Partition maps a series to one of n partitions. The mapping is stable
// across processes so a series is always consumed by the same worker.
func Partition(key models.SeriesKey, n int) int {
	if n <= 0 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(key.String()))
	return int(h.Sum32() % uint32(n))
}

type streamPublisher struct {
	config PublisherConfig
	redis  storage.RedisClient
	field  string
}

func (p *streamPublisher) publish(ctx context.Context, key models.SeriesKey, value interface{}) error {
	stream, partition := p.config.StreamName, ""
	if p.config.Partitions > 0 {
		i := Partition(key, p.config.Partitions)
		stream, partition = PartitionStream(p.config.StreamName, i), strconv.Itoa(i)
	}

	start := time.Now()
	var err error
	for attempt := 0; attempt <= p.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.config.RetryDelay * time.Duration(attempt)):
			}
		}
		if err = p.redis.PublishToStream(ctx, stream, p.field, value); err == nil {
			break
		}
		logger.Warn("Stream publish failed",
			logger.ErrorField(err),
			logger.String("stream", stream),
			logger.Int("attempt", attempt+1),
		)
	}
	publishLatency.WithLabelValues(stream, partition).Observe(time.Since(start).Seconds())
	if err != nil {
		publishErrors.WithLabelValues(stream, partition).Inc()
		return fmt.Errorf("failed to publish to %s after %d attempts: %w", stream, p.config.RetryAttempts+1, err)
	}
	publishTotal.WithLabelValues(stream, partition).Inc()

	if p.config.Channel != "" {
		if err := p.redis.Publish(ctx, p.config.Channel, value); err != nil {
			// stream delivery already succeeded; the channel is best effort
			logger.Warn("Channel publish failed",
				logger.ErrorField(err),
				logger.String("channel", p.config.Channel),
			)
		}
	}
	return nil
}

// SwingField is the stream field that carries a SwingEvent.
const SwingField = "swing"

// SwingEvent announces a confirmed swing.
type SwingEvent struct {
	ID         string            `json:"id"`
	Instrument string            `json:"instrument"`
	Timeframe  models.Timeframe  `json:"timeframe"`
	Swing      models.SwingPoint `json:"swing"`
	Cause      string            `json:"cause,omitempty"`
	DetectedAt time.Time         `json:"detected_at"`
}

// NewSwingEvent stamps sw with a fresh event id.
func NewSwingEvent(key models.SeriesKey, sw models.SwingPoint, cause string) SwingEvent {
	return SwingEvent{
		ID:         uuid.NewString(),
		Instrument: key.Instrument,
		Timeframe:  key.Timeframe,
		Swing:      sw,
		Cause:      cause,
		DetectedAt: time.Now().UTC(),
	}
}

// DecodeSwingEvent extracts the SwingEvent carried in msg.
func DecodeSwingEvent(msg storage.StreamMessage) (SwingEvent, error) {
	var ev SwingEvent
	raw, ok := msg.Values[SwingField].(string)
	if !ok {
		return ev, fmt.Errorf("message %s has no %q field", msg.ID, SwingField)
	}
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		return ev, fmt.Errorf("failed to unmarshal swing event: %w", err)
	}
	return ev, nil
}

// Key returns the series the event belongs to.
func (e SwingEvent) Key() models.SeriesKey {
	return models.SeriesKey{Instrument: e.Instrument, Timeframe: e.Timeframe}
}

// SwingPublisher publishes confirmed swings to a stream and, optionally, a
// notification channel.
type SwingPublisher struct {
	streamPublisher
}

// NewSwingPublisher creates a swing publisher
func NewSwingPublisher(redis storage.RedisClient, config PublisherConfig) *SwingPublisher {
	return &SwingPublisher{streamPublisher{config: config, redis: redis, field: SwingField}}
}

// PublishSwing publishes one swing event
func (p *SwingPublisher) PublishSwing(ctx context.Context, event SwingEvent) error {
	if err := event.Swing.Validate(); err != nil {
		return fmt.Errorf("invalid swing: %w", err)
	}
	key := models.SeriesKey{Instrument: event.Instrument, Timeframe: event.Timeframe}
	return p.publish(ctx, key, event)
}

// BarPublisher feeds finalized bars into the bar stream.
type BarPublisher struct {
	streamPublisher
}

// NewBarPublisher creates a bar publisher
func NewBarPublisher(redis storage.RedisClient, config PublisherConfig) *BarPublisher {
	return &BarPublisher{streamPublisher{config: config, redis: redis, field: BarField}}
}

// PublishBar publishes one bar of key
func (p *BarPublisher) PublishBar(ctx context.Context, key models.SeriesKey, bar models.Bar) error {
	if err := bar.Validate(); err != nil {
		return fmt.Errorf("invalid bar: %w", err)
	}
	return p.publish(ctx, key, BarMessage{
		Instrument: key.Instrument,
		Timeframe:  key.Timeframe,
		Bar:        bar,
	})
}
