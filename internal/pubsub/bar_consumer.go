package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mohamedkhairy/swing-detector/internal/models"
	"github.com/mohamedkhairy/swing-detector/internal/storage"
	"github.com/mohamedkhairy/swing-detector/pkg/logger"
)

// BarField is the stream field that carries a BarMessage.
const BarField = "bar"

// BarMessage is one finalized bar on the bar stream.
type BarMessage struct {
	Instrument string           `json:"instrument"`
	Timeframe  models.Timeframe `json:"timeframe"`
	Bar        models.Bar       `json:"bar"`
}

// Key returns the series the bar belongs to.
func (m BarMessage) Key() (models.SeriesKey, error) {
	return models.NewSeriesKey(m.Instrument, m.Timeframe)
}

// BarSubmitter accepts bars for detection.
type BarSubmitter interface {
	Submit(key models.SeriesKey, bar models.Bar) error
}

// BarConsumerConfig holds configuration for the bar consumer
type BarConsumerConfig struct {
	StreamName    string
	ConsumerGroup string
	ConsumerName  string
	Partitions    int // 0 = single stream
	BatchSize     int
	AckTimeout    time.Duration
}

// DefaultBarConsumerConfig returns default configuration
func DefaultBarConsumerConfig(streamName, consumerGroup, consumerName string) BarConsumerConfig {
	return BarConsumerConfig{
		StreamName:    streamName,
		ConsumerGroup: consumerGroup,
		ConsumerName:  consumerName,
		BatchSize:     100,
		AckTimeout:    time.Second,
	}
}

// ConsumerStats holds statistics about the consumer
type ConsumerStats struct {
	MessagesProcessed int64
	MessagesAcked     int64
	MessagesFailed    int64
	LastMessageTime   time.Time
}

// BarConsumer reads finalized bars from Redis streams and hands them to a
// BarSubmitter. Messages are acknowledged once submitted; messages that fail
// to decode or submit stay pending in the group.
type BarConsumer struct {
	config    BarConsumerConfig
	redis     storage.RedisClient
	submitter BarSubmitter
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.RWMutex
	running   bool

	statsMu sync.RWMutex
	stats   ConsumerStats
}

// NewBarConsumer creates a new bar consumer
func NewBarConsumer(redis storage.RedisClient, submitter BarSubmitter, config BarConsumerConfig) *BarConsumer {
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.AckTimeout <= 0 {
		config.AckTimeout = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &BarConsumer{
		config:    config,
		redis:     redis,
		submitter: submitter,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start starts consuming from the stream
func (c *BarConsumer) Start() error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("consumer is already running")
	}
	c.running = true
	c.mu.Unlock()

	streams := c.streams()

	logger.Info("Starting bar consumer",
		logger.String("stream", c.config.StreamName),
		logger.String("group", c.config.ConsumerGroup),
		logger.String("consumer", c.config.ConsumerName),
		logger.Int("stream_count", len(streams)),
	)

	for _, stream := range streams {
		messages, err := c.redis.ConsumeFromStream(c.ctx, stream, c.config.ConsumerGroup, c.config.ConsumerName)
		if err != nil {
			c.Stop()
			return fmt.Errorf("failed to consume from %s: %w", stream, err)
		}
		c.wg.Add(1)
		go c.consume(stream, messages)
	}
	return nil
}

// Stop stops the consumer and waits for in-flight batches
func (c *BarConsumer) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.mu.Unlock()

	logger.Info("Stopping bar consumer")
	c.cancel()
	c.wg.Wait()
	logger.Info("Bar consumer stopped")
}

// Wait blocks until every stream reader has exited.
func (c *BarConsumer) Wait() {
	c.wg.Wait()
}

func (c *BarConsumer) streams() []string {
	if c.config.Partitions <= 0 {
		return []string{c.config.StreamName}
	}
	streams := make([]string, c.config.Partitions)
	for i := range streams {
		streams[i] = PartitionStream(c.config.StreamName, i)
	}
	return streams
}

// PartitionStream names partition i of stream.
func PartitionStream(stream string, i int) string {
	return fmt.Sprintf("%s.p%d", stream, i)
}

func (c *BarConsumer) consume(stream string, messages <-chan storage.StreamMessage) {
	defer c.wg.Done()

	batch := make([]storage.StreamMessage, 0, c.config.BatchSize)
	ticker := time.NewTicker(c.config.AckTimeout)
	defer ticker.Stop()

	flush := func() {
		if len(batch) > 0 {
			c.processBatch(stream, batch)
			batch = batch[:0]
		}
	}

	for {
		select {
		case <-c.ctx.Done():
			flush()
			return

		case msg, ok := <-messages:
			if !ok {
				flush()
				logger.Debug("Bar stream closed", logger.String("stream", stream))
				return
			}
			batch = append(batch, msg)
			if len(batch) >= c.config.BatchSize {
				flush()
			}

		case <-ticker.C:
			flush()
		}
	}
}

func (c *BarConsumer) processBatch(stream string, messages []storage.StreamMessage) {
	processed := make([]string, 0, len(messages))
	failed := 0

	for _, msg := range messages {
		bm, err := DecodeBarMessage(msg)
		if err != nil {
			logger.Error("Failed to decode bar",
				logger.ErrorField(err),
				logger.String("stream", stream),
				logger.String("message_id", msg.ID),
			)
			failed++
			continue
		}
		key, err := bm.Key()
		if err != nil {
			logger.Error("Invalid bar series",
				logger.ErrorField(err),
				logger.String("message_id", msg.ID),
			)
			failed++
			continue
		}
		if err := c.submitter.Submit(key, bm.Bar); err != nil {
			logger.Error("Failed to submit bar",
				logger.ErrorField(err),
				logger.Series(key),
				logger.String("message_id", msg.ID),
			)
			failed++
			continue
		}
		processed = append(processed, msg.ID)
	}

	c.acknowledge(stream, processed)

	c.statsMu.Lock()
	c.stats.MessagesProcessed += int64(len(processed))
	c.stats.MessagesAcked += int64(len(processed))
	c.stats.MessagesFailed += int64(failed)
	c.stats.LastMessageTime = time.Now()
	c.statsMu.Unlock()

	if failed > 0 {
		logger.Warn("Some bar messages failed to process",
			logger.Int("failed_count", failed),
			logger.String("stream", stream),
		)
	}
}

// DecodeBarMessage extracts the BarMessage carried in msg.
func DecodeBarMessage(msg storage.StreamMessage) (BarMessage, error) {
	var bm BarMessage
	raw, ok := msg.Values[BarField].(string)
	if !ok {
		return bm, fmt.Errorf("message %s has no %q field", msg.ID, BarField)
	}
	if err := json.Unmarshal([]byte(raw), &bm); err != nil {
		return bm, fmt.Errorf("failed to unmarshal bar: %w", err)
	}
	return bm, nil
}

func (c *BarConsumer) acknowledge(stream string, ids []string) {
	if len(ids) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, id := range ids {
		if err := c.redis.AcknowledgeMessage(ctx, stream, c.config.ConsumerGroup, id); err != nil {
			logger.Error("Failed to acknowledge message",
				logger.ErrorField(err),
				logger.String("stream", stream),
				logger.String("message_id", id),
			)
		}
	}
}

// GetStats returns current consumer statistics
func (c *BarConsumer) GetStats() ConsumerStats {
	c.statsMu.RLock()
	defer c.statsMu.RUnlock()
	return c.stats
}

// IsRunning returns whether the consumer is running
func (c *BarConsumer) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}
