package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mohamedkhairy/swing-detector/internal/config"
	"github.com/mohamedkhairy/swing-detector/internal/storage"
	"github.com/mohamedkhairy/swing-detector/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// RedisClientImpl implements the storage.RedisClient interface
type RedisClientImpl struct {
	client *redis.Client
}

// NewRedisClient creates a new Redis client
func NewRedisClient(cfg config.RedisConfig) (storage.RedisClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Connected to Redis",
		logger.String("host", cfg.Host),
		logger.Int("port", cfg.Port),
	)

	return &RedisClientImpl{client: rdb}, nil
}

// PublishToStream publishes a JSON-encoded value under field key
func (r *RedisClientImpl) PublishToStream(ctx context.Context, stream string, key string, value interface{}) error {
	jsonData, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	err = r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{key: string(jsonData)},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish to stream %s: %w", stream, err)
	}
	return nil
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

// ensureGroup creates the consumer group (and the stream) if missing.
func (r *RedisClientImpl) ensureGroup(ctx context.Context, stream, group string) bool {
	for i := 0; i < 3; i++ {
		err := r.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
		if err == nil || isBusyGroup(err) {
			return true
		}
		logger.Warn("Failed to create consumer group, retrying",
			logger.ErrorField(err),
			logger.String("stream", stream),
			logger.String("group", group),
			logger.Int("attempt", i+1),
		)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(time.Second * time.Duration(i+1)):
		}
	}
	return false
}

// ConsumeFromStream reads new messages for group/consumer until ctx is done.
// The returned channel is closed on exit.
func (r *RedisClientImpl) ConsumeFromStream(ctx context.Context, stream string, group string, consumer string) (<-chan storage.StreamMessage, error) {
	if !r.ensureGroup(ctx, stream, group) {
		// readLoop recreates the group on NOGROUP
		logger.Error("Failed to create consumer group after retries",
			logger.String("stream", stream),
			logger.String("group", group),
		)
	}

	out := make(chan storage.StreamMessage, 100)
	go r.readLoop(ctx, stream, group, consumer, out)
	return out, nil
}

func (r *RedisClientImpl) readLoop(ctx context.Context, stream, group, consumer string, out chan<- storage.StreamMessage) {
	defer close(out)

	args := &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    10,
		Block:    time.Second,
	}
	for ctx.Err() == nil {
		streams, err := r.client.XReadGroup(ctx, args).Result()
		switch {
		case err == nil:
		case errors.Is(err, redis.Nil), ctx.Err() != nil:
			continue
		case strings.Contains(err.Error(), "NOGROUP"):
			logger.Warn("Consumer group not found, recreating",
				logger.String("stream", stream),
				logger.String("group", group),
			)
			r.ensureGroup(ctx, stream, group)
			continue
		default:
			logger.Error("Error reading from stream",
				logger.ErrorField(err),
				logger.String("stream", stream),
			)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		for _, xs := range streams {
			for _, m := range xs.Messages {
				select {
				case out <- storage.StreamMessage{ID: m.ID, Stream: xs.Stream, Values: m.Values}:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// AcknowledgeMessage acknowledges a message in a Redis stream
func (r *RedisClientImpl) AcknowledgeMessage(ctx context.Context, stream string, group string, id string) error {
	return r.client.XAck(ctx, stream, group, id).Err()
}

func (r *RedisClientImpl) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return r.client.Expire(ctx, key, ttl).Err()
}

// ZAddJSON adds value, JSON-encoded, with score
func (r *RedisClientImpl) ZAddJSON(ctx context.Context, key string, score float64, value interface{}) error {
	jsonData, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return r.client.ZAdd(ctx, key, redis.Z{Score: score, Member: string(jsonData)}).Err()
}

// ZRevRangeByScore returns members with score <= max, highest first
func (r *RedisClientImpl) ZRevRangeByScore(ctx context.Context, key string, max string, limit int64) ([]string, error) {
	return r.client.ZRevRangeByScore(ctx, key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   max,
		Count: limit,
	}).Result()
}

func (r *RedisClientImpl) ZRemRangeByScore(ctx context.Context, key string, min, max string) error {
	return r.client.ZRemRangeByScore(ctx, key, min, max).Err()
}

func (r *RedisClientImpl) ZRemRangeByRank(ctx context.Context, key string, start, stop int64) error {
	return r.client.ZRemRangeByRank(ctx, key, start, stop).Err()
}

// Publish publishes a JSON-encoded message to a pub/sub channel
func (r *RedisClientImpl) Publish(ctx context.Context, channel string, message interface{}) error {
	jsonData, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return r.client.Publish(ctx, channel, jsonData).Err()
}

func (r *RedisClientImpl) Close() error {
	return r.client.Close()
}
