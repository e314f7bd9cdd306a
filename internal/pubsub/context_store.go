package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/mohamedkhairy/swing-detector/internal/models"
	"github.com/mohamedkhairy/swing-detector/internal/storage"
	"github.com/mohamedkhairy/swing-detector/internal/swing"
)

const contextKeyPrefix = "swingctx:"

// RedisContextStore keeps detection context checkpoints in one sorted set
// per series, scored by the checkpoint's last bar time in milliseconds.
type RedisContextStore struct {
	redis          storage.RedisClient
	ttl            time.Duration
	maxCheckpoints int64
}

// NewRedisContextStore creates a store. ttl refreshes on every save (0 keeps
// keys forever); maxCheckpoints bounds the history per series (0 = unbounded).
func NewRedisContextStore(redis storage.RedisClient, ttl time.Duration, maxCheckpoints int) *RedisContextStore {
	return &RedisContextStore{redis: redis, ttl: ttl, maxCheckpoints: int64(maxCheckpoints)}
}

// ContextKey returns the sorted set holding the checkpoints of key.
func ContextKey(key models.SeriesKey) string {
	return contextKeyPrefix + key.Instrument + ":" + string(key.Timeframe)
}

func score(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func (s *RedisContextStore) SaveContext(ctx context.Context, key models.SeriesKey, c *swing.DetectionContext) error {
	k := ContextKey(key)
	at := score(c.LastBarTime)

	// one checkpoint per bar time
	if err := s.redis.ZRemRangeByScore(ctx, k, at, at); err != nil {
		return fmt.Errorf("failed to replace checkpoint: %w", err)
	}
	if err := s.redis.ZAddJSON(ctx, k, float64(c.LastBarTime.UnixMilli()), c); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	if s.maxCheckpoints > 0 {
		if err := s.redis.ZRemRangeByRank(ctx, k, 0, -s.maxCheckpoints-1); err != nil {
			return fmt.Errorf("failed to trim checkpoints: %w", err)
		}
	}
	if s.ttl > 0 {
		if err := s.redis.Expire(ctx, k, s.ttl); err != nil {
			return fmt.Errorf("failed to set checkpoint ttl: %w", err)
		}
	}
	return nil
}

func (s *RedisContextStore) LoadContext(ctx context.Context, key models.SeriesKey) (*swing.DetectionContext, error) {
	return s.latest(ctx, key, "+inf")
}

func (s *RedisContextStore) LoadContextBefore(ctx context.Context, key models.SeriesKey, t time.Time) (*swing.DetectionContext, error) {
	return s.latest(ctx, key, "("+score(t))
}

func (s *RedisContextStore) latest(ctx context.Context, key models.SeriesKey, max string) (*swing.DetectionContext, error) {
	members, err := s.redis.ZRevRangeByScore(ctx, ContextKey(key), max, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if len(members) == 0 {
		return nil, storage.ErrContextNotFound
	}
	var c swing.DetectionContext
	if err := json.Unmarshal([]byte(members[0]), &c); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	return &c, nil
}

func (s *RedisContextStore) DeleteContextsAfter(ctx context.Context, key models.SeriesKey, t time.Time) error {
	if err := s.redis.ZRemRangeByScore(ctx, ContextKey(key), "("+score(t), "+inf"); err != nil {
		return fmt.Errorf("failed to delete checkpoints: %w", err)
	}
	return nil
}
