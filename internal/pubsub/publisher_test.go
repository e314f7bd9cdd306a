package pubsub

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mohamedkhairy/swing-detector/internal/models"
	"github.com/mohamedkhairy/swing-detector/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSwing() models.SwingPoint {
	return models.SwingPoint{
		Time:        base.Add(5 * time.Hour),
		Price:       1.105,
		Direction:   models.DirectionUp,
		Timeframe:   models.TimeframeH1,
		ConfirmedAt: base.Add(8 * time.Hour),
	}
}

func TestSwingPublisher_StreamAndChannel(t *testing.T) {
	redis := storage.NewMockRedisClient()
	cfg := DefaultPublisherConfig("swings.detected")
	cfg.Channel = "swings.updates"
	pub := NewSwingPublisher(redis, cfg)

	event := NewSwingEvent(eurH1, testSwing(), "waiting_bars")
	require.NotEmpty(t, event.ID)
	require.NoError(t, pub.PublishSwing(context.Background(), event))

	msgs := redis.StreamMessages("swings.detected")
	require.Len(t, msgs, 1)
	got, err := DecodeSwingEvent(msgs[0])
	require.NoError(t, err)
	assert.Equal(t, event.ID, got.ID)
	assert.Equal(t, eurH1, got.Key())
	assert.Equal(t, "EURUSD", got.Instrument)
	assert.True(t, got.Swing.Equal(testSwing()))
	assert.True(t, got.Swing.ConfirmedAt.Equal(testSwing().ConfirmedAt))
	assert.Equal(t, "waiting_bars", got.Cause)

	assert.Len(t, redis.Published["swings.updates"], 1)

	_, err = DecodeSwingEvent(storage.StreamMessage{ID: "9-0", Values: map[string]interface{}{"bar": "{}"}})
	assert.Error(t, err)
	_, err = DecodeSwingEvent(storage.StreamMessage{ID: "9-1", Values: map[string]interface{}{SwingField: "{"}})
	assert.Error(t, err)
}

func TestSwingPublisher_RetriesThenFails(t *testing.T) {
	redis := storage.NewMockRedisClient()
	redis.PublishErr = errors.New("unavailable")
	cfg := DefaultPublisherConfig("swings")
	cfg.RetryAttempts = 2
	cfg.RetryDelay = time.Millisecond
	pub := NewSwingPublisher(redis, cfg)

	err := pub.PublishSwing(context.Background(), NewSwingEvent(eurH1, testSwing(), ""))
	require.Error(t, err)
	assert.ErrorIs(t, err, redis.PublishErr)
	assert.Contains(t, err.Error(), "3 attempts")
}

func TestSwingPublisher_RejectsInvalidSwing(t *testing.T) {
	pub := NewSwingPublisher(storage.NewMockRedisClient(), DefaultPublisherConfig("swings"))
	sw := testSwing()
	sw.Direction = ""
	assert.ErrorIs(t, pub.PublishSwing(context.Background(), NewSwingEvent(eurH1, sw, "")), models.ErrInvalidDirection)
}

func TestSwingPublisher_CancelledRetry(t *testing.T) {
	redis := storage.NewMockRedisClient()
	redis.PublishErr = errors.New("unavailable")
	cfg := DefaultPublisherConfig("swings")
	cfg.RetryDelay = time.Hour
	pub := NewSwingPublisher(redis, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := pub.PublishSwing(ctx, NewSwingEvent(eurH1, testSwing(), ""))
	assert.ErrorIs(t, err, context.Canceled)
}
