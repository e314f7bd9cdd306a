package pubsub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mohamedkhairy/swing-detector/internal/models"
	"github.com/mohamedkhairy/swing-detector/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	base  = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	eurH1 = models.SeriesKey{Instrument: "EURUSD", Timeframe: models.TimeframeH1}
	gbpH1 = models.SeriesKey{Instrument: "GBPUSD", Timeframe: models.TimeframeH1}
)

func barAt(i int) models.Bar {
	p := 1.1 + float64(i)*0.001
	return models.Bar{
		Time:  base.Add(time.Duration(i) * time.Hour),
		Open:  p,
		High:  p + 0.002,
		Low:   p - 0.002,
		Close: p + 0.001,
	}
}

// recordingSubmitter records submitted bars and can reject one series
type recordingSubmitter struct {
	mu     sync.Mutex
	bars   map[models.SeriesKey][]models.Bar
	reject models.SeriesKey
}

func newRecordingSubmitter() *recordingSubmitter {
	return &recordingSubmitter{bars: make(map[models.SeriesKey][]models.Bar)}
}

func (r *recordingSubmitter) Submit(key models.SeriesKey, bar models.Bar) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if key == r.reject {
		return errors.New("rejected")
	}
	r.bars[key] = append(r.bars[key], bar)
	return nil
}

func (r *recordingSubmitter) get(key models.SeriesKey) []models.Bar {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Bar(nil), r.bars[key]...)
}

func TestBarConsumer_SubmitsAndAcknowledges(t *testing.T) {
	redis := storage.NewMockRedisClient()
	pub := NewBarPublisher(redis, DefaultPublisherConfig("bars.finalized"))
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, pub.PublishBar(ctx, eurH1, barAt(i)))
	}

	sub := newRecordingSubmitter()
	cfg := DefaultBarConsumerConfig("bars.finalized", "swing-detector", "worker-1")
	cfg.BatchSize = 2
	consumer := NewBarConsumer(redis, sub, cfg)

	require.NoError(t, consumer.Start())
	assert.True(t, consumer.IsRunning())
	consumer.Wait()
	consumer.Stop()
	assert.False(t, consumer.IsRunning())

	got := sub.get(eurH1)
	require.Len(t, got, 5)
	for i, b := range got {
		assert.True(t, b.Time.Equal(barAt(i).Time), "bar %d out of order", i)
	}

	stats := consumer.GetStats()
	assert.Equal(t, int64(5), stats.MessagesProcessed)
	assert.Equal(t, int64(5), stats.MessagesAcked)
	assert.Equal(t, int64(0), stats.MessagesFailed)
	assert.Len(t, redis.AckedIDs(), 5)
}

func TestBarConsumer_FailedMessagesStayPending(t *testing.T) {
	redis := storage.NewMockRedisClient()
	pub := NewBarPublisher(redis, DefaultPublisherConfig("bars"))
	ctx := context.Background()
	require.NoError(t, pub.PublishBar(ctx, eurH1, barAt(0)))
	require.NoError(t, pub.PublishBar(ctx, gbpH1, barAt(0)))
	redis.StreamData = append(redis.StreamData,
		storage.StreamMessage{ID: "90-0", Stream: "bars", Values: map[string]interface{}{BarField: "{broken"}},
		storage.StreamMessage{ID: "91-0", Stream: "bars", Values: map[string]interface{}{"other": "x"}},
	)

	sub := newRecordingSubmitter()
	sub.reject = gbpH1
	consumer := NewBarConsumer(redis, sub, DefaultBarConsumerConfig("bars", "g", "c"))
	require.NoError(t, consumer.Start())
	consumer.Wait()
	consumer.Stop()

	assert.Len(t, sub.get(eurH1), 1)
	assert.Equal(t, []string{"1-0"}, redis.AckedIDs())
	assert.Equal(t, int64(3), consumer.GetStats().MessagesFailed)
}

func TestBarConsumer_Partitions(t *testing.T) {
	redis := storage.NewMockRedisClient()
	cfg := DefaultPublisherConfig("bars")
	cfg.Partitions = 4
	pub := NewBarPublisher(redis, cfg)
	ctx := context.Background()

	keys := []models.SeriesKey{eurH1, gbpH1, {Instrument: "USDJPY", Timeframe: models.TimeframeD1}}
	for _, k := range keys {
		require.NoError(t, pub.PublishBar(ctx, k, barAt(1)))
		stream := PartitionStream("bars", Partition(k, 4))
		assert.NotEmpty(t, redis.StreamMessages(stream))
	}
	assert.Empty(t, redis.StreamMessages("bars"))

	sub := newRecordingSubmitter()
	ccfg := DefaultBarConsumerConfig("bars", "g", "c")
	ccfg.Partitions = 4
	consumer := NewBarConsumer(redis, sub, ccfg)
	require.NoError(t, consumer.Start())
	consumer.Wait()
	consumer.Stop()

	for _, k := range keys {
		assert.Len(t, sub.get(k), 1, k.String())
	}
}

func TestBarConsumer_StartErrors(t *testing.T) {
	redis := storage.NewMockRedisClient()
	redis.ConsumeErr = errors.New("down")
	consumer := NewBarConsumer(redis, newRecordingSubmitter(), DefaultBarConsumerConfig("bars", "g", "c"))
	assert.Error(t, consumer.Start())
	assert.False(t, consumer.IsRunning())

	ok := NewBarConsumer(storage.NewMockRedisClient(), newRecordingSubmitter(), DefaultBarConsumerConfig("bars", "g", "c"))
	require.NoError(t, ok.Start())
	assert.Error(t, ok.Start(), "second start")
	ok.Stop()
}

func TestPartition_Stable(t *testing.T) {
	p := Partition(eurH1, 8)
	for i := 0; i < 10; i++ {
		assert.Equal(t, p, Partition(eurH1, 8))
	}
	assert.GreaterOrEqual(t, p, 0)
	assert.Less(t, p, 8)
	assert.Equal(t, 0, Partition(eurH1, 0))
}

func TestDecodeBarMessage(t *testing.T) {
	redis := storage.NewMockRedisClient()
	pub := NewBarPublisher(redis, DefaultPublisherConfig("bars"))
	require.NoError(t, pub.PublishBar(context.Background(), eurH1, barAt(3)))

	msg := redis.StreamMessages("bars")[0]
	bm, err := DecodeBarMessage(msg)
	require.NoError(t, err)
	key, err := bm.Key()
	require.NoError(t, err)
	assert.Equal(t, eurH1, key)
	assert.InDelta(t, barAt(3).High, bm.Bar.High, 1e-12)

	invalid := barAt(0)
	invalid.High = invalid.Low - 1
	assert.Error(t, pub.PublishBar(context.Background(), eurH1, invalid))
}
