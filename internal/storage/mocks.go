package storage

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mohamedkhairy/swing-detector/internal/models"
)

// MockBarStorage is a mock implementation of BarStorage for testing
type MockBarStorage struct {
	mu        sync.Mutex
	Bars      map[models.SeriesKey][]models.Bar
	WriteErr  error
	GetErr    error
	LatestErr error
}

func NewMockBarStorage() *MockBarStorage {
	return &MockBarStorage{Bars: make(map[models.SeriesKey][]models.Bar)}
}

func (m *MockBarStorage) WriteBars(ctx context.Context, key models.SeriesKey, bars []models.Bar) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WriteErr != nil {
		return m.WriteErr
	}
	m.Bars[key] = append(m.Bars[key], bars...)
	return nil
}

func (m *MockBarStorage) GetBars(ctx context.Context, key models.SeriesKey, start, end time.Time) ([]models.Bar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	var result []models.Bar
	for _, bar := range m.Bars[key] {
		if !bar.Time.Before(start) && !bar.Time.After(end) {
			result = append(result, bar)
		}
	}
	return result, nil
}

func (m *MockBarStorage) GetLatestBars(ctx context.Context, key models.SeriesKey, limit int) ([]models.Bar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LatestErr != nil {
		return nil, m.LatestErr
	}
	bars := m.Bars[key]
	if len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return append([]models.Bar(nil), bars...), nil
}

func (m *MockBarStorage) Close() error {
	return nil
}

// MockSwingStorage is a mock implementation of SwingStorage for testing
type MockSwingStorage struct {
	mu       sync.Mutex
	Swings   map[models.SeriesKey][]models.SwingPoint
	WriteErr error
	GetErr   error
}

func NewMockSwingStorage() *MockSwingStorage {
	return &MockSwingStorage{Swings: make(map[models.SeriesKey][]models.SwingPoint)}
}

func (m *MockSwingStorage) WriteSwings(ctx context.Context, key models.SeriesKey, swings []models.SwingPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WriteErr != nil {
		return m.WriteErr
	}
	m.Swings[key] = append(m.Swings[key], swings...)
	return nil
}

func (m *MockSwingStorage) GetSwings(ctx context.Context, key models.SeriesKey, filter SwingFilter) ([]models.SwingPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	var result []models.SwingPoint
	for _, sw := range m.Swings[key] {
		if filter.Match(sw) {
			result = append(result, sw)
		}
	}
	start := filter.Offset
	if start > len(result) {
		start = len(result)
	}
	result = result[start:]
	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (m *MockSwingStorage) GetLatestSwings(ctx context.Context, key models.SeriesKey, limit int) ([]models.SwingPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	swings := m.Swings[key]
	if len(swings) > limit {
		swings = swings[len(swings)-limit:]
	}
	return append([]models.SwingPoint(nil), swings...), nil
}

func (m *MockSwingStorage) DeleteSwingsAfter(ctx context.Context, key models.SeriesKey, t time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	swings := m.Swings[key]
	keep := swings[:0:0]
	for _, sw := range swings {
		if !sw.Confirmed().After(t) {
			keep = append(keep, sw)
		}
	}
	m.Swings[key] = keep
	return int64(len(swings) - len(keep)), nil
}

func (m *MockSwingStorage) FindSwingBefore(ctx context.Context, key models.SeriesKey, t time.Time, dir models.Direction) (*models.SwingPoint, error) {
	return m.find(key,
		func(sw models.SwingPoint) bool { return sw.Time.Before(t) && (dir == "" || sw.Direction == dir) },
		func(sw, best models.SwingPoint) bool { return sw.Time.After(best.Time) },
	)
}

func (m *MockSwingStorage) FindSwingAfter(ctx context.Context, key models.SeriesKey, t time.Time, dir models.Direction) (*models.SwingPoint, error) {
	return m.find(key,
		func(sw models.SwingPoint) bool { return sw.Time.After(t) && (dir == "" || sw.Direction == dir) },
		func(sw, best models.SwingPoint) bool { return sw.Time.Before(best.Time) },
	)
}

func (m *MockSwingStorage) GetExtremeSwings(ctx context.Context, key models.SeriesKey) (*models.SwingPoint, *models.SwingPoint, error) {
	highest, err := m.find(key, nil, func(sw, best models.SwingPoint) bool {
		return sw.Price > best.Price || (sw.Price == best.Price && sw.Time.Before(best.Time))
	})
	if err != nil {
		return nil, nil, err
	}
	lowest, err := m.find(key, nil, func(sw, best models.SwingPoint) bool {
		return sw.Price < best.Price || (sw.Price == best.Price && sw.Time.Before(best.Time))
	})
	if err != nil {
		return nil, nil, err
	}
	return highest, lowest, nil
}

func (m *MockSwingStorage) find(key models.SeriesKey, keep func(models.SwingPoint) bool, better func(sw, best models.SwingPoint) bool) (*models.SwingPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	var best *models.SwingPoint
	for _, sw := range m.Swings[key] {
		if keep != nil && !keep(sw) {
			continue
		}
		if best == nil || better(sw, *best) {
			found := sw
			best = &found
		}
	}
	return best, nil
}

// All returns a copy of the swings stored for key.
func (m *MockSwingStorage) All(key models.SeriesKey) []models.SwingPoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.SwingPoint(nil), m.Swings[key]...)
}

func (m *MockSwingStorage) Close() error {
	return nil
}

type zmember struct {
	score  float64
	member string
}

// MockRedisClient is a mock implementation of RedisClient for testing
type MockRedisClient struct {
	mu         sync.Mutex
	TTLs       map[string]time.Duration
	Sorted     map[string][]zmember
	StreamData []StreamMessage
	Published  map[string][]string
	Acked      []string
	PublishErr error
	GetErr     error
	SetErr     error
	ConsumeErr error
}

func NewMockRedisClient() *MockRedisClient {
	return &MockRedisClient{
		TTLs:      make(map[string]time.Duration),
		Sorted:    make(map[string][]zmember),
		Published: make(map[string][]string),
	}
}

func (m *MockRedisClient) PublishToStream(ctx context.Context, stream string, key string, value interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PublishErr != nil {
		return m.PublishErr
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.StreamData = append(m.StreamData, StreamMessage{
		ID:     strconv.Itoa(len(m.StreamData)+1) + "-0",
		Stream: stream,
		Values: map[string]interface{}{key: string(data)},
	})
	return nil
}

// ConsumeFromStream replays StreamData for stream and closes the channel.
func (m *MockRedisClient) ConsumeFromStream(ctx context.Context, stream string, group string, consumer string) (<-chan StreamMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ConsumeErr != nil {
		return nil, m.ConsumeErr
	}
	ch := make(chan StreamMessage, len(m.StreamData))
	for _, msg := range m.StreamData {
		if msg.Stream == stream {
			ch <- msg
		}
	}
	close(ch)
	return ch, nil
}

func (m *MockRedisClient) AcknowledgeMessage(ctx context.Context, stream string, group string, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Acked = append(m.Acked, id)
	return nil
}

// StreamMessages returns the messages published to stream.
func (m *MockRedisClient) StreamMessages(stream string) []StreamMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []StreamMessage
	for _, msg := range m.StreamData {
		if msg.Stream == stream {
			out = append(out, msg)
		}
	}
	return out
}

// AckedIDs returns the acknowledged message ids.
func (m *MockRedisClient) AckedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Acked...)
}

func (m *MockRedisClient) Expire(ctx context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TTLs[key] = ttl
	return nil
}

func (m *MockRedisClient) ZAddJSON(ctx context.Context, key string, score float64, value interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetErr != nil {
		return m.SetErr
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	set := m.Sorted[key]
	for i, z := range set {
		if z.member == string(data) {
			set = append(set[:i], set[i+1:]...)
			break
		}
	}
	set = append(set, zmember{score: score, member: string(data)})
	sort.SliceStable(set, func(i, j int) bool { return set[i].score < set[j].score })
	m.Sorted[key] = set
	return nil
}

func (m *MockRedisClient) ZRevRangeByScore(ctx context.Context, key string, max string, limit int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	set := m.Sorted[key]
	var out []string
	for i := len(set) - 1; i >= 0 && (limit <= 0 || int64(len(out)) < limit); i-- {
		if belowMax(set[i].score, max) {
			out = append(out, set[i].member)
		}
	}
	return out, nil
}

func (m *MockRedisClient) ZRemRangeByScore(ctx context.Context, key string, min, max string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.Sorted[key]
	keep := set[:0:0]
	for _, z := range set {
		if !(aboveMin(z.score, min) && belowMax(z.score, max)) {
			keep = append(keep, z)
		}
	}
	m.Sorted[key] = keep
	return nil
}

func (m *MockRedisClient) ZRemRangeByRank(ctx context.Context, key string, start, stop int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.Sorted[key]
	n := int64(len(set))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop {
		return nil
	}
	m.Sorted[key] = append(set[:start:start], set[stop+1:]...)
	return nil
}

func (m *MockRedisClient) Publish(ctx context.Context, channel string, message interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PublishErr != nil {
		return m.PublishErr
	}
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	m.Published[channel] = append(m.Published[channel], string(data))
	return nil
}

func (m *MockRedisClient) Close() error {
	return nil
}

func parseBound(b string) (float64, bool) {
	exclusive := strings.HasPrefix(b, "(")
	b = strings.TrimPrefix(b, "(")
	switch b {
	case "+inf":
		return math.Inf(1), exclusive
	case "-inf":
		return math.Inf(-1), exclusive
	}
	v, _ := strconv.ParseFloat(b, 64)
	return v, exclusive
}

func belowMax(score float64, max string) bool {
	v, exclusive := parseBound(max)
	if exclusive {
		return score < v
	}
	return score <= v
}

func aboveMin(score float64, min string) bool {
	v, exclusive := parseBound(min)
	if exclusive {
		return score > v
	}
	return score >= v
}
