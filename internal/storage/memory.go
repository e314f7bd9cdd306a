package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mohamedkhairy/swing-detector/internal/models"
	"github.com/mohamedkhairy/swing-detector/internal/swing"
)

// MemoryContextStore keeps context checkpoints in process. It is used when
// the service runs without a persistent context store and in tests.
type MemoryContextStore struct {
	mu sync.RWMutex
	// checkpoints per series, ordered by last bar time
	checkpoints map[models.SeriesKey][]*swing.DetectionContext
	// MaxCheckpoints bounds the history kept per series; 0 keeps everything
	MaxCheckpoints int
}

// NewMemoryContextStore creates an empty store.
func NewMemoryContextStore(maxCheckpoints int) *MemoryContextStore {
	return &MemoryContextStore{
		checkpoints:    make(map[models.SeriesKey][]*swing.DetectionContext),
		MaxCheckpoints: maxCheckpoints,
	}
}

func (m *MemoryContextStore) SaveContext(ctx context.Context, key models.SeriesKey, c *swing.DetectionContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.checkpoints[key]
	snap := c.Snapshot()
	i := sort.Search(len(list), func(i int) bool { return !list[i].LastBarTime.Before(c.LastBarTime) })
	switch {
	case i < len(list) && list[i].LastBarTime.Equal(c.LastBarTime):
		list[i] = snap
	default:
		list = append(list, nil)
		copy(list[i+1:], list[i:])
		list[i] = snap
	}
	if m.MaxCheckpoints > 0 && len(list) > m.MaxCheckpoints {
		list = list[len(list)-m.MaxCheckpoints:]
	}
	m.checkpoints[key] = list
	return nil
}

func (m *MemoryContextStore) LoadContext(ctx context.Context, key models.SeriesKey) (*swing.DetectionContext, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.checkpoints[key]
	if len(list) == 0 {
		return nil, ErrContextNotFound
	}
	return list[len(list)-1].Snapshot(), nil
}

func (m *MemoryContextStore) LoadContextBefore(ctx context.Context, key models.SeriesKey, t time.Time) (*swing.DetectionContext, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.checkpoints[key]
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].LastBarTime.Before(t) {
			return list[i].Snapshot(), nil
		}
	}
	return nil, ErrContextNotFound
}

func (m *MemoryContextStore) DeleteContextsAfter(ctx context.Context, key models.SeriesKey, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.checkpoints[key]
	keep := len(list)
	for keep > 0 && list[keep-1].LastBarTime.After(t) {
		keep--
	}
	m.checkpoints[key] = list[:keep]
	return nil
}

// Count returns the number of checkpoints held for key.
func (m *MemoryContextStore) Count(key models.SeriesKey) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.checkpoints[key])
}
