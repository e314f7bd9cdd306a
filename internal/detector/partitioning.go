package detector

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mohamedkhairy/swing-detector/internal/models"
	"github.com/mohamedkhairy/swing-detector/internal/pubsub"
)

// PartitionManager decides which series this process owns when several
// detector processes share one bar stream.
type PartitionManager struct {
	mu           sync.RWMutex
	workerID     int
	totalWorkers int
	assigned     map[models.SeriesKey]bool
}

// NewPartitionManager creates a new partition manager
func NewPartitionManager(workerID, totalWorkers int) (*PartitionManager, error) {
	if workerID < 0 {
		return nil, fmt.Errorf("worker ID must be non-negative, got %d", workerID)
	}
	if totalWorkers <= 0 {
		return nil, fmt.Errorf("total workers must be positive, got %d", totalWorkers)
	}
	if workerID >= totalWorkers {
		return nil, fmt.Errorf("worker ID %d must be less than total workers %d", workerID, totalWorkers)
	}

	return &PartitionManager{
		workerID:     workerID,
		totalWorkers: totalWorkers,
		assigned:     make(map[models.SeriesKey]bool),
	}, nil
}

// GetPartition returns the worker a series belongs to. It matches the
// partition the bar publisher routes the series to.
func (pm *PartitionManager) GetPartition(key models.SeriesKey) int {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pubsub.Partition(key, pm.totalWorkers)
}

// IsOwned checks if this worker owns a series
func (pm *PartitionManager) IsOwned(key models.SeriesKey) bool {
	return pm.GetPartition(key) == pm.GetWorkerID()
}

func (pm *PartitionManager) GetWorkerID() int {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.workerID
}

func (pm *PartitionManager) GetTotalWorkers() int {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.totalWorkers
}

// Assign records that a worker runs for key.
func (pm *PartitionManager) Assign(key models.SeriesKey) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.assigned[key] = true
}

func (pm *PartitionManager) IsAssigned(key models.SeriesKey) bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.assigned[key]
}

// Assigned returns the assigned series sorted by key
func (pm *PartitionManager) Assigned() []models.SeriesKey {
	pm.mu.RLock()
	keys := make([]models.SeriesKey, 0, len(pm.assigned))
	for k := range pm.assigned {
		keys = append(keys, k)
	}
	pm.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// UpdateWorkerCount changes the worker count and drops assignments this
// worker no longer owns. It returns the dropped series.
func (pm *PartitionManager) UpdateWorkerCount(totalWorkers int) ([]models.SeriesKey, error) {
	if totalWorkers <= 0 {
		return nil, fmt.Errorf("total workers must be positive, got %d", totalWorkers)
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.workerID >= totalWorkers {
		return nil, fmt.Errorf("worker ID %d must be less than total workers %d", pm.workerID, totalWorkers)
	}
	pm.totalWorkers = totalWorkers

	var dropped []models.SeriesKey
	for k := range pm.assigned {
		if pubsub.Partition(k, totalWorkers) != pm.workerID {
			delete(pm.assigned, k)
			dropped = append(dropped, k)
		}
	}
	return dropped, nil
}
