package detector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mohamedkhairy/swing-detector/internal/models"
	"github.com/mohamedkhairy/swing-detector/pkg/logger"
)

var (
	// ErrManagerStopped is returned by Submit after Stop.
	ErrManagerStopped = errors.New("manager stopped")
	// ErrNotPartitioned is returned by Rebalance on a manager that owns every
	// series.
	ErrNotPartitioned = errors.New("manager is not partitioned")
)

// ManagerConfig holds configuration for the worker manager
type ManagerConfig struct {
	Worker       WorkerConfig
	Rehydrate    bool
	SwingPreload int
	// RehydrationTimeout bounds the store reads for one series.
	RehydrationTimeout time.Duration
}

// Manager routes bars to per-series workers, creating them on first use.
type Manager struct {
	cfg        ManagerConfig
	deps       Deps
	partitions *PartitionManager
	rehydrator *Rehydrator

	mu       sync.Mutex
	workers  map[models.SeriesKey]*Worker
	starting map[models.SeriesKey]*startup
	stopped  bool
}

// startup is a worker being rehydrated. Callers asking for the same key wait
// on done instead of loading it twice.
type startup struct {
	done   chan struct{}
	worker *Worker
	err    error
}

// NewManager creates a manager. partitions may be nil, in which case every
// series is owned.
func NewManager(cfg ManagerConfig, deps Deps, partitions *PartitionManager) (*Manager, error) {
	if err := cfg.Worker.Engine.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	m := &Manager{
		cfg:        cfg,
		deps:       deps,
		partitions: partitions,
		workers:    make(map[models.SeriesKey]*Worker),
		starting:   make(map[models.SeriesKey]*startup),
	}
	if cfg.Rehydrate {
		m.rehydrator = NewRehydrator(RehydrationConfig{
			ReverseBarsCount: cfg.Worker.Engine.ReverseBarsCount,
			HistoryCapacity:  cfg.Worker.capacity(),
			SwingPreload:     cfg.SwingPreload,
			Timeout:          cfg.RehydrationTimeout,
		}, deps.Contexts, deps.Bars, deps.Swings)
	}
	return m, nil
}

// Submit routes a bar to the worker of key. Bars of series owned by another
// process are skipped.
func (m *Manager) Submit(key models.SeriesKey, bar models.Bar) error {
	if m.partitions != nil && !m.partitions.IsOwned(key) {
		barsDropped.WithLabelValues("not_owned").Inc()
		logger.Debug("Skipping bar of series owned by another worker",
			logger.Series(key),
			logger.Int("partition", m.partitions.GetPartition(key)),
		)
		return nil
	}
	w, err := m.Worker(context.Background(), key)
	if err != nil {
		return err
	}
	return w.Enqueue(bar)
}

// Worker returns the running worker of key, creating and rehydrating it if
// needed. Rehydration runs without holding the manager lock, so other series
// keep flowing while one loads.
func (m *Manager) Worker(ctx context.Context, key models.SeriesKey) (*Worker, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil, ErrManagerStopped
	}
	if w, ok := m.workers[key]; ok {
		m.mu.Unlock()
		return w, nil
	}
	if st, ok := m.starting[key]; ok {
		m.mu.Unlock()
		select {
		case <-st.done:
			return st.worker, st.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	st := &startup{done: make(chan struct{})}
	m.starting[key] = st
	m.mu.Unlock()

	w, seed, err := m.startWorker(ctx, key)

	m.mu.Lock()
	delete(m.starting, key)
	if err == nil && m.stopped {
		w.Stop()
		w, err = nil, ErrManagerStopped
	}
	if err == nil {
		m.workers[key] = w
		if m.partitions != nil {
			m.partitions.Assign(key)
		}
	}
	st.worker, st.err = w, err
	close(st.done)
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	logger.Info("Started series worker",
		logger.Series(key),
		logger.Bool("rehydrated", seed != nil && seed.Context != nil),
	)
	return w, nil
}

func (m *Manager) startWorker(ctx context.Context, key models.SeriesKey) (*Worker, *Seed, error) {
	var seed *Seed
	if m.rehydrator != nil {
		s, err := m.rehydrator.Seed(ctx, key)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to rehydrate %s: %w", key, err)
		}
		seed = s
	}
	w, err := NewWorker(key, m.cfg.Worker, m.deps, seed)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create worker for %s: %w", key, err)
	}
	w.Start()
	return w, seed, nil
}

// Lookup returns the running worker of key without creating one.
func (m *Manager) Lookup(key models.SeriesKey) (*Worker, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workers[key]
	return w, ok
}

// Preload starts workers for keys, returning how many are running. Failures
// are logged and skipped.
func (m *Manager) Preload(ctx context.Context, keys []models.SeriesKey) int {
	started := 0
	for _, key := range keys {
		if m.partitions != nil && !m.partitions.IsOwned(key) {
			continue
		}
		if _, err := m.Worker(ctx, key); err != nil {
			logger.Error("Failed to start series worker",
				logger.ErrorField(err),
				logger.Series(key),
			)
			continue
		}
		started++
	}
	return started
}

// Rollback rewinds the series to the checkpoint before t and replays stored
// bars. See Worker.Rollback.
func (m *Manager) Rollback(ctx context.Context, key models.SeriesKey, t time.Time) (RollbackResult, error) {
	w, err := m.Worker(ctx, key)
	if err != nil {
		return RollbackResult{}, err
	}
	return w.Rollback(ctx, t)
}

// Partitions returns the partition manager, nil when every series is owned.
func (m *Manager) Partitions() *PartitionManager {
	return m.partitions
}

// Rebalance applies a new process count, stopping workers of series this
// process no longer owns. Bar producers must route with the same count.
func (m *Manager) Rebalance(totalWorkers int) error {
	if m.partitions == nil {
		return ErrNotPartitioned
	}
	dropped, err := m.partitions.UpdateWorkerCount(totalWorkers)
	if err != nil {
		return err
	}
	for _, key := range dropped {
		m.mu.Lock()
		w := m.workers[key]
		delete(m.workers, key)
		m.mu.Unlock()
		if w != nil {
			w.Stop()
			logger.Info("Released series worker", logger.Series(key))
		}
	}
	return nil
}

// Flush waits until every worker has processed its queued bars.
func (m *Manager) Flush() error {
	var errs []error
	for _, w := range m.snapshot() {
		if err := w.Flush(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Keys returns the series with running workers, sorted.
func (m *Manager) Keys() []models.SeriesKey {
	workers := m.snapshot()
	keys := make([]models.SeriesKey, 0, len(workers))
	for _, w := range workers {
		keys = append(keys, w.Key())
	}
	return keys
}

// Stats returns the statistics of every worker
func (m *Manager) Stats() map[models.SeriesKey]WorkerStats {
	out := make(map[models.SeriesKey]WorkerStats)
	for _, w := range m.snapshot() {
		out[w.Key()] = w.GetStats()
	}
	return out
}

// WorkerCount returns the number of running workers
func (m *Manager) WorkerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workers)
}

// Stop drains and stops every worker. Submit fails afterwards.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.mu.Unlock()

	workers := m.snapshot()
	logger.Info("Stopping series workers", logger.Int("worker_count", len(workers)))

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			w.Stop()
		}(w)
	}
	wg.Wait()
	logger.Info("Series workers stopped")
}

// snapshot returns the workers sorted by key.
func (m *Manager) snapshot() []*Worker {
	m.mu.Lock()
	workers := make([]*Worker, 0, len(m.workers))
	for _, w := range m.workers {
		workers = append(workers, w)
	}
	m.mu.Unlock()

	sort.Slice(workers, func(i, j int) bool {
		return workers[i].key.String() < workers[j].key.String()
	})
	return workers
}
