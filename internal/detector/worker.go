// Package detector runs swing engines as long-lived per-series workers. Each
// series gets one goroutine that exclusively owns its engine, bar history and
// swing list; bars reach it through a buffered inbox.
package detector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mohamedkhairy/swing-detector/internal/history"
	"github.com/mohamedkhairy/swing-detector/internal/models"
	"github.com/mohamedkhairy/swing-detector/internal/storage"
	"github.com/mohamedkhairy/swing-detector/internal/swing"
	"github.com/mohamedkhairy/swing-detector/pkg/logger"
)

const (
	serviceName = "swing-detector"
	ioTimeout   = 5 * time.Second
)

var (
	// ErrWorkerStopped is returned when a stopped worker is used.
	ErrWorkerStopped = errors.New("worker stopped")
	// ErrSeedMismatch means a checkpoint does not line up with the bars
	// loaded for it.
	ErrSeedMismatch = errors.New("checkpoint does not match bar history")
)

// WorkerConfig holds per-series worker settings
type WorkerConfig struct {
	Engine swing.Config
	// HistoryCapacity is raised to Engine.MinHistory() when lower.
	HistoryCapacity int
	CheckpointEvery int
	InboxSize       int
	// RecordBars writes each accepted bar to Deps.Bars.
	RecordBars bool
}

// DefaultWorkerConfig returns default configuration
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Engine:          swing.DefaultConfig(),
		HistoryCapacity: 500,
		CheckpointEvery: 1,
		InboxSize:       256,
	}
}

func (c WorkerConfig) capacity() int {
	if floor := c.Engine.MinHistory(); c.HistoryCapacity < floor {
		return floor
	}
	return c.HistoryCapacity
}

// Deps are the collaborators shared by all workers. Every field is optional.
type Deps struct {
	Contexts storage.ContextStorage
	Bars     storage.BarStorage
	Swings   storage.SwingStorage
	Sink     SwingSink
	// OnError is called on the worker goroutine for engine failures other
	// than precondition violations.
	OnError func(key models.SeriesKey, err error)
}

// Seed is the state a worker starts from.
type Seed struct {
	// Context is nil for a fresh start.
	Context *swing.DetectionContext
	// Bars is the history window ending at Context.LastBarTime.
	Bars   []models.Bar
	Swings []models.SwingPoint
	// Pending holds stored bars newer than the checkpoint; they are replayed
	// before the inbox is read.
	Pending []models.Bar
}

// WorkerStats holds statistics about a worker
type WorkerStats struct {
	BarsProcessed int64              `json:"bars_processed"`
	SwingsEmitted int64              `json:"swings_emitted"`
	BarsDropped   int64              `json:"bars_dropped"`
	Errors        int64              `json:"errors"`
	Version       int64              `json:"version"`
	LastBarTime   time.Time          `json:"last_bar_time"`
	LastSwing     *models.SwingPoint `json:"last_swing,omitempty"`
}

// Worker owns the detection state of one series.
type Worker struct {
	key  models.SeriesKey
	cfg  WorkerConfig
	deps Deps

	engine  *swing.Engine
	history *history.Bars
	swings  *history.Swings
	pending []models.Bar

	inbox   chan models.Bar
	control chan func()
	quit    chan struct{}
	done    chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool

	sinceCheckpoint int

	statsMu sync.RWMutex
	stats   WorkerStats
}

// NewWorker creates a worker for key. seed may be nil.
func NewWorker(key models.SeriesKey, cfg WorkerConfig, deps Deps, seed *Seed) (*Worker, error) {
	if cfg.CheckpointEvery < 1 {
		cfg.CheckpointEvery = 1
	}
	if cfg.InboxSize < 1 {
		cfg.InboxSize = 1
	}
	w := &Worker{
		key:     key,
		cfg:     cfg,
		deps:    deps,
		inbox:   make(chan models.Bar, cfg.InboxSize),
		control: make(chan func()),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if err := w.reset(seed); err != nil {
		return nil, err
	}
	if seed != nil {
		w.pending = seed.Pending
	}
	return w, nil
}

// reset rebuilds the engine and its stores from seed.
func (w *Worker) reset(seed *Seed) error {
	if seed == nil {
		seed = &Seed{}
	}
	bars, err := history.NewBars(w.cfg.capacity())
	if err != nil {
		return err
	}
	if err := bars.Load(seed.Bars); err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}
	swings := history.NewSwings(seed.Swings...)
	engine, err := swing.NewEngine(w.key, w.cfg.Engine, bars, swings)
	if err != nil {
		return err
	}
	if c := seed.Context; c != nil {
		latest, ok := bars.BarByOffset(0)
		if !ok || !latest.Time.Equal(c.LastBarTime) {
			return fmt.Errorf("%w: checkpoint at %s", ErrSeedMismatch, c.LastBarTime.Format(time.RFC3339))
		}
		if err := engine.Restore(c); err != nil {
			return err
		}
	}

	w.engine, w.history, w.swings = engine, bars, swings
	w.sinceCheckpoint = 0

	c := engine.Context()
	w.statsMu.Lock()
	w.stats.Version = c.Version
	w.stats.LastBarTime = c.LastBarTime
	w.stats.LastSwing = nil
	if latest := swings.LatestSwings(1); len(latest) == 1 {
		sw := latest[0]
		w.stats.LastSwing = &sw
	}
	w.statsMu.Unlock()
	return nil
}

// Key returns the series served by the worker
func (w *Worker) Key() models.SeriesKey {
	return w.key
}

// Start launches the worker goroutine
func (w *Worker) Start() {
	w.startOnce.Do(func() {
		w.started.Store(true)
		go w.run()
	})
}

// Stop drains the inbox, writes a final checkpoint and waits for the
// goroutine to exit.
func (w *Worker) Stop() {
	if !w.started.Load() {
		return
	}
	w.stopOnce.Do(func() { close(w.quit) })
	<-w.done
}

// Enqueue hands a bar to the worker. It blocks while the inbox is full.
func (w *Worker) Enqueue(bar models.Bar) error {
	select {
	case <-w.quit:
		return ErrWorkerStopped
	default:
	}
	select {
	case w.inbox <- bar:
		return nil
	case <-w.quit:
		return ErrWorkerStopped
	}
}

// do runs fn on the worker goroutine and returns its error. The worker must
// have been started.
func (w *Worker) do(fn func() error) error {
	result := make(chan error, 1)
	select {
	case w.control <- func() { result <- fn() }:
		return <-result
	case <-w.done:
		return ErrWorkerStopped
	}
}

// Context returns a snapshot of the live detection context.
func (w *Worker) Context() (*swing.DetectionContext, error) {
	var c *swing.DetectionContext
	err := w.do(func() error {
		c = w.engine.Context()
		return nil
	})
	return c, err
}

// Swings returns the swings held in memory, oldest first.
func (w *Worker) Swings() ([]models.SwingPoint, error) {
	var out []models.SwingPoint
	err := w.do(func() error {
		out = w.swings.All()
		return nil
	})
	return out, err
}

// Flush waits until every bar enqueued before the call is processed.
func (w *Worker) Flush() error {
	return w.do(func() error {
		w.drain()
		return nil
	})
}

func (w *Worker) drain() {
	for {
		select {
		case bar := <-w.inbox:
			w.handle(bar, true)
		default:
			return
		}
	}
}

// GetStats returns current worker statistics
func (w *Worker) GetStats() WorkerStats {
	w.statsMu.RLock()
	defer w.statsMu.RUnlock()
	return w.stats
}

func (w *Worker) run() {
	activeWorkers.Inc()
	defer activeWorkers.Dec()
	defer close(w.done)

	if len(w.pending) > 0 {
		logger.Info("Replaying stored bars",
			logger.Series(w.key),
			logger.Int("bar_count", len(w.pending)),
		)
		for _, bar := range w.pending {
			w.handle(bar, false)
		}
		w.pending = nil
	}

	for {
		select {
		case bar := <-w.inbox:
			w.handle(bar, true)
		case fn := <-w.control:
			fn()
		case <-w.quit:
			w.drain()
			if w.sinceCheckpoint > 0 {
				w.checkpoint()
			}
			logger.Debug("Worker stopped", logger.Series(w.key))
			return
		}
	}
}

// handle runs one bar through history, engine, sink and checkpointing.
func (w *Worker) handle(bar models.Bar, record bool) {
	if err := bar.Validate(); err != nil {
		w.drop(bar, "invalid", err)
		return
	}
	if err := w.history.Append(bar); err != nil {
		w.drop(bar, "out_of_order", err)
		return
	}
	start := time.Now()
	out, err := w.engine.Process(bar)
	processingLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		// window and engine stay on the same latest bar
		w.history.DropLatest()
		w.fail(bar, err)
		return
	}
	if record && w.cfg.RecordBars && w.deps.Bars != nil {
		w.record(bar)
	}
	barsProcessed.WithLabelValues(string(w.key.Timeframe)).Inc()

	w.statsMu.Lock()
	w.stats.BarsProcessed++
	w.stats.Version++
	w.stats.LastBarTime = bar.Time
	if out.Swing != nil {
		sw := *out.Swing
		w.stats.SwingsEmitted++
		w.stats.LastSwing = &sw
	}
	w.statsMu.Unlock()

	if out.Swing != nil {
		w.emit(*out.Swing, out.Cause)
	}

	w.sinceCheckpoint++
	if w.sinceCheckpoint >= w.cfg.CheckpointEvery {
		w.checkpoint()
	}
}

func (w *Worker) record(bar models.Bar) {
	ctx, cancel := context.WithTimeout(context.Background(), ioTimeout)
	defer cancel()
	if err := w.deps.Bars.WriteBars(ctx, w.key, []models.Bar{bar}); err != nil {
		logger.Error("Failed to record bar",
			logger.ErrorField(err),
			logger.Series(w.key),
			logger.Time("bar_time", bar.Time),
		)
		logger.CountError(serviceName, "bar_write")
	}
}

func (w *Worker) emit(sw models.SwingPoint, cause swing.Cause) {
	swingsEmitted.WithLabelValues(string(w.key.Timeframe), string(sw.Direction), string(cause)).Inc()
	logger.Info("Swing detected",
		logger.Series(w.key),
		logger.String("direction", string(sw.Direction)),
		logger.Time("swing_time", sw.Time),
		logger.Float64("price", sw.Price),
		logger.String("cause", string(cause)),
	)
	if w.deps.Sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), ioTimeout)
	defer cancel()
	if err := w.deps.Sink.HandleSwing(ctx, w.key, sw, cause); err != nil {
		logger.Error("Failed to deliver swing",
			logger.ErrorField(err),
			logger.Series(w.key),
			logger.Time("swing_time", sw.Time),
		)
		logger.CountError(serviceName, "swing_sink")
	}
}

func (w *Worker) drop(bar models.Bar, reason string, err error) {
	barsDropped.WithLabelValues(reason).Inc()
	w.statsMu.Lock()
	w.stats.BarsDropped++
	w.statsMu.Unlock()
	logger.Warn("Bar dropped",
		logger.ErrorField(err),
		logger.Series(w.key),
		logger.Time("bar_time", bar.Time),
		logger.String("reason", reason),
	)
}

func (w *Worker) fail(bar models.Bar, err error) {
	if errors.Is(err, swing.ErrPreconditionViolation) {
		engineErrors.WithLabelValues("precondition").Inc()
		w.drop(bar, "precondition", err)
		return
	}

	kind := "unknown"
	switch {
	case errors.Is(err, swing.ErrInconsistentState):
		kind = "inconsistent_state"
	case errors.Is(err, swing.ErrInsufficientHistory):
		kind = "insufficient_history"
	}
	engineErrors.WithLabelValues(kind).Inc()
	logger.CountError(serviceName, kind)
	w.statsMu.Lock()
	w.stats.Errors++
	w.statsMu.Unlock()

	logger.Error("Engine failed to process bar",
		logger.ErrorField(err),
		logger.Series(w.key),
		logger.Time("bar_time", bar.Time),
		logger.String("kind", kind),
	)
	if w.deps.OnError != nil {
		w.deps.OnError(w.key, err)
	}
}

func (w *Worker) checkpoint() {
	if w.deps.Contexts == nil {
		w.sinceCheckpoint = 0
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), ioTimeout)
	defer cancel()
	if err := w.deps.Contexts.SaveContext(ctx, w.key, w.engine.Context()); err != nil {
		checkpointsSaved.WithLabelValues("error").Inc()
		logger.Error("Failed to save context checkpoint",
			logger.ErrorField(err),
			logger.Series(w.key),
		)
		logger.CountError(serviceName, "checkpoint")
		return
	}
	checkpointsSaved.WithLabelValues("ok").Inc()
	w.sinceCheckpoint = 0
}
