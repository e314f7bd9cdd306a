package replay

import (
	"fmt"
	"time"

	"github.com/mohamedkhairy/swing-detector/internal/history"
	"github.com/mohamedkhairy/swing-detector/internal/models"
	"github.com/mohamedkhairy/swing-detector/internal/swing"
	"github.com/mohamedkhairy/swing-detector/pkg/logger"
	"github.com/oklog/ulid/v2"
)

// Event records which bar confirmed a swing and why.
type Event struct {
	BarTime time.Time         `json:"bar_time" yaml:"bar_time"`
	Cause   swing.Cause       `json:"cause" yaml:"cause"`
	Swing   models.SwingPoint `json:"swing" yaml:"swing"`
}

// Result is the outcome of one replay.
type Result struct {
	RunID  string           `json:"run_id" yaml:"run_id"`
	Key    models.SeriesKey `json:"series" yaml:"series"`
	Config swing.Config     `json:"config" yaml:"config"`
	Bars   int              `json:"bars" yaml:"bars"`
	// Swings are oldest first and carry leg lengths.
	Swings     []models.SwingPoint     `json:"swings" yaml:"swings"`
	Events     []Event                 `json:"events" yaml:"events"`
	Context    *swing.DetectionContext `json:"context" yaml:"-"`
	StartedAt  time.Time               `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time               `json:"finished_at" yaml:"finished_at"`
}

// NewRunID returns a lexically sortable run id for t.
func NewRunID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), ulid.DefaultEntropy()).String()
}

// Run feeds bars through a fresh engine. The swings depend only on bars and
// cfg; the run id and timestamps are the only varying fields.
func Run(key models.SeriesKey, bars []models.Bar, cfg swing.Config) (*Result, error) {
	started := time.Now().UTC()

	capacity := cfg.MinHistory()
	if len(bars) > capacity {
		capacity = len(bars)
	}
	h, err := history.NewBars(capacity)
	if err != nil {
		return nil, err
	}
	swings := history.NewSwings()
	engine, err := swing.NewEngine(key, cfg, h, swings)
	if err != nil {
		return nil, err
	}

	res := &Result{
		RunID:     NewRunID(started),
		Key:       key,
		Config:    engine.Config(),
		Bars:      len(bars),
		StartedAt: started,
	}
	for i, bar := range bars {
		if err := h.Append(bar); err != nil {
			return nil, fmt.Errorf("bar %d: %w", i, err)
		}
		out, err := engine.Process(bar)
		if err != nil {
			return nil, fmt.Errorf("bar %d: %w", i, err)
		}
		if out.Swing != nil {
			res.Events = append(res.Events, Event{BarTime: bar.Time, Cause: out.Cause, Swing: *out.Swing})
		}
	}

	res.Swings = swing.Annotate(swings.All(), h)
	res.Context = engine.Context()
	res.FinishedAt = time.Now().UTC()

	logger.Debug("Replay finished",
		logger.Series(key),
		logger.String("run_id", res.RunID),
		logger.Int("bars", len(bars)),
		logger.Int("swings", len(res.Swings)),
		logger.Duration("elapsed", res.FinishedAt.Sub(started)),
	)
	return res, nil
}
