// Package swing implements incremental swing (pivot) detection over a bar
// stream. An Engine consumes one bar at a time and confirms at most one swing
// per bar from a fixed sequence of reversal rules.
package swing

import (
	"fmt"
	"time"

	"github.com/mohamedkhairy/swing-detector/internal/models"
	"github.com/mohamedkhairy/swing-detector/pkg/logger"
)

// Cause names the rule that confirmed a reversal.
type Cause string

const (
	CauseNone           Cause = ""
	CauseLastSwingLevel Cause = "last_swing_level"
	CauseGlobalHigh     Cause = "global_high"
	CauseGlobalLow      Cause = "global_low"
	CauseWaitingBars    Cause = "waiting_bars"
	CauseFastMoving     Cause = "fast_moving"
	CauseBarsCount      Cause = "bars_count"
	CauseLastBars       Cause = "last_bars"
	CauseBarsGrow       Cause = "bars_grow"
)

// Outcome is the result of processing one bar.
type Outcome struct {
	// Swing is the confirmed swing, nil when none was emitted.
	Swing *models.SwingPoint
	// Reversed is true when the leg direction flipped. A reversal whose swing
	// duplicates the latest stored swing flips without emitting.
	Reversed bool
	Cause    Cause
}

// Engine detects swings for one series. It is not safe for concurrent use:
// exactly one goroutine may call ProcessBar for a given engine.
type Engine struct {
	key     models.SeriesKey
	cfg     Config
	history BarHistory
	swings  SwingStore
	ctx     *DetectionContext
}

// NewEngine creates an engine with a fresh context.
func NewEngine(key models.SeriesKey, cfg Config, history BarHistory, swings SwingStore) (*Engine, error) {
	if err := key.Validate(); err != nil {
		return nil, fmt.Errorf("invalid series key: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	if cfg.Variant.PriceSource == "" {
		cfg.Variant.PriceSource = PriceAnchorBar
	}
	if history == nil || swings == nil {
		return nil, fmt.Errorf("history and swing store are required")
	}
	return &Engine{
		key:     key,
		cfg:     cfg,
		history: history,
		swings:  swings,
		ctx:     NewDetectionContext(cfg.ReverseBarsCount),
	}, nil
}

// Key returns the series this engine serves.
func (e *Engine) Key() models.SeriesKey {
	return e.key
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Context returns a snapshot of the current detection context.
func (e *Engine) Context() *DetectionContext {
	return e.ctx.Snapshot()
}

// Restore replaces the engine state with a copy of c.
func (e *Engine) Restore(c *DetectionContext) error {
	if c == nil {
		return fmt.Errorf("nil context")
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid context: %w", err)
	}
	if c.ReverseBarsCount != e.cfg.ReverseBarsCount {
		return fmt.Errorf("context reverse bars count %d does not match engine %d",
			c.ReverseBarsCount, e.cfg.ReverseBarsCount)
	}
	e.ctx = c.Snapshot()
	return nil
}

// ProcessBar feeds the next bar and returns the swing it confirmed, if any.
func (e *Engine) ProcessBar(bar models.Bar) (*models.SwingPoint, error) {
	out, err := e.Process(bar)
	if err != nil {
		return nil, err
	}
	return out.Swing, nil
}

// Process is ProcessBar with rule details. On error the context is unchanged.
func (e *Engine) Process(bar models.Bar) (Outcome, error) {
	if err := bar.Validate(); err != nil {
		return Outcome{}, e.fail(ErrPreconditionViolation, bar, "invalid bar: %v", err)
	}
	if !e.ctx.LastBarTime.IsZero() && !bar.Time.After(e.ctx.LastBarTime) {
		return Outcome{}, e.fail(ErrPreconditionViolation, bar, "bar does not follow previous bar at %s",
			e.ctx.LastBarTime.Format(time.RFC3339))
	}
	if latest, ok := e.history.BarByOffset(0); !ok || !latest.Time.Equal(bar.Time) {
		return Outcome{}, e.fail(ErrPreconditionViolation, bar, "bar is not the latest history entry")
	}

	p := &pass{
		engine: e,
		c:      e.ctx.Snapshot(),
		bar:    bar,
		n:      e.cfg.ReverseBarsCount,
	}
	if err := p.run(); err != nil {
		return Outcome{}, err
	}

	p.c.LastBarTime = bar.Time
	p.c.Version++
	e.ctx = p.c

	out := Outcome{Reversed: p.reversed, Cause: p.cause}
	if p.swing != nil {
		e.swings.AppendSwing(*p.swing)
		out.Swing = p.swing
		logger.Debug("Swing confirmed",
			logger.String("series", e.key.String()),
			logger.String("cause", string(p.cause)),
			logger.String("direction", string(p.swing.Direction)),
			logger.Time("swing_time", p.swing.Time),
			logger.Float64("price", p.swing.Price),
			logger.Time("bar_time", bar.Time),
		)
	}
	return out, nil
}

// pass evaluates one bar against a working copy of the context.
type pass struct {
	engine *Engine
	c      *DetectionContext
	bar    models.Bar
	n      int

	reversed bool
	cause    Cause
	swing    *models.SwingPoint
}

func (p *pass) run() error {
	if p.c.State == StateUninitialized {
		p.seed()
		return nil
	}

	if err := p.lastSwingLevels(); err != nil {
		return err
	}
	if !p.reversed {
		if err := p.extremes(); err != nil {
			return err
		}
	}
	if !p.reversed {
		if err := p.barsCount(); err != nil {
			return err
		}
	}

	p.c.LocalHigh = p.bar.High
	p.c.LocalLow = p.bar.Low

	if !p.reversed {
		if err := p.byLastBars(); err != nil {
			return err
		}
	}

	p.refreshGlobal()

	if p.reversed {
		return nil
	}
	return p.barsGrow()
}

func (p *pass) seed() {
	c, b := p.c, p.bar
	c.LocalHigh, c.CurrentHigh = b.High, b.High
	c.LocalLow, c.CurrentLow = b.Low, b.Low
	c.State = StateSeeded
	p.refreshGlobal()
}

// refreshGlobal advances the global extreme on the side of the current leg.
// Before a direction exists the low side is tracked.
func (p *pass) refreshGlobal() {
	c := p.c
	if p.up() {
		if !c.GlobalHigh.Valid || c.CurrentHigh > c.GlobalHigh.Value {
			c.GlobalHigh = Some(c.CurrentHigh)
		}
		return
	}
	if !c.GlobalLow.Valid || c.CurrentLow < c.GlobalLow.Value {
		c.GlobalLow = Some(c.CurrentLow)
	}
}

func (p *pass) up() bool {
	return p.c.Directed() && p.c.Direction == models.DirectionUp
}

func (p *pass) down() bool {
	return p.c.Directed() && p.c.Direction == models.DirectionDown
}

func (p *pass) setDirection(d models.Direction) {
	p.c.Direction = d
	p.c.State = StateDirected
}
