package swing

import (
	"fmt"
	"time"

	"github.com/mohamedkhairy/swing-detector/internal/models"
)

// State is the lifecycle stage of a DetectionContext.
type State string

const (
	StateUninitialized State = "UNINITIALIZED"
	StateSeeded        State = "SEEDED"
	StateDirected      State = "DIRECTED"
)

// DetectionContext is the complete mutable state of one engine. It holds only
// values, so a struct copy is a deep copy.
type DetectionContext struct {
	Version          int64     `json:"version"`
	State            State     `json:"state"`
	ReverseBarsCount int       `json:"reverse_bars_count"`
	LastBarTime      time.Time `json:"last_bar_time"`

	// high/low of the previous bar
	LocalHigh float64 `json:"local_high"`
	LocalLow  float64 `json:"local_low"`

	// running extremes of the leg in progress
	CurrentHigh float64 `json:"current_high"`
	CurrentLow  float64 `json:"current_low"`
	GlobalHigh  Level   `json:"global_high"`
	GlobalLow   Level   `json:"global_low"`

	Direction models.Direction `json:"direction,omitempty"`

	LastWorkingPoint time.Time `json:"last_working_point"`
	LastWorkingPrice Level     `json:"last_working_price"`

	LastUpSwing   Level `json:"last_up_swing"`
	LastDownSwing Level `json:"last_down_swing"`

	WaitingReverseCount int `json:"waiting_reverse_count"`
}

// NewDetectionContext returns an uninitialized context.
func NewDetectionContext(reverseBarsCount int) *DetectionContext {
	return &DetectionContext{
		State:            StateUninitialized,
		ReverseBarsCount: reverseBarsCount,
	}
}

// Snapshot returns an independent copy suitable for checkpointing.
func (c *DetectionContext) Snapshot() *DetectionContext {
	cp := *c
	return &cp
}

// Directed reports whether a leg direction has been established.
func (c *DetectionContext) Directed() bool {
	return c.State == StateDirected
}

// Validate checks the structural invariants of a context, typically after it
// was loaded from storage.
func (c *DetectionContext) Validate() error {
	if c.ReverseBarsCount < 1 {
		return fmt.Errorf("reverse bars count must be positive, got %d", c.ReverseBarsCount)
	}
	switch c.State {
	case StateUninitialized:
		return nil
	case StateSeeded:
		if c.Direction != "" {
			return fmt.Errorf("seeded context must not carry a direction")
		}
	case StateDirected:
		if !c.Direction.Valid() {
			return fmt.Errorf("directed context has invalid direction %q", c.Direction)
		}
	default:
		return fmt.Errorf("unknown context state %q", c.State)
	}
	if c.LastBarTime.IsZero() {
		return fmt.Errorf("context in state %s has no last bar time", c.State)
	}
	if c.LastWorkingPoint.After(c.LastBarTime) {
		return fmt.Errorf("last working point %s is after last bar %s",
			c.LastWorkingPoint.Format(time.RFC3339), c.LastBarTime.Format(time.RFC3339))
	}
	return nil
}
