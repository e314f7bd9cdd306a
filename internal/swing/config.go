package swing

import "fmt"

// PriceSource selects the price reported for an emitted swing.
type PriceSource string

const (
	// PriceAnchorBar reports the extreme of the bar at the last working point.
	PriceAnchorBar PriceSource = "anchor_bar"
	// PriceWorkingPrice reports the tracked last working price, falling back
	// to the anchor bar when it is unset.
	PriceWorkingPrice PriceSource = "working_price"
)

// Variant toggles between behaviours that differ across historical revisions
// of the reversal rules.
type Variant struct {
	DuplicateGuard bool        `json:"duplicate_guard" yaml:"duplicate_guard"`
	PriceSource    PriceSource `json:"price_source" yaml:"price_source"`
	// RetroWindow is the number of bars re-examined by the retrospective
	// scan. Zero means ReverseBarsCount.
	RetroWindow int `json:"retro_window" yaml:"retro_window"`
}

// Config holds engine configuration
type Config struct {
	ReverseBarsCount int     `json:"reverse_bars_count" yaml:"reverse_bars_count"`
	Variant          Variant `json:"variant" yaml:"variant"`
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		ReverseBarsCount: 3,
		Variant: Variant{
			DuplicateGuard: true,
			PriceSource:    PriceAnchorBar,
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.ReverseBarsCount < 1 {
		return fmt.Errorf("reverse bars count must be at least 1, got %d", c.ReverseBarsCount)
	}
	switch c.Variant.PriceSource {
	case "", PriceAnchorBar, PriceWorkingPrice:
	default:
		return fmt.Errorf("unknown price source %q", c.Variant.PriceSource)
	}
	if c.Variant.RetroWindow < 0 {
		return fmt.Errorf("retro window must not be negative, got %d", c.Variant.RetroWindow)
	}
	return nil
}

// retroWindow returns the effective retrospective scan size.
func (c *Config) retroWindow() int {
	if c.Variant.RetroWindow > 0 {
		return c.Variant.RetroWindow
	}
	return c.ReverseBarsCount
}

// MinHistory returns the smallest bar window every rule can be served from.
func (c *Config) MinHistory() int {
	n := c.ReverseBarsCount
	if w := c.retroWindow(); w > n {
		n = w
	}
	return 2*n + 11
}
