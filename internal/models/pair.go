package models

import "math"

// SwingPair is the leg between two swings of one series, First before Second.
type SwingPair struct {
	First  SwingPoint `json:"first"`
	Second SwingPoint `json:"second"`
}

// PriceDiff is the absolute price move of the leg.
func (p SwingPair) PriceDiff() float64 {
	return math.Abs(p.Second.Price - p.First.Price)
}

// Duration is the leg length in bars of the first swing's timeframe.
func (p SwingPair) Duration() float64 {
	return p.First.Timeframe.UnitsBetween(p.First.Time, p.Second.Time)
}

// PriceRatio returns next.PriceDiff() / p.PriceDiff(). ok is false for a
// flat leg.
func (p SwingPair) PriceRatio(next SwingPair) (ratio float64, ok bool) {
	base := p.PriceDiff()
	if base == 0 {
		return 0, false
	}
	return next.PriceDiff() / base, true
}

// TimeRatio returns next.Duration() / p.Duration(). ok is false for a leg
// of zero length.
func (p SwingPair) TimeRatio(next SwingPair) (ratio float64, ok bool) {
	base := p.Duration()
	if base == 0 {
		return 0, false
	}
	return next.Duration() / base, true
}
