package models

import (
	"math"
	"time"
)

// Bar is one finalized OHLC sample of a timeframe bucket.
type Bar struct {
	Time   time.Time `json:"time" yaml:"time"`
	Open   float64   `json:"open" yaml:"open"`
	High   float64   `json:"high" yaml:"high"`
	Low    float64   `json:"low" yaml:"low"`
	Close  float64   `json:"close" yaml:"close"`
	Volume int64     `json:"volume,omitempty" yaml:"volume,omitempty"`
}

// Validate validates a Bar
func (b *Bar) Validate() error {
	if b.Time.IsZero() {
		return ErrInvalidTimestamp
	}
	for _, p := range []float64{b.Open, b.High, b.Low, b.Close} {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return ErrInvalidPrice
		}
	}
	if b.High < b.Low {
		return ErrInvalidBar
	}
	if b.Open > b.High || b.Open < b.Low || b.Close > b.High || b.Close < b.Low {
		return ErrInvalidBarBody
	}
	if b.Volume < 0 {
		return ErrInvalidVolume
	}
	return nil
}

// Bullish reports whether the bar closed above its open.
func (b Bar) Bullish() bool {
	return b.Close > b.Open
}

// Bearish reports whether the bar closed below its open.
func (b Bar) Bearish() bool {
	return b.Close < b.Open
}
