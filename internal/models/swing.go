package models

import (
	"fmt"
	"strings"
	"time"
)

// Direction of a price leg.
type Direction string

const (
	DirectionUp   Direction = "UP"
	DirectionDown Direction = "DOWN"
)

// Opposite returns the reverse direction.
func (d Direction) Opposite() Direction {
	if d == DirectionUp {
		return DirectionDown
	}
	return DirectionUp
}

// Valid reports whether d is UP or DOWN.
func (d Direction) Valid() bool {
	return d == DirectionUp || d == DirectionDown
}

// ParseDirection parses "up"/"down" case-insensitively.
func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToUpper(strings.TrimSpace(s))) {
	case DirectionUp:
		return DirectionUp, nil
	case DirectionDown:
		return DirectionDown, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDirection, s)
}

// SwingPoint is a confirmed pivot. Direction is the direction of the leg that
// ended at this point, so a top is an UP swing and a bottom is a DOWN swing.
type SwingPoint struct {
	Time         time.Time `json:"time" yaml:"time"`
	Price        float64   `json:"price" yaml:"price"`
	Direction    Direction `json:"direction" yaml:"direction"`
	Timeframe    Timeframe `json:"timeframe" yaml:"timeframe"`
	Length       *float64  `json:"length,omitempty" yaml:"length,omitempty"`
	LengthInBars *float64  `json:"length_in_bars,omitempty" yaml:"length_in_bars,omitempty"`
	// ConfirmedAt is the time of the bar that confirmed the swing.
	ConfirmedAt time.Time `json:"confirmed_at,omitempty" yaml:"confirmed_at,omitempty"`
}

// Confirmed returns ConfirmedAt, or Time for swings that predate it.
func (s SwingPoint) Confirmed() time.Time {
	if s.ConfirmedAt.IsZero() {
		return s.Time
	}
	return s.ConfirmedAt
}

// Equal compares swings by (time, direction, timeframe).
func (s SwingPoint) Equal(other SwingPoint) bool {
	return s.Time.Equal(other.Time) && s.Direction == other.Direction && s.Timeframe == other.Timeframe
}

// Validate validates a SwingPoint
func (s *SwingPoint) Validate() error {
	if s.Time.IsZero() {
		return ErrInvalidTimestamp
	}
	if !s.Direction.Valid() {
		return ErrInvalidDirection
	}
	if !s.Timeframe.Valid() {
		return ErrInvalidTimeframe
	}
	return nil
}

func (s SwingPoint) String() string {
	return fmt.Sprintf("%s %s %s @ %.6f", s.Timeframe, s.Direction, s.Time.Format(time.RFC3339), s.Price)
}

// SeriesKey identifies one bar stream and the engine that consumes it.
type SeriesKey struct {
	Instrument string    `json:"instrument" yaml:"instrument"`
	Timeframe  Timeframe `json:"timeframe" yaml:"timeframe"`
}

// NewSeriesKey builds a validated key.
func NewSeriesKey(instrument string, tf Timeframe) (SeriesKey, error) {
	k := SeriesKey{Instrument: instrument, Timeframe: tf}
	return k, k.Validate()
}

// Validate validates a SeriesKey
func (k SeriesKey) Validate() error {
	if strings.TrimSpace(k.Instrument) == "" || strings.Contains(k.Instrument, ":") {
		return ErrInvalidInstrument
	}
	if !k.Timeframe.Valid() {
		return ErrInvalidTimeframe
	}
	return nil
}

func (k SeriesKey) String() string {
	return k.Instrument + ":" + string(k.Timeframe)
}

// ParseSeriesKey parses the "INSTRUMENT:TF" form produced by String.
func ParseSeriesKey(s string) (SeriesKey, error) {
	instrument, tf, ok := strings.Cut(s, ":")
	if !ok {
		return SeriesKey{}, fmt.Errorf("%w: %q", ErrInvalidInstrument, s)
	}
	timeframe, err := ParseTimeframe(tf)
	if err != nil {
		return SeriesKey{}, err
	}
	return NewSeriesKey(instrument, timeframe)
}
