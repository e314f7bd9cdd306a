package models

import "errors"

var (
	ErrInvalidInstrument = errors.New("invalid instrument")
	ErrInvalidTimeframe  = errors.New("invalid timeframe")
	ErrInvalidPrice      = errors.New("invalid price")
	ErrInvalidTimestamp  = errors.New("invalid timestamp")
	ErrInvalidBar        = errors.New("invalid bar (high < low)")
	ErrInvalidBarBody    = errors.New("invalid bar (open/close outside high-low range)")
	ErrInvalidVolume     = errors.New("invalid volume")
	ErrInvalidDirection  = errors.New("invalid direction")
)
