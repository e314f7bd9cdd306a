package swing

import (
	"errors"
	"fmt"
	"time"

	"github.com/mohamedkhairy/swing-detector/internal/models"
)

var (
	// ErrPreconditionViolation marks malformed or out-of-order input. The
	// context is left untouched.
	ErrPreconditionViolation = errors.New("precondition violation")
	// ErrInsufficientHistory marks an optional lookback that returned nothing.
	// Rules treat it as "does not fire"; it never escapes ProcessBar.
	ErrInsufficientHistory = errors.New("insufficient history")
	// ErrInconsistentState marks a required lookback that failed, usually a
	// history window too short for the configured reverse bars count.
	ErrInconsistentState = errors.New("inconsistent state")
	// ErrNotImplemented is returned by storage backends for unsupported
	// operations.
	ErrNotImplemented = errors.New("not implemented")
)

// EngineError describes a failed ProcessBar call.
type EngineError struct {
	Kind    error
	Key     models.SeriesKey
	BarTime time.Time
	Detail  string
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("%v: %s at %s: %s", e.Kind, e.Key, e.BarTime.Format(time.RFC3339), e.Detail)
}

func (e *EngineError) Unwrap() error {
	return e.Kind
}

func (e *Engine) fail(kind error, bar models.Bar, format string, args ...any) error {
	return &EngineError{
		Kind:    kind,
		Key:     e.key,
		BarTime: bar.Time,
		Detail:  fmt.Sprintf(format, args...),
	}
}
