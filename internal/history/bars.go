// Package history holds the bounded in-memory bar window and the swing list
// that a detection engine reads while processing one series.
package history

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/mohamedkhairy/swing-detector/internal/models"
)

var (
	ErrOutOfOrder    = errors.New("bar time does not follow the latest bar")
	ErrInvalidWindow = errors.New("history capacity must be positive")
)

// Bars is a fixed-capacity ring of bars ordered by time. The oldest bar is
// evicted when the ring is full. It is not safe for concurrent use; a series
// worker owns it exclusively.
type Bars struct {
	buf   []models.Bar
	start int
	size  int
	// evicted is the bar pushed out by the latest Append, kept so
	// DropLatest can put it back.
	evicted    models.Bar
	hasEvicted bool
}

// NewBars creates a window holding at most capacity bars.
func NewBars(capacity int) (*Bars, error) {
	if capacity <= 0 {
		return nil, ErrInvalidWindow
	}
	return &Bars{buf: make([]models.Bar, capacity)}, nil
}

// Capacity returns the maximum number of bars retained.
func (h *Bars) Capacity() int {
	return len(h.buf)
}

// Len returns the number of bars currently retained.
func (h *Bars) Len() int {
	return h.size
}

// Append adds a bar after the latest one.
func (h *Bars) Append(bar models.Bar) error {
	if h.size > 0 {
		latest := h.at(h.size - 1)
		if !bar.Time.After(latest.Time) {
			return fmt.Errorf("%w: %s <= %s", ErrOutOfOrder, bar.Time.Format(time.RFC3339), latest.Time.Format(time.RFC3339))
		}
	}
	if h.size < len(h.buf) {
		h.buf[(h.start+h.size)%len(h.buf)] = bar
		h.size++
		h.hasEvicted = false
		return nil
	}
	h.evicted, h.hasEvicted = h.buf[h.start], true
	h.buf[h.start] = bar
	h.start = (h.start + 1) % len(h.buf)
	return nil
}

// DropLatest removes the latest bar and reports whether there was one. When
// the Append that added it evicted the oldest bar, that bar comes back, so
// Append followed by DropLatest leaves the window as it was.
func (h *Bars) DropLatest() bool {
	if h.size == 0 {
		return false
	}
	if h.hasEvicted {
		h.start = (h.start - 1 + len(h.buf)) % len(h.buf)
		h.buf[h.start] = h.evicted
		h.hasEvicted = false
		return true
	}
	h.size--
	return true
}

// Load replaces the content with bars (chronological order). Only the most
// recent Capacity bars are kept.
func (h *Bars) Load(bars []models.Bar) error {
	h.start, h.size, h.hasEvicted = 0, 0, false
	if len(bars) > len(h.buf) {
		bars = bars[len(bars)-len(h.buf):]
	}
	for _, b := range bars {
		if err := h.Append(b); err != nil {
			return err
		}
	}
	return nil
}

// Clone returns an independent copy of the window.
func (h *Bars) Clone() *Bars {
	c := &Bars{buf: make([]models.Bar, len(h.buf)), start: h.start, size: h.size, evicted: h.evicted, hasEvicted: h.hasEvicted}
	copy(c.buf, h.buf)
	return c
}

// Chronological returns the retained bars oldest first.
func (h *Bars) Chronological() []models.Bar {
	out := make([]models.Bar, h.size)
	for i := 0; i < h.size; i++ {
		out[i] = h.at(i)
	}
	return out
}

// at returns the i-th bar in chronological order.
func (h *Bars) at(i int) models.Bar {
	return h.buf[(h.start+i)%len(h.buf)]
}

// BarByOffset returns the bar shift positions back from the latest (0 = latest).
func (h *Bars) BarByOffset(shift int) (models.Bar, bool) {
	if shift < 0 || shift >= h.size {
		return models.Bar{}, false
	}
	return h.at(h.size - 1 - shift), true
}

// BarAt returns the bar with exactly time t.
func (h *Bars) BarAt(t time.Time) (models.Bar, bool) {
	i := h.search(t)
	if i < h.size && h.at(i).Time.Equal(t) {
		return h.at(i), true
	}
	return models.Bar{}, false
}

// search returns the chronological index of the first bar with time >= t.
func (h *Bars) search(t time.Time) int {
	return sort.Search(h.size, func(i int) bool {
		return !h.at(i).Time.Before(t)
	})
}

// bounds returns the chronological index range [lo, hi) of bars within [from, to].
func (h *Bars) bounds(from, to time.Time) (int, int) {
	if to.Before(from) {
		return 0, 0
	}
	lo := h.search(from)
	hi := sort.Search(h.size, func(i int) bool {
		return h.at(i).Time.After(to)
	})
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

// HighestBar returns the bar with the highest high in [from, to]. The earliest
// bar wins ties.
func (h *Bars) HighestBar(from, to time.Time) (models.Bar, bool) {
	lo, hi := h.bounds(from, to)
	if lo == hi {
		return models.Bar{}, false
	}
	best := h.at(lo)
	for i := lo + 1; i < hi; i++ {
		if b := h.at(i); b.High > best.High {
			best = b
		}
	}
	return best, true
}

// LowestBar returns the bar with the lowest low in [from, to]. The earliest bar
// wins ties.
func (h *Bars) LowestBar(from, to time.Time) (models.Bar, bool) {
	lo, hi := h.bounds(from, to)
	if lo == hi {
		return models.Bar{}, false
	}
	best := h.at(lo)
	for i := lo + 1; i < hi; i++ {
		if b := h.at(i); b.Low < best.Low {
			best = b
		}
	}
	return best, true
}

// CountBetween returns the number of bars with from <= time <= to.
func (h *Bars) CountBetween(from, to time.Time) int {
	lo, hi := h.bounds(from, to)
	return hi - lo
}

// LatestBars returns up to count bars, most recent first.
func (h *Bars) LatestBars(count int) []models.Bar {
	if count > h.size {
		count = h.size
	}
	if count <= 0 {
		return nil
	}
	out := make([]models.Bar, count)
	for i := 0; i < count; i++ {
		out[i] = h.at(h.size - 1 - i)
	}
	return out
}
