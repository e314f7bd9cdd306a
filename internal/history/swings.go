package history

import (
	"time"

	"github.com/mohamedkhairy/swing-detector/internal/models"
)

// Swings is the append-only list of confirmed swings for one series.
type Swings struct {
	items []models.SwingPoint
}

// NewSwings creates a swing list seeded with existing swings (chronological).
func NewSwings(initial ...models.SwingPoint) *Swings {
	s := &Swings{items: make([]models.SwingPoint, 0, len(initial)+16)}
	s.items = append(s.items, initial...)
	return s
}

// AppendSwing appends a swing.
func (s *Swings) AppendSwing(sw models.SwingPoint) {
	s.items = append(s.items, sw)
}

// LatestSwings returns up to count swings, most recent first.
func (s *Swings) LatestSwings(count int) []models.SwingPoint {
	if count > len(s.items) {
		count = len(s.items)
	}
	if count <= 0 {
		return nil
	}
	out := make([]models.SwingPoint, count)
	for i := 0; i < count; i++ {
		out[i] = s.items[len(s.items)-1-i]
	}
	return out
}

// Len returns the number of swings.
func (s *Swings) Len() int {
	return len(s.items)
}

// All returns a copy of every swing, oldest first.
func (s *Swings) All() []models.SwingPoint {
	out := make([]models.SwingPoint, len(s.items))
	copy(out, s.items)
	return out
}

// Between returns swings with from <= time <= to, oldest first.
func (s *Swings) Between(from, to time.Time) []models.SwingPoint {
	var out []models.SwingPoint
	for _, sw := range s.items {
		if !sw.Time.Before(from) && !sw.Time.After(to) {
			out = append(out, sw)
		}
	}
	return out
}

// Before returns the latest swing with time strictly before t, of direction
// dir unless dir is empty.
func (s *Swings) Before(t time.Time, dir models.Direction) (models.SwingPoint, bool) {
	return s.pick(
		func(sw models.SwingPoint) bool { return sw.Time.Before(t) && matches(sw, dir) },
		func(sw, best models.SwingPoint) bool { return sw.Time.After(best.Time) },
	)
}

// After returns the earliest swing with time strictly after t, of direction
// dir unless dir is empty.
func (s *Swings) After(t time.Time, dir models.Direction) (models.SwingPoint, bool) {
	return s.pick(
		func(sw models.SwingPoint) bool { return sw.Time.After(t) && matches(sw, dir) },
		func(sw, best models.SwingPoint) bool { return sw.Time.Before(best.Time) },
	)
}

// Highest returns the highest priced swing, the earliest on ties.
func (s *Swings) Highest() (models.SwingPoint, bool) {
	return s.pick(nil, func(sw, best models.SwingPoint) bool {
		return sw.Price > best.Price || (sw.Price == best.Price && sw.Time.Before(best.Time))
	})
}

// Lowest returns the lowest priced swing, the earliest on ties.
func (s *Swings) Lowest() (models.SwingPoint, bool) {
	return s.pick(nil, func(sw, best models.SwingPoint) bool {
		return sw.Price < best.Price || (sw.Price == best.Price && sw.Time.Before(best.Time))
	})
}

func (s *Swings) pick(keep func(models.SwingPoint) bool, better func(sw, best models.SwingPoint) bool) (models.SwingPoint, bool) {
	var best models.SwingPoint
	found := false
	for _, sw := range s.items {
		if keep != nil && !keep(sw) {
			continue
		}
		if !found || better(sw, best) {
			best, found = sw, true
		}
	}
	return best, found
}

func matches(sw models.SwingPoint, dir models.Direction) bool {
	return dir == "" || sw.Direction == dir
}

// DeleteAfter drops swings confirmed strictly after t and returns how many
// were removed.
func (s *Swings) DeleteAfter(t time.Time) int {
	keep := len(s.items)
	for keep > 0 && s.items[keep-1].Confirmed().After(t) {
		keep--
	}
	removed := len(s.items) - keep
	s.items = s.items[:keep]
	return removed
}

// Clone returns an independent copy.
func (s *Swings) Clone() *Swings {
	return NewSwings(s.items...)
}
