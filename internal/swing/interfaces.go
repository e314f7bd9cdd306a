package swing

import (
	"time"

	"github.com/mohamedkhairy/swing-detector/internal/models"
)

// BarHistory is read-only access to the recent bars of one series. The bar
// being processed must already be the latest entry.
type BarHistory interface {
	// BarByOffset returns the bar shift positions back from the latest (0 = latest).
	BarByOffset(shift int) (models.Bar, bool)
	// BarAt returns the bar with exactly time t.
	BarAt(t time.Time) (models.Bar, bool)
	// HighestBar and LowestBar search [from, to] inclusive; the earliest bar wins ties.
	HighestBar(from, to time.Time) (models.Bar, bool)
	LowestBar(from, to time.Time) (models.Bar, bool)
	// CountBetween counts bars in [from, to] inclusive.
	CountBetween(from, to time.Time) int
	// LatestBars returns up to count bars, most recent first.
	LatestBars(count int) []models.Bar
	Len() int
}

// SwingStore is the append-only swing list of one series.
type SwingStore interface {
	AppendSwing(sw models.SwingPoint)
	// LatestSwings returns up to count swings, most recent first.
	LatestSwings(count int) []models.SwingPoint
	Len() int
}
