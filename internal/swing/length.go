package swing

import (
	"time"

	"github.com/mohamedkhairy/swing-detector/internal/models"
)

// BarCounter counts bars in an inclusive time range.
type BarCounter interface {
	CountBetween(from, to time.Time) int
}

// Annotate returns a copy of swings (oldest first) where every swing that has
// a successor carries the length of the leg it starts: Length in units of its
// timeframe and LengthInBars as the bars in (swing, next]. The last swing is
// left as is. bars may be nil, in which case only Length is filled.
func Annotate(swings []models.SwingPoint, bars BarCounter) []models.SwingPoint {
	out := make([]models.SwingPoint, len(swings))
	copy(out, swings)
	for i := 0; i+1 < len(out); i++ {
		from, to := out[i].Time, out[i+1].Time
		length := out[i].Timeframe.UnitsBetween(from, to)
		out[i].Length = &length
		if bars != nil {
			count := float64(bars.CountBetween(from.Add(time.Nanosecond), to))
			out[i].LengthInBars = &count
		}
	}
	return out
}
