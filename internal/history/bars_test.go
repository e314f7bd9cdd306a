package history

import (
	"testing"
	"time"

	"github.com/mohamedkhairy/swing-detector/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func bar(i int, high, low float64) models.Bar {
	return models.Bar{Time: base.Add(time.Duration(i) * time.Hour), Open: low, High: high, Low: low, Close: high}
}

func TestBars_AppendAndOffsets(t *testing.T) {
	h, err := NewBars(3)
	require.NoError(t, err)

	require.NoError(t, h.Append(bar(0, 10, 5)))
	require.NoError(t, h.Append(bar(1, 11, 6)))
	require.NoError(t, h.Append(bar(2, 12, 7)))
	require.NoError(t, h.Append(bar(3, 13, 8)))

	assert.Equal(t, 3, h.Len())

	latest, ok := h.BarByOffset(0)
	require.True(t, ok)
	assert.Equal(t, 13.0, latest.High)

	oldest, ok := h.BarByOffset(2)
	require.True(t, ok)
	assert.Equal(t, 11.0, oldest.High)

	_, ok = h.BarByOffset(3)
	assert.False(t, ok, "evicted bar must not be reachable")
	_, ok = h.BarAt(bar(0, 0, 0).Time)
	assert.False(t, ok)
}

func TestBars_DropLatest(t *testing.T) {
	tests := []struct {
		name     string
		appended int
		want     []float64
	}{
		{"empty", 0, []float64{}},
		{"not full", 2, []float64{10}},
		{"full restores evicted", 4, []float64{10, 11, 12}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := NewBars(3)
			require.NoError(t, err)
			for i := 0; i < tt.appended; i++ {
				require.NoError(t, h.Append(bar(i, float64(10+i), 5)))
			}

			assert.Equal(t, tt.appended > 0, h.DropLatest())

			highs := []float64{}
			for _, b := range h.Chronological() {
				highs = append(highs, b.High)
			}
			assert.Equal(t, tt.want, highs)
		})
	}
}

func TestBars_DropLatestThenRetry(t *testing.T) {
	h, err := NewBars(2)
	require.NoError(t, err)
	require.NoError(t, h.Append(bar(0, 10, 5)))
	require.NoError(t, h.Append(bar(1, 11, 6)))
	require.NoError(t, h.Append(bar(2, 12, 7)))

	require.True(t, h.DropLatest())
	_, ok := h.BarAt(bar(0, 0, 0).Time)
	assert.True(t, ok, "evicted bar is back")

	require.NoError(t, h.Append(bar(2, 12, 7)), "the dropped bar can be appended again")
	assert.Equal(t, 2, h.Len())

	// a second drop cannot restore anything, it only shrinks the window
	require.True(t, h.DropLatest())
	require.True(t, h.DropLatest())
	require.Equal(t, 1, h.Len())
	latest, ok := h.BarByOffset(0)
	require.True(t, ok)
	assert.Equal(t, 10.0, latest.High)
}

func TestBars_RejectsOutOfOrder(t *testing.T) {
	h, err := NewBars(5)
	require.NoError(t, err)
	require.NoError(t, h.Append(bar(2, 10, 5)))

	assert.ErrorIs(t, h.Append(bar(2, 10, 5)), ErrOutOfOrder)
	assert.ErrorIs(t, h.Append(bar(1, 10, 5)), ErrOutOfOrder)
	assert.Equal(t, 1, h.Len())
}

func TestBars_RangeQueries(t *testing.T) {
	h, err := NewBars(10)
	require.NoError(t, err)
	require.NoError(t, h.Load([]models.Bar{
		bar(0, 10, 5),
		bar(1, 12, 4),
		bar(2, 12, 6),
		bar(3, 9, 4),
		bar(4, 11, 7),
	}))

	hi, ok := h.HighestBar(bar(0, 0, 0).Time, bar(4, 0, 0).Time)
	require.True(t, ok)
	assert.Equal(t, bar(1, 0, 0).Time, hi.Time, "earliest bar wins a tie on high")

	lo, ok := h.LowestBar(bar(2, 0, 0).Time, bar(4, 0, 0).Time)
	require.True(t, ok)
	assert.Equal(t, bar(3, 0, 0).Time, lo.Time)

	assert.Equal(t, 3, h.CountBetween(bar(1, 0, 0).Time, bar(3, 0, 0).Time))
	assert.Equal(t, 0, h.CountBetween(bar(3, 0, 0).Time, bar(1, 0, 0).Time))

	_, ok = h.HighestBar(bar(5, 0, 0).Time, bar(6, 0, 0).Time)
	assert.False(t, ok)

	latest := h.LatestBars(2)
	require.Len(t, latest, 2)
	assert.Equal(t, bar(4, 0, 0).Time, latest[0].Time)
	assert.Equal(t, bar(3, 0, 0).Time, latest[1].Time)
	assert.Len(t, h.LatestBars(50), 5)
}

func TestBars_LoadKeepsMostRecent(t *testing.T) {
	h, err := NewBars(2)
	require.NoError(t, err)
	require.NoError(t, h.Load([]models.Bar{bar(0, 1, 1), bar(1, 2, 2), bar(2, 3, 3)}))

	chrono := h.Chronological()
	require.Len(t, chrono, 2)
	assert.Equal(t, 2.0, chrono[0].High)
	assert.Equal(t, 3.0, chrono[1].High)

	clone := h.Clone()
	require.NoError(t, h.Append(bar(3, 4, 4)))
	latest, _ := clone.BarByOffset(0)
	assert.Equal(t, 3.0, latest.High, "clone must not observe later appends")
}

func TestNewBars_InvalidCapacity(t *testing.T) {
	_, err := NewBars(0)
	assert.ErrorIs(t, err, ErrInvalidWindow)
}
