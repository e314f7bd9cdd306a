package history

import (
	"testing"
	"time"

	"github.com/mohamedkhairy/swing-detector/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func swingAt(i int, dir models.Direction) models.SwingPoint {
	return models.SwingPoint{
		Time:      base.Add(time.Duration(i) * time.Hour),
		Price:     float64(i),
		Direction: dir,
		Timeframe: models.TimeframeH1,
	}
}

func TestSwings_LatestAndDelete(t *testing.T) {
	s := NewSwings(swingAt(1, models.DirectionUp))
	s.AppendSwing(swingAt(4, models.DirectionDown))
	s.AppendSwing(swingAt(9, models.DirectionUp))

	latest := s.LatestSwings(2)
	require.Len(t, latest, 2)
	assert.Equal(t, 9.0, latest[0].Price)
	assert.Equal(t, 4.0, latest[1].Price)

	between := s.Between(swingAt(2, "").Time, swingAt(9, "").Time)
	require.Len(t, between, 2)
	assert.Equal(t, 4.0, between[0].Price)

	removed := s.DeleteAfter(swingAt(4, "").Time)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 2, s.Len())

	clone := s.Clone()
	s.AppendSwing(swingAt(10, models.DirectionDown))
	assert.Equal(t, 2, clone.Len())
	assert.Nil(t, NewSwings().LatestSwings(1))
}

func TestSwings_Lookups(t *testing.T) {
	at := func(i int) time.Time { return swingAt(i, "").Time }
	priced := func(i int, dir models.Direction, price float64) models.SwingPoint {
		sw := swingAt(i, dir)
		sw.Price = price
		return sw
	}
	s := NewSwings(
		priced(2, models.DirectionDown, 1.05),
		priced(6, models.DirectionUp, 1.12),
		priced(9, models.DirectionDown, 1.07),
		priced(12, models.DirectionUp, 1.12),
		priced(14, models.DirectionDown, 1.05),
	)

	tests := []struct {
		name   string
		find   func(time.Time, models.Direction) (models.SwingPoint, bool)
		at     int
		dir    models.Direction
		want   int
		wantOK bool
	}{
		{"before any", s.Before, 9, "", 6, true},
		{"before is strict", s.Before, 6, "", 2, true},
		{"before by direction", s.Before, 9, models.DirectionDown, 2, true},
		{"nothing before", s.Before, 2, "", 0, false},
		{"after any", s.After, 6, "", 9, true},
		{"after by direction", s.After, 6, models.DirectionUp, 12, true},
		{"nothing after", s.After, 14, "", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.find(at(tt.at), tt.dir)
			require.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, at(tt.want), got.Time)
			}
		})
	}

	high, ok := s.Highest()
	require.True(t, ok)
	assert.Equal(t, at(6), high.Time, "earliest of equal highs")
	low, ok := s.Lowest()
	require.True(t, ok)
	assert.Equal(t, at(2), low.Time, "earliest of equal lows")

	_, ok = NewSwings().Highest()
	assert.False(t, ok)
}
