package replay

import (
	"strings"
	"testing"
	"time"

	"github.com/mohamedkhairy/swing-detector/internal/models"
	"github.com/mohamedkhairy/swing-detector/internal/swing"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var eurH1 = models.SeriesKey{Instrument: "EURUSD", Timeframe: models.TimeframeH1}

// vShape falls into a low at 03:00 and rallies from it.
const vShape = `time,open,high,low,close
2024-01-01 00:00,100,110,100,110
2024-01-01 01:00,108,108,98,98
2024-01-01 02:00,106,106,96,96
2024-01-01 03:00,104,104,90,90
2024-01-01 04:00,97,107,97,107
2024-01-01 05:00,99,109,99,109
2024-01-01 06:00,105,112,105,112
`

func TestRun_VShape(t *testing.T) {
	bars, err := ReadCSV(strings.NewReader(vShape))
	require.NoError(t, err)

	res, err := Run(eurH1, bars, swing.DefaultConfig())
	require.NoError(t, err)

	require.Len(t, res.Swings, 1)
	sw := res.Swings[0]
	assert.Equal(t, time.Date(2024, 1, 1, 3, 0, 0, 0, time.UTC), sw.Time)
	assert.Equal(t, 90.0, sw.Price)
	assert.Equal(t, models.DirectionDown, sw.Direction)
	assert.Nil(t, sw.Length, "the last swing has no completed leg")

	require.Len(t, res.Events, 1)
	assert.Equal(t, time.Date(2024, 1, 1, 5, 0, 0, 0, time.UTC), res.Events[0].BarTime)
	assert.NotEqual(t, swing.CauseNone, res.Events[0].Cause)

	assert.Equal(t, 7, res.Bars)
	assert.Equal(t, models.DirectionUp, res.Context.Direction)
	assert.Equal(t, int64(7), res.Context.Version)

	_, err = ulid.ParseStrict(res.RunID)
	assert.NoError(t, err)
	assert.False(t, res.FinishedAt.Before(res.StartedAt))
}

func TestRun_Deterministic(t *testing.T) {
	bars, err := ReadCSV(strings.NewReader(vShape))
	require.NoError(t, err)

	a, err := Run(eurH1, bars, swing.DefaultConfig())
	require.NoError(t, err)
	b, err := Run(eurH1, bars, swing.DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, a.Swings, b.Swings)
	assert.Equal(t, a.Context, b.Context)
	assert.NotEqual(t, a.RunID, b.RunID)
}

func TestRun_Errors(t *testing.T) {
	bad := swing.DefaultConfig()
	bad.ReverseBarsCount = 0
	_, err := Run(eurH1, nil, bad)
	assert.Error(t, err)

	_, err = Run(models.SeriesKey{Instrument: "EURUSD", Timeframe: "H2"}, nil, swing.DefaultConfig())
	assert.Error(t, err)

	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	unordered := []models.Bar{
		{Time: t0.Add(time.Hour), Open: 1, High: 2, Low: 0.5, Close: 1},
		{Time: t0, Open: 1, High: 2, Low: 0.5, Close: 1},
	}
	_, err = Run(eurH1, unordered, swing.DefaultConfig())
	assert.Error(t, err)
}

func TestNewRunID_Sortable(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	first := NewRunID(t0)
	second := NewRunID(t0.Add(time.Second))
	assert.Less(t, first, second)
	assert.Len(t, first, 26)
}

func TestDecodeProfile(t *testing.T) {
	cfg, err := DecodeProfile(strings.NewReader(`
reverse_bars_count: 5
variant:
  price_source: working_price
`))
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.ReverseBarsCount)
	assert.Equal(t, swing.PriceWorkingPrice, cfg.Variant.PriceSource)
	assert.True(t, cfg.Variant.DuplicateGuard, "omitted fields keep defaults")

	empty, err := DecodeProfile(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, swing.DefaultConfig(), empty)

	_, err = DecodeProfile(strings.NewReader("reverse_bars: 5\n"))
	assert.Error(t, err, "unknown field")

	_, err = DecodeProfile(strings.NewReader("reverse_bars_count: 0\n"))
	assert.Error(t, err)

	_, err = DecodeProfile(strings.NewReader("variant:\n  price_source: close\n"))
	assert.Error(t, err)
}
