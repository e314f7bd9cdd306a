package swing

import (
	"encoding/json"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/mohamedkhairy/swing-detector/internal/history"
	"github.com/mohamedkhairy/swing-detector/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomWalk(seed int64, count int) []models.Bar {
	rng := rand.New(rand.NewSource(seed))
	price := 100.0
	bars := make([]models.Bar, 0, count)
	for i := 1; i <= count; i++ {
		open := price
		closePrice := open + rng.NormFloat64()
		high := math.Max(open, closePrice) + rng.Float64()
		low := math.Min(open, closePrice) - rng.Float64()
		bars = append(bars, models.Bar{Time: at(i), Open: open, High: high, Low: low, Close: closePrice})
		price = closePrice
	}
	return bars
}

func TestEngine_SwingProperties(t *testing.T) {
	for _, n := range []int{2, 3, 5, 8} {
		f := newFeed(t, configWith(n), 1000)
		bars := randomWalk(int64(n), 500)

		var prev *models.SwingPoint
		for i, b := range bars {
			out, err := f.push(b)
			require.NoError(t, err, "n=%d bar %d", n, i)
			sw := out.Swing
			if sw == nil {
				continue
			}
			assert.False(t, sw.Time.After(b.Time), "swing after its confirming bar")
			if prev != nil {
				assert.False(t, sw.Time.Before(prev.Time), "swing times go backwards")
				assert.False(t, sw.Equal(*prev), "consecutive duplicate swing")
			}
			prev = sw
		}
		assert.NotZero(t, f.swings.Len(), "n=%d", n)
	}
}

func TestEngine_DeterministicAcrossCheckpoint(t *testing.T) {
	cfg := configWith(3)
	bars := randomWalk(7, 400)

	full := newFeed(t, cfg, 1000)
	want, _ := full.pushAll(bars)
	require.NotEmpty(t, want)

	first := newFeed(t, cfg, 1000)
	got, _ := first.pushAll(bars[:200])

	// round-trip the checkpoint through JSON as a store would
	data, err := json.Marshal(first.engine.Context())
	require.NoError(t, err)
	var restored DetectionContext
	require.NoError(t, json.Unmarshal(data, &restored))

	barsCopy := first.bars.Clone()
	swingsCopy := first.swings.Clone()
	second, err := NewEngine(testKey, cfg, barsCopy, swingsCopy)
	require.NoError(t, err)
	require.NoError(t, second.Restore(&restored))

	for _, b := range bars[200:] {
		require.NoError(t, barsCopy.Append(b))
		sw, err := second.ProcessBar(b)
		require.NoError(t, err)
		if sw != nil {
			got = append(got, *sw)
		}
	}

	assert.Equal(t, want, got)
	assert.Equal(t, full.engine.Context(), second.Context())
}

func TestEngine_ShortHistoryFailsLoudly(t *testing.T) {
	// a window of 3 bars cannot hold the anchor of a long leg
	f := newFeed(t, configWith(3), 3)
	var err error
	for _, b := range randomWalk(11, 300) {
		require.NoError(t, f.bars.Append(b))
		if _, err = f.engine.ProcessBar(b); err != nil {
			break
		}
	}
	require.Error(t, err, "a 3-bar window never ran out of history")
	assert.ErrorIs(t, err, ErrInconsistentState)
}

func TestLevel_JSON(t *testing.T) {
	type wrapper struct {
		L Level `json:"l"`
	}

	data, err := json.Marshal(wrapper{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"l":null}`, string(data))

	data, err = json.Marshal(wrapper{L: Some(1.5)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"l":1.5}`, string(data))

	var w wrapper
	require.NoError(t, json.Unmarshal([]byte(`{"l":2.25}`), &w))
	assert.Equal(t, Some(2.25), w.L)
	require.NoError(t, json.Unmarshal([]byte(`{"l":null}`), &w))
	assert.False(t, w.L.Valid)
	assert.Error(t, json.Unmarshal([]byte(`{"l":"x"}`), &w))
}

func TestLevel_Compare(t *testing.T) {
	var unset Level
	assert.False(t, unset.Greater(0))
	assert.False(t, unset.Less(0))
	assert.True(t, Some(2).Greater(1))
	assert.True(t, Some(1).Less(2))
	assert.False(t, Some(1).Less(1))
}

func TestDetectionContext_SnapshotIsIndependent(t *testing.T) {
	c := NewDetectionContext(3)
	c.GlobalHigh = Some(10)

	snap := c.Snapshot()
	c.GlobalHigh = Some(20)
	c.Version = 9

	assert.Equal(t, Some(10), snap.GlobalHigh)
	assert.Equal(t, int64(0), snap.Version)
}

func TestDetectionContext_Validate(t *testing.T) {
	valid := func() *DetectionContext {
		c := NewDetectionContext(3)
		c.State = StateDirected
		c.Direction = models.DirectionUp
		c.LastBarTime = at(5)
		c.LastWorkingPoint = at(3)
		return c
	}

	tests := []struct {
		name    string
		mutate  func(c *DetectionContext)
		wantErr bool
	}{
		{"valid", func(c *DetectionContext) {}, false},
		{"fresh", func(c *DetectionContext) { *c = *NewDetectionContext(3) }, false},
		{"zero reverse bars", func(c *DetectionContext) { c.ReverseBarsCount = 0 }, true},
		{"unknown state", func(c *DetectionContext) { c.State = "BROKEN" }, true},
		{"directed without direction", func(c *DetectionContext) { c.Direction = "" }, true},
		{"seeded with direction", func(c *DetectionContext) { c.State = StateSeeded }, true},
		{"no last bar", func(c *DetectionContext) { c.LastBarTime = time.Time{}; c.LastWorkingPoint = time.Time{} }, true},
		{"working point after last bar", func(c *DetectionContext) { c.LastWorkingPoint = at(6) }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"default", DefaultConfig(), false},
		{"zero bars", Config{}, true},
		{"bad price source", Config{ReverseBarsCount: 3, Variant: Variant{PriceSource: "close"}}, true},
		{"negative window", Config{ReverseBarsCount: 3, Variant: Variant{RetroWindow: -1}}, true},
		{"empty price source", Config{ReverseBarsCount: 1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_MinHistory(t *testing.T) {
	cfg := configWith(3)
	assert.Equal(t, 17, cfg.MinHistory())

	cfg.Variant.RetroWindow = 6
	assert.Equal(t, 23, cfg.MinHistory())
}

func TestAnnotate(t *testing.T) {
	bars, err := history.NewBars(20)
	require.NoError(t, err)
	for i := 0; i <= 5; i++ {
		require.NoError(t, bars.Append(up(i, 110, 100)))
	}

	swings := []models.SwingPoint{
		{Time: at(0), Price: 100, Direction: models.DirectionDown, Timeframe: models.TimeframeH1},
		{Time: at(3), Price: 110, Direction: models.DirectionUp, Timeframe: models.TimeframeH1},
		{Time: at(5), Price: 101, Direction: models.DirectionDown, Timeframe: models.TimeframeH1},
	}

	out := Annotate(swings, bars)
	require.Len(t, out, 3)
	require.NotNil(t, out[0].Length)
	assert.Equal(t, 3.0, *out[0].Length)
	require.NotNil(t, out[0].LengthInBars)
	assert.Equal(t, 3.0, *out[0].LengthInBars)
	assert.Equal(t, 2.0, *out[1].Length)
	assert.Equal(t, 2.0, *out[1].LengthInBars)
	assert.Nil(t, out[2].Length)
	assert.Nil(t, out[2].LengthInBars)
	assert.Nil(t, swings[0].Length, "input is not modified")

	lengthOnly := Annotate(swings, nil)
	assert.NotNil(t, lengthOnly[0].Length)
	assert.Nil(t, lengthOnly[0].LengthInBars)
}
