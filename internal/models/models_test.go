package models

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestBar_Validate(t *testing.T) {
	now := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		bar     *Bar
		wantErr error
	}{
		{
			name:    "valid bar",
			bar:     &Bar{Time: now, Open: 1.10, High: 1.12, Low: 1.09, Close: 1.11, Volume: 1000},
			wantErr: nil,
		},
		{
			name:    "zero time",
			bar:     &Bar{Open: 1.10, High: 1.12, Low: 1.09, Close: 1.11},
			wantErr: ErrInvalidTimestamp,
		},
		{
			name:    "high < low",
			bar:     &Bar{Time: now, Open: 1.10, High: 1.09, Low: 1.12, Close: 1.11},
			wantErr: ErrInvalidBar,
		},
		{
			name:    "NaN close",
			bar:     &Bar{Time: now, Open: 1.10, High: 1.12, Low: 1.09, Close: math.NaN()},
			wantErr: ErrInvalidPrice,
		},
		{
			name:    "open above high",
			bar:     &Bar{Time: now, Open: 1.13, High: 1.12, Low: 1.09, Close: 1.11},
			wantErr: ErrInvalidBarBody,
		},
		{
			name:    "negative volume",
			bar:     &Bar{Time: now, Open: 1.10, High: 1.12, Low: 1.09, Close: 1.11, Volume: -1},
			wantErr: ErrInvalidVolume,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.bar.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Bar.Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSwingPoint_Equal(t *testing.T) {
	ts := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	a := SwingPoint{Time: ts, Price: 1.2, Direction: DirectionUp, Timeframe: TimeframeH1}
	b := SwingPoint{Time: ts, Price: 1.3, Direction: DirectionUp, Timeframe: TimeframeH1}
	c := SwingPoint{Time: ts, Price: 1.2, Direction: DirectionDown, Timeframe: TimeframeH1}

	if !a.Equal(b) {
		t.Errorf("swings with same time/direction/timeframe should be equal")
	}
	if a.Equal(c) {
		t.Errorf("swings with different direction should not be equal")
	}

	if !a.Confirmed().Equal(ts) {
		t.Errorf("Confirmed() should fall back to Time")
	}
	a.ConfirmedAt = ts.Add(3 * time.Hour)
	if !a.Confirmed().Equal(ts.Add(3*time.Hour)) || !a.Equal(b) {
		t.Errorf("ConfirmedAt should be reported and ignored by Equal")
	}
}

func TestDirection(t *testing.T) {
	if DirectionUp.Opposite() != DirectionDown || DirectionDown.Opposite() != DirectionUp {
		t.Fatalf("Opposite() is not symmetric")
	}
	d, err := ParseDirection(" down ")
	if err != nil || d != DirectionDown {
		t.Errorf("ParseDirection() = %v, %v", d, err)
	}
	if _, err := ParseDirection("sideways"); !errors.Is(err, ErrInvalidDirection) {
		t.Errorf("ParseDirection(sideways) error = %v", err)
	}
}

func TestSeriesKey(t *testing.T) {
	key, err := ParseSeriesKey("EURUSD:h1")
	if err != nil {
		t.Fatalf("ParseSeriesKey() error = %v", err)
	}
	if key.Instrument != "EURUSD" || key.Timeframe != TimeframeH1 {
		t.Errorf("ParseSeriesKey() = %+v", key)
	}
	if key.String() != "EURUSD:H1" {
		t.Errorf("String() = %s", key.String())
	}
	if _, err := NewSeriesKey("", TimeframeH1); !errors.Is(err, ErrInvalidInstrument) {
		t.Errorf("empty instrument error = %v", err)
	}
	if _, err := ParseSeriesKey("EURUSD:H2"); !errors.Is(err, ErrInvalidTimeframe) {
		t.Errorf("bad timeframe error = %v", err)
	}
}

func TestTimeframe_Links(t *testing.T) {
	next, ok := TimeframeH1.Next()
	if !ok || next != TimeframeH4 {
		t.Errorf("H1.Next() = %v, %v", next, ok)
	}
	prev, ok := TimeframeH1.Prev()
	if !ok || prev != TimeframeM15 {
		t.Errorf("H1.Prev() = %v, %v", prev, ok)
	}
	if _, ok := TimeframeM5.Prev(); ok {
		t.Errorf("M5 should have no finer timeframe")
	}
	if _, ok := TimeframeY1.Next(); ok {
		t.Errorf("Y1 should have no coarser timeframe")
	}
	if !TimeframeD1.IsAfter(TimeframeH4) || !TimeframeH4.IsBefore(TimeframeD1) {
		t.Errorf("ordering helpers disagree with minutes")
	}
}

func TestTimeframe_UnitsBetween(t *testing.T) {
	tests := []struct {
		name string
		tf   Timeframe
		from time.Time
		to   time.Time
		want float64
	}{
		{"H1 three hours", TimeframeH1, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 1, 3, 0, 0, 0, time.UTC), 3},
		{"M15 one hour", TimeframeM15, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC), 4},
		{"W1 two weeks", TimeframeW1, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), 2},
		{"MN1 half of april", TimeframeMN1, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 4, 16, 0, 0, 0, 0, time.UTC), 0.5},
		{"MN1 across months", TimeframeMN1, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), 3},
		{"Y1 one year", TimeframeY1, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.tf.UnitsBetween(tt.from, tt.to)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("UnitsBetween() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTimeframe_BucketStart(t *testing.T) {
	// Wednesday
	ts := time.Date(2024, 5, 15, 13, 47, 12, 0, time.UTC)
	tests := []struct {
		tf   Timeframe
		want time.Time
	}{
		{TimeframeM5, time.Date(2024, 5, 15, 13, 45, 0, 0, time.UTC)},
		{TimeframeM15, time.Date(2024, 5, 15, 13, 45, 0, 0, time.UTC)},
		{TimeframeH1, time.Date(2024, 5, 15, 13, 0, 0, 0, time.UTC)},
		{TimeframeH4, time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)},
		{TimeframeD1, time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC)},
		{TimeframeW1, time.Date(2024, 5, 13, 0, 0, 0, 0, time.UTC)},
		{TimeframeMN1, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)},
		{TimeframeMN3, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)},
		{TimeframeY1, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(string(tt.tf), func(t *testing.T) {
			if got := tt.tf.BucketStart(ts); !got.Equal(tt.want) {
				t.Errorf("BucketStart() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTimeframe_NextBucket(t *testing.T) {
	ts := time.Date(2024, 11, 15, 13, 47, 12, 0, time.UTC)
	tests := []struct {
		tf   Timeframe
		want time.Time
	}{
		{TimeframeH4, time.Date(2024, 11, 15, 16, 0, 0, 0, time.UTC)},
		{TimeframeW1, time.Date(2024, 11, 18, 0, 0, 0, 0, time.UTC)},
		{TimeframeMN1, time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)},
		{TimeframeMN3, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
		{TimeframeY1, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		if got := tt.tf.NextBucket(ts); !got.Equal(tt.want) {
			t.Errorf("%s NextBucket() = %v, want %v", tt.tf, got, tt.want)
		}
	}
}
