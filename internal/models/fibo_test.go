package models

import (
	"math"
	"reflect"
	"testing"
	"time"
)

func TestMatchFibo(t *testing.T) {
	tests := []struct {
		name   string
		ratio  float64
		maxErr float64
		set    string
		want   FiboLevel
		wantOK bool
	}{
		{"exact half", 0.5, 0.01, "all", Fibo500, true},
		{"within error", 0.62, 0.01, "all", Fibo625, true},
		{"lowest match wins", 0.35, 0.03, "all", Fibo333, true},
		{"outside error", 0.45, 0.01, "all", 0, false},
		{"not in set", 0.375, 0.001, "common", 0, false},
		{"extension", 1.62, 0.01, "common", 0, false},
		{"extension all", 1.62, 0.01, "all", Fibo1625, true},
		{"retracement stops at one", 1.5, 0.01, "retracement", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			levels, err := FiboSet(tt.set)
			if err != nil {
				t.Fatalf("FiboSet(%q) error = %v", tt.set, err)
			}
			got, ok := MatchFibo(tt.ratio, tt.maxErr, levels)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("MatchFibo(%v) = %v, %v, want %v, %v", tt.ratio, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestFiboSet(t *testing.T) {
	all, err := FiboSet("")
	if err != nil || len(all) != 24 {
		t.Fatalf("FiboSet(\"\") = %d levels, %v", len(all), err)
	}
	for i := 1; i < len(all); i++ {
		if all[i] <= all[i-1] {
			t.Errorf("levels not ascending at %d", i)
		}
	}
	if r, _ := FiboSet("RETRACEMENT"); r[len(r)-1] != Fibo1000 {
		t.Errorf("retracement set should end at 1, got %v", r[len(r)-1])
	}
	if _, err := FiboSet("golden"); err == nil {
		t.Errorf("unknown set should fail")
	}
	if Fibo937.String() != "0.9375" {
		t.Errorf("String() = %s", Fibo937.String())
	}
}

func TestFiboGrid(t *testing.T) {
	got := FiboGrid(1.25)
	want := []float64{0.0625, 0.125, 0.25, 0.333, 0.5, 0.666, 0.75, 0.875, 0.9375, 1, 1.0625, 1.125, 1.25}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("FiboGrid(1.25) = %v", got)
	}
	if len(FiboGrid(0)) != 0 {
		t.Errorf("FiboGrid(0) should be empty")
	}
}

func TestSwingPair(t *testing.T) {
	ts := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	a := SwingPoint{Time: ts, Price: 100, Direction: DirectionDown, Timeframe: TimeframeH1}
	b := SwingPoint{Time: ts.Add(8 * time.Hour), Price: 120, Direction: DirectionUp, Timeframe: TimeframeH1}
	c := SwingPoint{Time: ts.Add(12 * time.Hour), Price: 110, Direction: DirectionDown, Timeframe: TimeframeH1}

	impulse := SwingPair{First: a, Second: b}
	correction := SwingPair{First: b, Second: c}

	if impulse.PriceDiff() != 20 || correction.PriceDiff() != 10 {
		t.Errorf("PriceDiff() = %v, %v", impulse.PriceDiff(), correction.PriceDiff())
	}
	if impulse.Duration() != 8 {
		t.Errorf("Duration() = %v", impulse.Duration())
	}
	if r, ok := impulse.PriceRatio(correction); !ok || r != 0.5 {
		t.Errorf("PriceRatio() = %v, %v", r, ok)
	}
	if r, ok := impulse.TimeRatio(correction); !ok || math.Abs(r-0.5) > 1e-9 {
		t.Errorf("TimeRatio() = %v, %v", r, ok)
	}

	flat := SwingPair{First: a, Second: a}
	if _, ok := flat.PriceRatio(correction); ok {
		t.Errorf("flat leg should have no price ratio")
	}
	if _, ok := flat.TimeRatio(correction); ok {
		t.Errorf("zero length leg should have no time ratio")
	}
}
