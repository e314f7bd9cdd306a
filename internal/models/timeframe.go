package models

import (
	"fmt"
	"strings"
	"time"
)

// Timeframe is the bucketing granularity of a bar stream.
type Timeframe string

const (
	TimeframeM5  Timeframe = "M5"
	TimeframeM15 Timeframe = "M15"
	TimeframeH1  Timeframe = "H1"
	TimeframeH4  Timeframe = "H4"
	TimeframeD1  Timeframe = "D1"
	TimeframeW1  Timeframe = "W1"
	TimeframeMN1 Timeframe = "MN1"
	TimeframeMN3 Timeframe = "MN3"
	TimeframeY1  Timeframe = "Y1"
)

// Timeframes lists all timeframes from finest to coarsest.
var Timeframes = []Timeframe{
	TimeframeM5, TimeframeM15, TimeframeH1, TimeframeH4, TimeframeD1,
	TimeframeW1, TimeframeMN1, TimeframeMN3, TimeframeY1,
}

// nominal length in minutes; calendar timeframes use 30-day months
var timeframeMinutes = map[Timeframe]int{
	TimeframeM5:  5,
	TimeframeM15: 15,
	TimeframeH1:  60,
	TimeframeH4:  240,
	TimeframeD1:  1440,
	TimeframeW1:  10080,
	TimeframeMN1: 43200,
	TimeframeMN3: 129600,
	TimeframeY1:  518400,
}

// ParseTimeframe parses a timeframe code case-insensitively.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(strings.ToUpper(strings.TrimSpace(s)))
	if !tf.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidTimeframe, s)
	}
	return tf, nil
}

// Valid reports whether tf is a known timeframe.
func (tf Timeframe) Valid() bool {
	_, ok := timeframeMinutes[tf]
	return ok
}

// Minutes returns the nominal bucket length in minutes.
func (tf Timeframe) Minutes() int {
	return timeframeMinutes[tf]
}

func (tf Timeframe) index() int {
	for i, t := range Timeframes {
		if t == tf {
			return i
		}
	}
	return -1
}

// Next returns the next coarser timeframe.
func (tf Timeframe) Next() (Timeframe, bool) {
	i := tf.index()
	if i < 0 || i == len(Timeframes)-1 {
		return "", false
	}
	return Timeframes[i+1], true
}

// Prev returns the next finer timeframe.
func (tf Timeframe) Prev() (Timeframe, bool) {
	i := tf.index()
	if i <= 0 {
		return "", false
	}
	return Timeframes[i-1], true
}

// IsAfter reports whether tf is coarser than other.
func (tf Timeframe) IsAfter(other Timeframe) bool {
	return tf.Minutes() > other.Minutes()
}

// IsBefore reports whether tf is finer than other.
func (tf Timeframe) IsBefore(other Timeframe) bool {
	return tf.Minutes() < other.Minutes()
}

// Calendar reports whether the timeframe is month based.
func (tf Timeframe) Calendar() bool {
	return tf == TimeframeMN1 || tf == TimeframeMN3 || tf == TimeframeY1
}

// UnitsBetween returns the time from..to expressed in buckets of tf. Month
// based timeframes count calendar month fractions.
func (tf Timeframe) UnitsBetween(from, to time.Time) float64 {
	if !tf.Valid() {
		return 0
	}
	if !tf.Calendar() {
		return to.Sub(from).Minutes() / float64(tf.Minutes())
	}
	months := monthsBetween(from.UTC(), to.UTC())
	switch tf {
	case TimeframeMN3:
		return months / 3
	case TimeframeY1:
		return months / 12
	}
	return months
}

func monthsBetween(from, to time.Time) float64 {
	if from.Year() == to.Year() && from.Month() == to.Month() {
		return monthPart(from, to)
	}
	next := time.Date(from.Year(), from.Month()+1, 1, 0, 0, 0, 0, time.UTC)
	last := time.Date(to.Year(), to.Month(), 1, 0, 0, 0, 0, time.UTC)
	result := monthPart(from, next) + monthPart(last, to)
	whole := (last.Year()*12 + int(last.Month())) - (next.Year()*12 + int(next.Month()))
	if whole > 0 {
		result += float64(whole)
	}
	return result
}

func monthPart(start, end time.Time) float64 {
	days := time.Date(start.Year(), start.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
	return end.Sub(start).Minutes() / (float64(days) * 1440)
}

// BucketStart returns the open time of the tf bucket containing t, in UTC.
// Weekly buckets open on Monday.
func (tf Timeframe) BucketStart(t time.Time) time.Time {
	t = t.UTC()
	switch tf {
	case TimeframeMN1:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	case TimeframeMN3:
		quarter := (t.Month()-1)/3*3 + 1
		return time.Date(t.Year(), quarter, 1, 0, 0, 0, 0, time.UTC)
	case TimeframeY1:
		return time.Date(t.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	}
	// the zero time is a Monday at midnight
	return t.Truncate(time.Duration(tf.Minutes()) * time.Minute)
}

// NextBucket returns the open time of the tf bucket following the one that
// contains t.
func (tf Timeframe) NextBucket(t time.Time) time.Time {
	start := tf.BucketStart(t)
	switch tf {
	case TimeframeMN1:
		return start.AddDate(0, 1, 0)
	case TimeframeMN3:
		return start.AddDate(0, 3, 0)
	case TimeframeY1:
		return start.AddDate(1, 0, 0)
	}
	return start.Add(time.Duration(tf.Minutes()) * time.Minute)
}
