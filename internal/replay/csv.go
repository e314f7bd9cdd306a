// Package replay runs the swing engine offline over a recorded bar series.
package replay

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/mohamedkhairy/swing-detector/internal/models"
)

// timeLayouts are tried in order; layouts without a zone are read as UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006.01.02 15:04",
	"2006-01-02",
}

// ErrNoBars is returned when the input holds no bar rows.
var ErrNoBars = errors.New("no bars in input")

// ReadCSV reads time,open,high,low,close[,volume] rows. A first row whose
// time column does not parse is treated as a header. Rows must be in
// strictly increasing time order and pass bar validation.
func ReadCSV(r io.Reader) ([]models.Bar, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	var bars []models.Bar
	for row := 1; ; row++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}
		if row == 1 {
			if _, err := parseTime(record[0]); err != nil {
				continue
			}
		}
		bar, err := parseRecord(record)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}
		if n := len(bars); n > 0 && !bar.Time.After(bars[n-1].Time) {
			return nil, fmt.Errorf("row %d: bar at %s does not follow %s", row,
				bar.Time.Format(time.RFC3339), bars[n-1].Time.Format(time.RFC3339))
		}
		bars = append(bars, bar)
	}
	if len(bars) == 0 {
		return nil, ErrNoBars
	}
	return bars, nil
}

func parseRecord(record []string) (models.Bar, error) {
	var bar models.Bar
	if len(record) < 5 || len(record) > 6 {
		return bar, fmt.Errorf("expected 5 or 6 columns, got %d", len(record))
	}
	t, err := parseTime(record[0])
	if err != nil {
		return bar, err
	}
	bar.Time = t

	prices := []*float64{&bar.Open, &bar.High, &bar.Low, &bar.Close}
	names := []string{"open", "high", "low", "close"}
	for i, p := range prices {
		v, err := strconv.ParseFloat(strings.TrimSpace(record[i+1]), 64)
		if err != nil {
			return bar, fmt.Errorf("invalid %s %q", names[i], record[i+1])
		}
		*p = v
	}
	if len(record) == 6 && strings.TrimSpace(record[5]) != "" {
		v, err := strconv.ParseFloat(strings.TrimSpace(record[5]), 64)
		if err != nil {
			return bar, fmt.Errorf("invalid volume %q", record[5])
		}
		bar.Volume = int64(v)
	}
	if err := bar.Validate(); err != nil {
		return bar, fmt.Errorf("invalid bar at %s: %w", bar.Time.Format(time.RFC3339), err)
	}
	return bar, nil
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q", s)
}

// WriteCSV writes bars with a header row in the layout ReadCSV accepts.
func WriteCSV(w io.Writer, bars []models.Bar) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"time", "open", "high", "low", "close", "volume"}); err != nil {
		return err
	}
	for _, b := range bars {
		record := []string{
			b.Time.UTC().Format(time.RFC3339),
			strconv.FormatFloat(b.Open, 'f', -1, 64),
			strconv.FormatFloat(b.High, 'f', -1, 64),
			strconv.FormatFloat(b.Low, 'f', -1, 64),
			strconv.FormatFloat(b.Close, 'f', -1, 64),
			strconv.FormatInt(b.Volume, 10),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
