package replay

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mohamedkhairy/swing-detector/internal/bars"
	"github.com/mohamedkhairy/swing-detector/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCSV(t *testing.T) {
	input := `time,open,high,low,close,volume
2024-01-01T00:00:00Z,1.10,1.12,1.09,1.11,1500
2024-01-01 01:00,1.11,1.13,1.10,1.12,
# maintenance gap
2024-01-01 03:00:00,1.12,1.14,1.11,1.13
`
	got, err := ReadCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), got[0].Time)
	assert.Equal(t, int64(1500), got[0].Volume)
	assert.Equal(t, time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC), got[1].Time)
	assert.Equal(t, int64(0), got[1].Volume)
	assert.Equal(t, 1.14, got[2].High)
}

func TestReadCSV_NoHeader(t *testing.T) {
	got, err := ReadCSV(strings.NewReader("2024-01-01,1,2,0.5,1.5\n2024-01-02,1.5,2.5,1,2\n"))
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestReadCSV_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"empty", "", ErrNoBars},
		{"header only", "time,open,high,low,close\n", ErrNoBars},
		{"high below low", "2024-01-01,1,1,2,1\n", models.ErrInvalidBar},
		{"close outside range", "2024-01-01,1,2,0.5,3\n", models.ErrInvalidBarBody},
		{"bad price", "2024-01-01,x,2,0.5,1\n", nil},
		{"too few columns", "2024-01-01,1,2,0.5\n", nil},
		{"bad time after header", "time,o,h,l,c\nyesterday,1,2,0.5,1\n", nil},
		{"out of order", "2024-01-02,1,2,0.5,1\n2024-01-01,1,2,0.5,1\n", nil},
		{"duplicate time", "2024-01-02,1,2,0.5,1\n2024-01-02,1,2,0.5,1\n", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCSV(strings.NewReader(tt.input))
			require.Error(t, err)
			if tt.want != nil {
				assert.True(t, errors.Is(err, tt.want), "got %v", err)
			}
		})
	}
}

func TestWriteCSV_ReadsBack(t *testing.T) {
	cfg := bars.DefaultWalkConfig()
	cfg.Count = 50
	walk, err := bars.RandomWalk(cfg)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, walk))
	assert.True(t, strings.HasPrefix(buf.String(), "time,open,high,low,close,volume\n"))

	got, err := ReadCSV(&buf)
	require.NoError(t, err)
	assert.Equal(t, walk, got)
}
