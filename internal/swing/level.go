package swing

import (
	"bytes"
	"encoding/json"
)

// Level is a price that may not be established yet.
type Level struct {
	Value float64
	Valid bool
}

// Some returns an established level.
func Some(v float64) Level {
	return Level{Value: v, Valid: true}
}

// Greater reports whether the level is set and above x.
func (l Level) Greater(x float64) bool {
	return l.Valid && l.Value > x
}

// Less reports whether the level is set and below x.
func (l Level) Less(x float64) bool {
	return l.Valid && l.Value < x
}

func (l Level) MarshalJSON() ([]byte, error) {
	if !l.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(l.Value)
}

func (l *Level) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*l = Level{}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*l = Some(v)
	return nil
}
