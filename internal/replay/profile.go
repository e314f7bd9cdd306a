package replay

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mohamedkhairy/swing-detector/internal/swing"
	"gopkg.in/yaml.v3"
)

// DecodeProfile reads an engine profile. Omitted fields keep their defaults
// and unknown fields are rejected.
func DecodeProfile(r io.Reader) (swing.Config, error) {
	cfg := swing.DefaultConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return swing.Config{}, fmt.Errorf("failed to parse profile: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return swing.Config{}, fmt.Errorf("invalid profile: %w", err)
	}
	return cfg, nil
}

// LoadProfile reads an engine profile file.
func LoadProfile(path string) (swing.Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return swing.Config{}, err
	}
	defer f.Close()
	return DecodeProfile(f)
}
