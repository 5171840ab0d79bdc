// Package config loads and validates the immutable engine configuration.
//
// The zero value is never usable directly; callers go through Default()
// or Load() and then Validate().
package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Config is the immutable per-engine configuration record.
type Config struct {
	Decay            float64 `toml:"Decay"`
	LaplaceK         float64 `toml:"LaplaceK"`
	MaxTokens        int     `toml:"MaxTokens"`
	MaxTemplates     int     `toml:"MaxTemplates"`
	MaxLineLength    int     `toml:"MaxLineLength"`
	MaxTokensPerLine int     `toml:"MaxTokensPerLine"`
	WithBigrams      bool    `toml:"WithBigrams"`

	WTokenWeight    float64 `toml:"WTokenWeight"`
	WTemplateWeight float64 `toml:"WTemplateWeight"`
	WLevelWeight    float64 `toml:"WLevelWeight"`

	BurnIn int `toml:"BurnIn"`

	NeighborBufferSize int     `toml:"NeighborBufferSize"`
	NeighborTopK       int     `toml:"NeighborTopK"`
	NeighborMinScore   float64 `toml:"NeighborMinScore"`

	// CanonCacheSize bounds the canonicalization memo cache for repeated
	// identical lines. Zero disables memoization entirely.
	CanonCacheSize int `toml:"CanonCacheSize"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Decay:            0.9999,
		LaplaceK:         1.0,
		MaxTokens:        30000,
		MaxTemplates:     10000,
		MaxLineLength:    2000,
		MaxTokensPerLine: 400,
		WithBigrams:      false,

		WTokenWeight:    1.0,
		WTemplateWeight: 1.0,
		WLevelWeight:    1.0,

		BurnIn: 500,

		NeighborBufferSize: 2048,
		NeighborTopK:       3,
		NeighborMinScore:   0.3,

		CanonCacheSize: 4096,
	}
}

// Load reads a TOML file at path into a Config seeded with Default(), so
// a partial file still gets sane defaults for everything it doesn't
// mention.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks the configuration field by field, returning a
// descriptive error naming the first offending field.
func (c Config) Validate() error {
	if c.Decay <= 0 || c.Decay > 1 {
		return fmt.Errorf("config: `Decay` must be in (0,1]: %v", c.Decay)
	}
	// Strictly positive: zero smoothing gives unseen tokens probability
	// 0 and unbounded self-information.
	if c.LaplaceK <= 0 {
		return fmt.Errorf("config: `LaplaceK` must be positive: %v", c.LaplaceK)
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("config: `MaxTokens` must be positive: %d", c.MaxTokens)
	}
	if c.MaxTemplates <= 0 {
		return fmt.Errorf("config: `MaxTemplates` must be positive: %d", c.MaxTemplates)
	}
	if c.MaxLineLength <= 0 {
		return fmt.Errorf("config: `MaxLineLength` must be positive: %d", c.MaxLineLength)
	}
	if c.MaxTokensPerLine <= 0 {
		return fmt.Errorf("config: `MaxTokensPerLine` must be positive: %d", c.MaxTokensPerLine)
	}
	if c.WTokenWeight < 0 {
		return fmt.Errorf("config: `WTokenWeight` must be non-negative: %v", c.WTokenWeight)
	}
	if c.WTemplateWeight < 0 {
		return fmt.Errorf("config: `WTemplateWeight` must be non-negative: %v", c.WTemplateWeight)
	}
	if c.WLevelWeight < 0 {
		return fmt.Errorf("config: `WLevelWeight` must be non-negative: %v", c.WLevelWeight)
	}
	if c.BurnIn < 0 {
		return fmt.Errorf("config: `BurnIn` must be non-negative: %d", c.BurnIn)
	}
	if c.NeighborBufferSize <= 0 {
		return fmt.Errorf("config: `NeighborBufferSize` must be positive: %d", c.NeighborBufferSize)
	}
	if c.NeighborTopK <= 0 {
		return fmt.Errorf("config: `NeighborTopK` must be positive: %d", c.NeighborTopK)
	}
	if c.NeighborMinScore < 0 || c.NeighborMinScore > 1 {
		return fmt.Errorf("config: `NeighborMinScore` must be in [0,1]: %v", c.NeighborMinScore)
	}
	if c.CanonCacheSize < 0 {
		return fmt.Errorf("config: `CanonCacheSize` must be non-negative: %d", c.CanonCacheSize)
	}
	return nil
}
