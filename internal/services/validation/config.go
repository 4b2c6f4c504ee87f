package validation

import (
	"fmt"

	"TPMForge/internal/services/alpha"
)

// Config drives one validation run. Detector settings are embedded so the
// backtest uses exactly the gate the live detector runs with.
type Config struct {
	Ticks          int    `yaml:"n_ticks" json:"n_ticks" default:"9000" validate:"gte=2"`
	Seed           int64  `yaml:"seed" json:"seed" default:"42"`
	PreEventWindow int    `yaml:"pre_event_window" json:"pre_event_window" default:"30" validate:"gte=1"`
	Permutations   int    `yaml:"n_permutations" json:"n_permutations" default:"400" validate:"gte=1"`
	OutputDir      string `yaml:"output_dir" json:"-" default:"."`

	alpha.Config `yaml:",inline" json:"detector"`
}

// DefaultConfig returns the reference validation setup.
func DefaultConfig() Config {
	return Config{
		Ticks:          9000,
		Seed:           42,
		PreEventWindow: 30,
		Permutations:   400,
		OutputDir:      ".",
		Config:         alpha.DefaultConfig(),
	}
}

// Validate checks the harness settings and the embedded detector settings.
func (c Config) Validate() error {
	if c.Ticks < 2 {
		return fmt.Errorf("n_ticks must be >= 2, got %d", c.Ticks)
	}
	if c.PreEventWindow < 1 {
		return fmt.Errorf("pre_event_window must be >= 1, got %d", c.PreEventWindow)
	}
	if c.Permutations < 1 {
		return fmt.Errorf("n_permutations must be >= 1, got %d", c.Permutations)
	}
	if err := c.Config.Validate(); err != nil {
		return fmt.Errorf("detector: %w", err)
	}
	return nil
}
