package config

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// RecalcConfig configures the background worker that refreshes the results
// of running tests.
type RecalcConfig struct {
	Enabled bool `envconfig:"ENABLED" default:"true"`

	// Schedule is a cron spec; descriptors such as "@every 5m" are accepted.
	Schedule string `envconfig:"SCHEDULE" default:"@every 5m"`

	// TestTimeout bounds the recalculation of a single test.
	TestTimeout time.Duration `envconfig:"TEST_TIMEOUT" default:"30s" validate:"gt=0"`

	Concurrency int `envconfig:"CONCURRENCY" default:"4" validate:"min=1,max=64"`
}

// Validate checks that the schedule parses.
func (c *RecalcConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if _, err := cron.ParseStandard(c.Schedule); err != nil {
		return fmt.Errorf("invalid recalc schedule %q: %w", c.Schedule, err)
	}
	return nil
}
