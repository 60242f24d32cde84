package config

import (
	"fmt"
	"time"
)

// KafkaConfig configures the domain event publisher. When disabled, events
// are dropped.
type KafkaConfig struct {
	Enabled          bool          `envconfig:"ENABLED" default:"false"`
	Brokers          []string      `envconfig:"BROKERS"`
	AssignmentsTopic string        `envconfig:"ASSIGNMENTS_TOPIC" default:"leadflow.assignments"`
	PromotionsTopic  string        `envconfig:"PROMOTIONS_TOPIC" default:"leadflow.promotions"`
	WriteTimeout     time.Duration `envconfig:"WRITE_TIMEOUT" default:"5s" validate:"gt=0"`

	// Async makes assignment writes fire-and-forget. Promotions are always
	// written synchronously.
	Async bool `envconfig:"ASYNC" default:"true"`
}

// Validate requires brokers and topics when the publisher is enabled.
func (c *KafkaConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if len(c.Brokers) == 0 {
		return fmt.Errorf("kafka brokers are required when kafka is enabled")
	}
	for _, b := range c.Brokers {
		if err := validateNoWhitespace(b, "kafka broker"); err != nil {
			return err
		}
	}
	if c.AssignmentsTopic == "" || c.PromotionsTopic == "" {
		return fmt.Errorf("kafka topics cannot be empty")
	}
	return nil
}
