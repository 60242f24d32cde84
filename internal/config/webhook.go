package config

import "time"

// WebhookConfig controls delivery of call_webhook actions.
type WebhookConfig struct {
	Enabled bool `envconfig:"ENABLED" default:"true"`

	// RequestTimeout bounds a single HTTP attempt.
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"5s" validate:"gt=0"`

	MaxRetries      uint64        `envconfig:"MAX_RETRIES" default:"3" validate:"max=10"`
	InitialInterval time.Duration `envconfig:"INITIAL_INTERVAL" default:"500ms" validate:"gt=0"`
	MaxInterval     time.Duration `envconfig:"MAX_INTERVAL" default:"10s" validate:"gt=0"`
}
