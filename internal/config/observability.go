package config

import (
	"fmt"
	"time"
)

// ObservabilityConfig configures the side listener that serves Prometheus
// metrics and the liveness and readiness probes, away from the API port.
type ObservabilityConfig struct {
	Port string `envconfig:"PORT" default:"9090"`

	// Timeout bounds reads, writes and each readiness check. Idle
	// connections live three times as long.
	Timeout time.Duration `envconfig:"TIMEOUT" default:"5s" validate:"min=1s"`

	LivenessPath  string `envconfig:"LIVENESS_PATH" default:"/healthz" validate:"startswith=/"`
	ReadinessPath string `envconfig:"READINESS_PATH" default:"/readyz" validate:"startswith=/"`
	MetricsPath   string `envconfig:"METRICS_PATH" default:"/metrics" validate:"startswith=/"`
}

// Address returns the listen address on all interfaces.
func (o *ObservabilityConfig) Address() string {
	return ":" + o.Port
}

// Validate checks the port and that the three routes do not collide.
func (o *ObservabilityConfig) Validate() error {
	if err := validatePort(o.Port, "observability"); err != nil {
		return err
	}
	if o.LivenessPath == o.ReadinessPath || o.LivenessPath == o.MetricsPath || o.ReadinessPath == o.MetricsPath {
		return fmt.Errorf("observability paths must be distinct")
	}
	return nil
}
