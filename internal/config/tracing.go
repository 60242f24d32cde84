package config

// TracingConfig configures OpenTelemetry trace export over OTLP/HTTP.
type TracingConfig struct {
	Enabled bool `envconfig:"ENABLED" default:"false"`

	// Endpoint is the collector host:port, without scheme.
	Endpoint string `envconfig:"ENDPOINT" default:"localhost:4318"`

	Insecure    bool    `envconfig:"INSECURE" default:"true"`
	SampleRatio float64 `envconfig:"SAMPLE_RATIO" default:"1" validate:"gte=0,lte=1"`
}
