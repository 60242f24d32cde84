package config

import (
	"encoding/hex"
	"fmt"
	"net"
	"time"
)

// ServerConfig configures the REST listener. APIKeyHash guards the
// management routes only; evaluation, assignment and interaction routes are
// called by the public flow runtime.
type ServerConfig struct {
	Port              string        `envconfig:"PORT" default:"8080"`
	Host              string        `envconfig:"HOST" default:"0.0.0.0"`
	ReadTimeout       time.Duration `envconfig:"READ_TIMEOUT" default:"10s"`
	WriteTimeout      time.Duration `envconfig:"WRITE_TIMEOUT" default:"10s"`
	ReadHeaderTimeout time.Duration `envconfig:"READ_HEADER_TIMEOUT" default:"5s"`
	IdleTimeout       time.Duration `envconfig:"IDLE_TIMEOUT" default:"60s"`
	MaxHeaderBytes    int           `envconfig:"MAX_HEADER_BYTES" default:"524288" validate:"min=1"`
	MaxBodyBytes      int64         `envconfig:"MAX_BODY_BYTES" default:"1048576" validate:"min=1"`

	// APIKeyHash is the hex SHA-256 of the management API key.
	APIKeyHash string `envconfig:"API_KEY_HASH"`
	TLSEnabled bool   `envconfig:"TLS_ENABLED" default:"false"`
	TLSCert    string `envconfig:"TLS_CERT_FILE"`
	TLSKey     string `envconfig:"TLS_KEY_FILE"`
}

// Address returns the listen address in host:port format.
func (c *ServerConfig) Address() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// AuthEnabled reports whether management routes require an API key.
func (c *ServerConfig) AuthEnabled() bool {
	return c.APIKeyHash != ""
}

// Validate checks the listener. Production refuses to start without an API
// key or TLS.
func (c *ServerConfig) Validate(environment string) error {
	if err := validatePort(c.Port, "api server"); err != nil {
		return err
	}
	if err := validateHost(c.Host, "api server"); err != nil {
		return err
	}

	if environment == EnvironmentProduction {
		switch {
		case !c.AuthEnabled():
			return fmt.Errorf("API key hash is required in production environment")
		case !c.TLSEnabled:
			return fmt.Errorf("TLS must be enabled in production environment")
		}
	}

	if c.AuthEnabled() {
		if err := validateSHA256Hex(c.APIKeyHash); err != nil {
			return fmt.Errorf("invalid API key hash: %w", err)
		}
	}
	if c.TLSEnabled && (c.TLSCert == "" || c.TLSKey == "") {
		return fmt.Errorf("TLS enabled but cert or key file not specified")
	}
	return nil
}

func validateSHA256Hex(s string) error {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("hash must be valid hexadecimal: %w", err)
	}
	if len(raw) != 32 {
		return fmt.Errorf("SHA-256 hash must be 32 bytes, got %d", len(raw))
	}
	return nil
}
