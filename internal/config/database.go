package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// maxPostgresIdentifierLen is PostgreSQL's NAMEDATALEN minus the terminator.
const maxPostgresIdentifierLen = 63

// DatabaseConfig holds the PostgreSQL settings for the rule, test and
// interaction store. URL takes precedence over the individual components.
type DatabaseConfig struct {
	URL      string `envconfig:"URL"`
	Host     string `envconfig:"HOST"`
	Port     string `envconfig:"PORT"`
	Name     string `envconfig:"NAME"`
	User     string `envconfig:"USER"`
	Password string `envconfig:"PASSWORD"`
	SSLMode  string `envconfig:"SSL_MODE" default:"prefer" validate:"oneof=disable allow prefer require verify-ca verify-full"`

	MaxConns        int           `envconfig:"MAX_CONNS" default:"25" validate:"min=1"`
	MinConns        int           `envconfig:"MIN_CONNS" default:"2" validate:"min=0"`
	MaxConnLifetime time.Duration `envconfig:"MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `envconfig:"MAX_CONN_IDLE_TIME" default:"30m"`
	ConnectTimeout  time.Duration `envconfig:"CONNECT_TIMEOUT" default:"5s"`

	// Startup ping retries before the service gives up on the database.
	PingMaxRetries int           `envconfig:"PING_MAX_RETRIES" default:"5" validate:"min=1"`
	PingBackoff    time.Duration `envconfig:"PING_BACKOFF" default:"2s"`

	ApplicationName string `envconfig:"APPLICATION_NAME" default:"leadflow"`

	// StatementTimeout bounds every query; zero disables it.
	StatementTimeout time.Duration `envconfig:"STATEMENT_TIMEOUT" default:"10s"`
}

// ConnectionString returns URL when set, otherwise a postgres:// URL built
// from the components.
func (c *DatabaseConfig) ConnectionString() string {
	if c.URL != "" {
		return c.URL
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Host + ":" + c.Port,
		Path:     "/" + c.Name,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	return u.String()
}

// Validate checks connection settings. Production requires a strong password
// and an SSL mode that refuses plaintext.
func (c *DatabaseConfig) Validate(environment string) error {
	if c.URL != "" {
		if err := validatePostgresURL(c.URL); err != nil {
			return fmt.Errorf("invalid database URL: %w", err)
		}
	} else {
		target := endpoint{
			service:   "database",
			host:      c.Host,
			port:      c.Port,
			password:  c.Password,
			encrypted: c.SSLMode == "require" || c.SSLMode == "verify-ca" || c.SSLMode == "verify-full",
		}
		if err := target.check(environment); err != nil {
			return err
		}
		if err := validateNoWhitespace(c.Name, "database name"); err != nil {
			return err
		}
		if len(c.Name) > maxPostgresIdentifierLen {
			return fmt.Errorf("database name cannot exceed %d characters", maxPostgresIdentifierLen)
		}
		if err := validateNoWhitespace(c.User, "database user"); err != nil {
			return err
		}
	}

	switch {
	case c.StatementTimeout < 0:
		return fmt.Errorf("statement_timeout cannot be negative")
	case c.MinConns > c.MaxConns:
		return fmt.Errorf("min_conns (%d) cannot be greater than max_conns (%d)", c.MinConns, c.MaxConns)
	}
	return nil
}

// IsConfigured reports whether enough is set to attempt a connection.
func (c *DatabaseConfig) IsConfigured() bool {
	return c.URL != "" || (c.Host != "" && c.Port != "" && c.Name != "" && c.User != "")
}

func validatePostgresURL(raw string) error {
	u, err := parseServiceURL(raw, "postgres", "postgresql")
	if err != nil {
		return err
	}
	if u.User.Username() == "" {
		return fmt.Errorf("user is required in URL")
	}
	if strings.Trim(u.Path, "/") == "" {
		return fmt.Errorf("database name is required in URL path")
	}
	return nil
}
