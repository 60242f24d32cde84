package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// maxRedisDB is the highest logical database of a default Redis server.
const maxRedisDB = 15

// RedisConfig holds the Redis settings shared by the results cache and the
// rule invalidation channel. URL takes precedence over Host and Port.
type RedisConfig struct {
	URL        string `envconfig:"URL"`
	Host       string `envconfig:"HOST"`
	Port       string `envconfig:"PORT"`
	Password   string `envconfig:"PASSWORD"`
	DB         int    `envconfig:"DB" default:"0" validate:"min=0,max=15"`
	TLSEnabled bool   `envconfig:"TLS_ENABLED" default:"false"`

	PoolSize        int           `envconfig:"POOL_SIZE" default:"50" validate:"min=1"`
	MinIdleConns    int           `envconfig:"MIN_IDLE_CONNS" default:"10" validate:"min=0"`
	DialTimeout     time.Duration `envconfig:"DIAL_TIMEOUT" default:"5s"`
	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" default:"3s"`
	PoolTimeout     time.Duration `envconfig:"POOL_TIMEOUT" default:"4s"`
	MaxRetries      int           `envconfig:"MAX_RETRIES" default:"3" validate:"min=0"`
	MinRetryBackoff time.Duration `envconfig:"MIN_RETRY_BACKOFF" default:"8ms"`
	MaxRetryBackoff time.Duration `envconfig:"MAX_RETRY_BACKOFF" default:"512ms"`

	PingMaxRetries int           `envconfig:"PING_MAX_RETRIES" default:"5" validate:"min=1"`
	PingBackoff    time.Duration `envconfig:"PING_BACKOFF" default:"2s"`

	// KeyPrefix namespaces every key and channel leadflow writes.
	KeyPrefix string `envconfig:"KEY_PREFIX" default:"leadflow" validate:"required"`
}

// Address returns host:port. It is ignored by the client when URL is set.
func (c *RedisConfig) Address() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// Validate checks connection settings. Redis is optional, so a config with no
// URL, host or port passes. Production requires a strong password and TLS
// unless a URL is given, in which case the URL is trusted as is.
func (c *RedisConfig) Validate(environment string) error {
	if c.URL == "" && c.Host == "" && c.Port == "" {
		return nil
	}
	if c.URL != "" {
		if err := validateRedisURL(c.URL); err != nil {
			return fmt.Errorf("invalid redis URL: %w", err)
		}
	} else {
		target := endpoint{
			service:   "redis",
			host:      c.Host,
			port:      c.Port,
			password:  c.Password,
			encrypted: c.TLSEnabled,
		}
		if err := target.check(environment); err != nil {
			return err
		}
	}

	switch {
	case strings.ContainsAny(c.KeyPrefix, " \t\n"):
		return fmt.Errorf("redis key prefix cannot contain whitespace")
	case c.MinIdleConns > c.PoolSize:
		return fmt.Errorf("min_idle_conns (%d) cannot be greater than pool_size (%d)", c.MinIdleConns, c.PoolSize)
	}
	return nil
}

// IsConfigured reports whether Redis should be used at all. Without it the
// service runs with the in-process caches only.
func (c *RedisConfig) IsConfigured() bool {
	return c.URL != "" || (c.Host != "" && c.Port != "")
}

// validateRedisURL accepts redis:// and rediss:// with an optional /<db> path.
func validateRedisURL(raw string) error {
	u, err := parseServiceURL(raw, "redis", "rediss")
	if err != nil {
		return err
	}

	db := strings.Trim(u.Path, "/")
	if db == "" {
		return nil
	}
	n, err := strconv.Atoi(db)
	if err != nil {
		return fmt.Errorf("database number must be a valid integer: %s", db)
	}
	if n < 0 || n > maxRedisDB {
		return fmt.Errorf("database number must be between 0 and %d, got %d", maxRedisDB, n)
	}
	return nil
}
