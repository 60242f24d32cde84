package config

import (
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
)

// minProductionPasswordLen is the shortest backing-store password accepted in production.
const minProductionPasswordLen = 12

// endpoint is a backing store addressed by host and port instead of a URL.
type endpoint struct {
	service  string
	host     string
	port     string
	password string

	// encrypted reports whether the connection is TLS protected.
	encrypted bool
}

// check validates the address and, in production, the credentials and transport.
func (e endpoint) check(environment string) error {
	if err := validateHost(e.host, e.service); err != nil {
		return err
	}
	if err := validatePort(e.port, e.service); err != nil {
		return err
	}
	if environment != EnvironmentProduction {
		return nil
	}

	switch {
	case e.password == "":
		return fmt.Errorf("%s password is required in production environment", e.service)
	case len(e.password) < minProductionPasswordLen:
		return fmt.Errorf("%s password must be at least %d characters in production", e.service, minProductionPasswordLen)
	case !e.encrypted:
		return fmt.Errorf("%s connection must be encrypted in production environment", e.service)
	}
	return nil
}

// parseServiceURL parses a connection URL and requires one of the schemes and a host.
func parseServiceURL(raw string, schemes ...string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	if !slices.Contains(schemes, u.Scheme) {
		return nil, fmt.Errorf("invalid scheme %q, must be one of: %s", u.Scheme, strings.Join(schemes, ", "))
	}
	if u.Host == "" {
		return nil, fmt.Errorf("host is required in URL")
	}
	return u, nil
}

func validatePort(port, service string) error {
	if port == "" {
		return fmt.Errorf("%s port cannot be empty", service)
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("%s port must be a number: %w", service, err)
	}
	if n < 1 || n > 65535 {
		return fmt.Errorf("%s port must be between 1 and 65535, got %d", service, n)
	}
	return nil
}

func validateHost(host, service string) error {
	return validateNoWhitespace(host, service+" host")
}

// validateNoWhitespace rejects empty values and values with surrounding whitespace.
func validateNoWhitespace(value, field string) error {
	switch {
	case value == "":
		return fmt.Errorf("%s cannot be empty", field)
	case strings.TrimSpace(value) != value:
		return fmt.Errorf("%s cannot contain whitespace", field)
	}
	return nil
}
