package config

import "time"

// CacheConfig sizes the in-process rule set cache and the Redis results cache.
type CacheConfig struct {
	// RulesCapacity caps the number of compiled rule sets kept in memory.
	RulesCapacity int `envconfig:"RULES_CAPACITY" default:"10000" validate:"min=1"`

	// RulesTTL bounds staleness when an invalidation message is lost.
	RulesTTL time.Duration `envconfig:"RULES_TTL" default:"5m" validate:"gt=0"`

	ResultsTTL time.Duration `envconfig:"RESULTS_TTL" default:"10m" validate:"gt=0"`

	// InvalidationChannel is the Redis Pub/Sub channel carrying flow ids
	// whose rules changed.
	InvalidationChannel string `envconfig:"INVALIDATION_CHANNEL" default:"leadflow:rules:invalidate" validate:"required"`

	MetricsInterval time.Duration `envconfig:"METRICS_INTERVAL" default:"15s" validate:"gt=0"`
}
