package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rafaeljc/leadflow/internal/observability"
	"github.com/rafaeljc/leadflow/internal/stats"
)

// ResultsCache stores computed test results in Redis as JSON strings.
type ResultsCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewResultsCache creates a results cache writing keys under prefix.
func NewResultsCache(client *redis.Client, prefix string, ttl time.Duration) *ResultsCache {
	if client == nil {
		panic("cache: redis client cannot be nil")
	}
	return &ResultsCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *ResultsCache) key(testID string) string {
	return resultsKey(c.prefix, testID)
}

// resultsKey builds "<prefix>:results:<testID>".
func resultsKey(prefix, testID string) string {
	return fmt.Sprintf("%s:results:%s", prefix, testID)
}

// GetResults returns the cached results of a test, or nil on a miss.
func (c *ResultsCache) GetResults(ctx context.Context, testID string) (*stats.Results, error) {
	raw, err := c.client.Get(ctx, c.key(testID)).Bytes()
	if errors.Is(err, redis.Nil) {
		observability.ResultsCacheMisses.Inc()
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read results of test %q: %w", testID, err)
	}

	var res stats.Results
	if err := json.Unmarshal(raw, &res); err != nil {
		// A corrupt entry is a miss; the next calculation overwrites it.
		observability.ResultsCacheMisses.Inc()
		return nil, nil
	}
	observability.ResultsCacheHits.Inc()
	return &res, nil
}

// SetResults caches results until the TTL expires or they are replaced.
func (c *ResultsCache) SetResults(ctx context.Context, r *stats.Results) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode results of test %q: %w", r.TestID, err)
	}
	if err := c.client.Set(ctx, c.key(r.TestID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache results of test %q: %w", r.TestID, err)
	}
	return nil
}

// DeleteResults drops the cached results of a test.
func (c *ResultsCache) DeleteResults(ctx context.Context, testID string) error {
	if err := c.client.Del(ctx, c.key(testID)).Err(); err != nil {
		return fmt.Errorf("failed to drop results of test %q: %w", testID, err)
	}
	return nil
}
