// Package cache provides the caching layers of leadflow: an in-process
// store of compiled rule sets and Redis-backed test results with Pub/Sub
// invalidation across instances.
package cache

import (
	"context"
	"time"

	"github.com/maypok86/otter"

	"github.com/rafaeljc/leadflow/internal/observability"
	"github.com/rafaeljc/leadflow/internal/ruleengine"
)

// RuleSetCache is the L1 cache of compiled rule sets, keyed by flow id. It
// uses the contention-free S3-FIFO policy provided by otter.
type RuleSetCache struct {
	store otter.Cache[string, *ruleengine.RuleSet]
}

// NewRuleSetCache builds a cache holding at most capacity rule sets, each
// expiring after ttl so lost invalidations heal on their own.
func NewRuleSetCache(capacity int, ttl time.Duration) (*RuleSetCache, error) {
	store, err := otter.MustBuilder[string, *ruleengine.RuleSet](capacity).
		WithTTL(ttl).
		Build()
	if err != nil {
		return nil, err
	}
	return &RuleSetCache{store: store}, nil
}

// Get returns the compiled rule set of a flow.
func (c *RuleSetCache) Get(flowID string) (*ruleengine.RuleSet, bool) {
	set, ok := c.store.Get(flowID)
	if ok {
		observability.RuleCacheHits.Inc()
	} else {
		observability.RuleCacheMisses.Inc()
	}
	return set, ok
}

// Set stores a compiled rule set.
func (c *RuleSetCache) Set(flowID string, set *ruleengine.RuleSet) {
	if !c.store.Set(flowID, set) {
		observability.RuleCacheDropped.Inc()
	}
}

// Del drops the rule set of a flow.
func (c *RuleSetCache) Del(flowID string) {
	c.store.Delete(flowID)
}

// Len returns the number of cached rule sets.
func (c *RuleSetCache) Len() int {
	return c.store.Size()
}

// RunMetricsCollector publishes the cache size every interval until ctx is
// cancelled.
func (c *RuleSetCache) RunMetricsCollector(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		observability.RuleCacheItems.Set(float64(c.store.Size()))
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Close stops otter's background goroutines.
func (c *RuleSetCache) Close() {
	c.store.Close()
}
