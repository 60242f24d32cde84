package cache_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/leadflow/internal/cache"
	"github.com/rafaeljc/leadflow/internal/ruleengine"
	"github.com/rafaeljc/leadflow/internal/testsupport"
)

func TestRuleSetCache(t *testing.T) {
	c, err := cache.NewRuleSetCache(100, time.Minute)
	require.NoError(t, err)
	defer c.Close()

	t.Run("Should count misses", func(t *testing.T) {
		testsupport.AssertMetricDelta(t, "leadflow_rules_l1_cache_misses_total", nil, 1, func() {
			_, found := c.Get("unknown-flow")
			assert.False(t, found)
		})
	})

	t.Run("Should return the stored set and count the hit", func(t *testing.T) {
		set := ruleengine.Compile("flow-1", nil, nil)
		c.Set("flow-1", set)

		testsupport.AssertMetricDelta(t, "leadflow_rules_l1_cache_hits_total", nil, 1, func() {
			got, found := c.Get("flow-1")
			require.True(t, found)
			assert.Same(t, set, got)
		})
	})

	t.Run("Should forget deleted flows", func(t *testing.T) {
		c.Set("flow-2", ruleengine.Compile("flow-2", nil, nil))
		c.Del("flow-2")

		_, found := c.Get("flow-2")
		assert.False(t, found)
	})

	t.Run("Should publish its size from the collector", func(t *testing.T) {
		for i := range 5 {
			flowID := fmt.Sprintf("sized-%d", i)
			c.Set(flowID, ruleengine.Compile(flowID, nil, nil))
		}

		go c.RunMetricsCollector(t.Context(), 10*time.Millisecond)

		require.Eventually(t, func() bool {
			return testsupport.GetMetricValue(t, "leadflow_rules_l1_cache_items_count", nil) >= 5
		}, 2*time.Second, 20*time.Millisecond)
	})
}

func TestRuleSetCache_TTL(t *testing.T) {
	c, err := cache.NewRuleSetCache(10, 50*time.Millisecond)
	require.NoError(t, err)
	defer c.Close()

	c.Set("flow-1", ruleengine.Compile("flow-1", nil, nil))

	require.Eventually(t, func() bool {
		_, found := c.Get("flow-1")
		return !found
	}, 2*time.Second, 20*time.Millisecond, "entries must expire after the TTL")
}
