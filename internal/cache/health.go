package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/rafaeljc/leadflow/internal/observability"
)

// ReadinessCheck pings the Redis instance behind the results cache and the
// invalidation channel.
func ReadinessCheck(client *redis.Client) observability.CheckerFunc {
	return observability.CheckerFunc{
		Component: "redis",
		Fn: func(ctx context.Context) error {
			if client == nil {
				return errors.New("redis client is nil")
			}
			if err := client.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis ping failed: %w", err)
			}
			return nil
		},
	}
}
