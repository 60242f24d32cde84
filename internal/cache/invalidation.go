package cache

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Invalidator broadcasts rule changes over Redis Pub/Sub so every instance
// drops its local copy of the affected flow.
type Invalidator struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

// NewInvalidator creates an invalidator on channel.
func NewInvalidator(logger *slog.Logger, client *redis.Client, channel string) *Invalidator {
	if client == nil {
		panic("cache: redis client cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Invalidator{client: client, channel: channel, logger: logger}
}

// PublishInvalidation announces that the rules of flowID changed.
func (i *Invalidator) PublishInvalidation(ctx context.Context, flowID string) error {
	if err := i.client.Publish(ctx, i.channel, flowID).Err(); err != nil {
		return fmt.Errorf("failed to publish invalidation for flow %q: %w", flowID, err)
	}
	return nil
}

// Listen calls onInvalidate with every flow id received until ctx is
// cancelled. It blocks; go-redis reconnects the subscription on its own.
func (i *Invalidator) Listen(ctx context.Context, onInvalidate func(flowID string)) error {
	sub := i.client.Subscribe(ctx, i.channel)
	defer sub.Close()

	// Wait for the subscription to be confirmed so no message is missed
	// between startup and the first read.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %q: %w", i.channel, err)
	}
	i.logger.Info("listening for rule invalidations", slog.String("channel", i.channel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			i.logger.Debug("rule invalidation received", slog.String("flow_id", msg.Payload))
			onInvalidate(msg.Payload)
		}
	}
}
