// Package coordination propagates manual broadcast triggers across instances
// via Redis pub/sub, so a trigger accepted by one replica refreshes the feed
// everywhere.
package coordination

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/OllieMilton/pulsefeed/internal/metrics"
)

// TriggerChannel is the Redis pub/sub channel carrying trigger messages.
// The payload is the stream name ("time" or "status").
const TriggerChannel = "pulsefeed:trigger"

// Triggerable is the driver surface the bus invokes on inbound messages.
type Triggerable interface {
	TriggerNow() bool
}

// TriggerBus subscribes to the trigger channel and forwards each message to
// the matching driver.
type TriggerBus struct {
	redis   *redis.Client
	drivers map[string]Triggerable
}

// NewTriggerBus creates a bus routing stream names to drivers.
func NewTriggerBus(redis *redis.Client, drivers map[string]Triggerable) *TriggerBus {
	return &TriggerBus{redis: redis, drivers: drivers}
}

// Start begins listening for trigger messages. Blocks until ctx is cancelled.
func (b *TriggerBus) Start(ctx context.Context) {
	pubsub := b.redis.Subscribe(ctx, TriggerChannel)
	defer func() {
		_ = pubsub.Close()
	}()

	ch := pubsub.Channel()
	for {
		select {
		case msg := <-ch:
			if msg == nil {
				return
			}
			b.handleTrigger(msg.Payload)
		case <-ctx.Done():
			return
		}
	}
}

// handleTrigger routes one trigger message to its driver.
func (b *TriggerBus) handleTrigger(stream string) {
	metrics.TriggerBusMessagesTotal.WithLabelValues(stream).Inc()

	driver, ok := b.drivers[stream]
	if !ok {
		slog.Warn("Trigger for unknown stream", "stream", stream)
		return
	}

	if driver.TriggerNow() {
		slog.Debug("Broadcast triggered via pub/sub", "stream", stream)
	} else {
		slog.Debug("Trigger coalesced, broadcast already pending", "stream", stream)
	}
}

// PublishTrigger broadcasts a trigger for the given stream to all instances.
func PublishTrigger(ctx context.Context, redis *redis.Client, stream string) error {
	if err := redis.Publish(ctx, TriggerChannel, stream).Err(); err != nil {
		return fmt.Errorf("failed to publish trigger: %w", err)
	}
	return nil
}
