// Package redis opens the go-redis connection the cross-instance trigger
// bus publishes and subscribes on.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Open builds a client from a URL (e.g. "redis://localhost:6379/0") without
// touching the network.
func Open(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

// Connect opens a client and verifies the broker answers before the trigger
// bus starts depending on it. The client is closed again on a failed ping.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	client, err := Open(redisURL)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}
