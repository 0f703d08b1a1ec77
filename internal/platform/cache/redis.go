package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPingTimeout = 5 * time.Second

// New creates a Redis client and verifies the connection with a bounded
// ping. A non-positive pingTimeout falls back to the default.
func New(ctx context.Context, addr string, pingTimeout time.Duration) (*redis.Client, error) {
	if pingTimeout <= 0 {
		pingTimeout = defaultPingTimeout
	}
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("platform/cache: ping %s: %w", addr, err)
	}

	return client, nil
}
