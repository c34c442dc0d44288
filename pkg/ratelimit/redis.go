/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCounter counts requests in Redis so that all nodes behind the same
// address see the same counts.
type RedisCounter struct {
	client *redis.Client
}

// NewRedisCounter returns a counter backed by the given Redis client.
func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

// Incr increments the count for the given key and returns the new count. The key
// expires at the end of the window. The expiration is only set when the key is
// created, which pins the window start to the client's first request.
func (c *RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()

	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("increment count for [%s]: %w", key, err)
	}

	return incr.Val(), nil
}
