/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryCounter counts requests in process memory. It serves a single-node
// deployment; a multi-node deployment shares its counts through the Redis counter.
type MemoryCounter struct {
	mutex     sync.Mutex
	windows   map[string]*window
	lastPrune time.Time
}

type window struct {
	count int64
	start time.Time
}

// NewMemoryCounter returns an in-memory counter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{
		windows:   make(map[string]*window),
		lastPrune: time.Now(),
	}
}

// Incr increments the count for the given key within the current fixed window and
// returns the new count. A new window starts once the previous one has elapsed.
func (c *MemoryCounter) Incr(_ context.Context, key string, windowSize time.Duration) (int64, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := time.Now()

	c.prune(now, windowSize)

	w, ok := c.windows[key]
	if !ok || now.Sub(w.start) >= windowSize {
		w = &window{start: now}
		c.windows[key] = w
	}

	w.count++

	return w.count, nil
}

// prune drops expired windows at most once per window so that the map doesn't keep
// an entry per client forever.
func (c *MemoryCounter) prune(now time.Time, windowSize time.Duration) {
	if now.Sub(c.lastPrune) < windowSize {
		return
	}

	for key, w := range c.windows {
		if now.Sub(w.start) >= windowSize {
			delete(c.windows, key)
		}
	}

	c.lastPrune = now
}
