// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

type memoryEntry struct {
	value    []byte
	expireAt time.Time // zero means no expiry
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expireAt.IsZero() && now.After(e.expireAt)
}

// MemoryCacheOptions configures a MemoryCache.
type MemoryCacheOptions struct {
	DefaultTTL      time.Duration // used when Set is called with ttl <= 0
	CleanupInterval time.Duration // 0 disables the background sweep
}

// MemoryCache is an in-process Cache backed by sync.Map, grounded on the
// teacher's internal/cache/memory.go. Suitable for single-instance
// deployments or as the edge's local geoip/nonce cache; multi-instance
// origin deployments should prefer RedisCache for anything that must be
// shared across processes.
type MemoryCache struct {
	data sync.Map // string -> memoryEntry
	opts MemoryCacheOptions

	hits, misses, sets int64
	closed             int32

	stopCleanup chan struct{}
	cleanupOnce sync.Once
}

// NewMemoryCache constructs a MemoryCache and starts its background
// cleanup goroutine if opts.CleanupInterval > 0.
func NewMemoryCache(opts MemoryCacheOptions) *MemoryCache {
	c := &MemoryCache{opts: opts, stopCleanup: make(chan struct{})}
	if opts.CleanupInterval > 0 {
		go c.cleanupLoop(opts.CleanupInterval)
	}
	return c
}

func (c *MemoryCache) cleanupLoop(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			now := time.Now()
			c.data.Range(func(key, value any) bool {
				if value.(memoryEntry).expired(now) {
					c.data.Delete(key)
				}
				return true
			})
		case <-c.stopCleanup:
			return
		}
	}
}

func (c *MemoryCache) isClosed() bool { return atomic.LoadInt32(&c.closed) == 1 }

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	if c.isClosed() {
		return nil, ErrCacheClosed
	}
	v, ok := c.data.Load(key)
	if !ok {
		atomic.AddInt64(&c.misses, 1)
		return nil, ErrCacheMiss
	}
	entry := v.(memoryEntry)
	if entry.expired(time.Now()) {
		c.data.Delete(key)
		atomic.AddInt64(&c.misses, 1)
		return nil, ErrCacheMiss
	}
	atomic.AddInt64(&c.hits, 1)
	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if c.isClosed() {
		return ErrCacheClosed
	}
	if ttl <= 0 {
		ttl = c.opts.DefaultTTL
	}
	entry := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expireAt = time.Now().Add(ttl)
	}
	c.data.Store(key, entry)
	atomic.AddInt64(&c.sets, 1)
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	if c.isClosed() {
		return ErrCacheClosed
	}
	c.data.Delete(key)
	return nil
}

func (c *MemoryCache) Clear(_ context.Context) error {
	if c.isClosed() {
		return ErrCacheClosed
	}
	c.data.Range(func(key, _ any) bool {
		c.data.Delete(key)
		return true
	})
	return nil
}

func (c *MemoryCache) Has(ctx context.Context, key string) (bool, error) {
	_, err := c.Get(ctx, key)
	if err == ErrCacheMiss {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *MemoryCache) Close() error {
	if atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		c.cleanupOnce.Do(func() { close(c.stopCleanup) })
	}
	return nil
}

// Stats implements StatsProvider.
func (c *MemoryCache) Stats() Stats {
	hits := atomic.LoadInt64(&c.hits)
	misses := atomic.LoadInt64(&c.misses)
	sets := atomic.LoadInt64(&c.sets)
	var items int
	c.data.Range(func(_, _ any) bool { items++; return true })
	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}
	return Stats{Hits: hits, Misses: misses, Sets: sets, Items: items, HitRate: rate}
}

// ResetStats implements StatsProvider.
func (c *MemoryCache) ResetStats() {
	atomic.StoreInt64(&c.hits, 0)
	atomic.StoreInt64(&c.misses, 0)
	atomic.StoreInt64(&c.sets, 0)
}
