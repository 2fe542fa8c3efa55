// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package cache provides a small byte-oriented cache abstraction: a
// TTL'd key/value store, separate from the content-addressed derivation
// cache, with in-memory and Redis backends. No other package in this
// module imports it. Grounded on the teacher's internal/cache
// (interface.go/memory.go/redis.go/factory.go); the CMS-specific
// ConfigCache/typed-wrapper layers built on top of it there have no
// equivalent here and are not carried over.
package cache

import (
	"context"
	"time"
)

// Cache is a thread-safe TTL'd byte cache. Both implementations in this
// package satisfy it.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Has(ctx context.Context, key string) (bool, error)
	Close() error
}

// Stats reports cache hit/miss counters.
type Stats struct {
	Hits    int64
	Misses  int64
	Sets    int64
	Items   int
	HitRate float64
	Size    int64
}

// StatsProvider is implemented by caches that track Stats.
type StatsProvider interface {
	Stats() Stats
	ResetStats()
}

// Error is a sentinel cache error.
type Error string

func (e Error) Error() string { return string(e) }

const (
	ErrCacheMiss   Error = "cache miss"
	ErrCacheClosed Error = "cache closed"
)
