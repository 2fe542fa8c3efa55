// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package cache

import (
	"fmt"
	"time"
)

// Backend selects which Cache implementation Config builds.
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendRedis  Backend = "redis"
)

// Config describes how to construct a Cache, read from the process's
// environment-derived configuration (internal/config). Grounded on the
// teacher's internal/cache/factory.go CacheConfig/NewCache pair.
type Config struct {
	Backend Backend

	DefaultTTL      time.Duration
	CleanupInterval time.Duration // memory only

	RedisURL            string
	RedisPrefix         string
	RedisPoolSize       int
	RedisConnectTimeout time.Duration
	RedisReadTimeout    time.Duration
	RedisWriteTimeout   time.Duration
}

// New builds the Cache named by cfg.Backend.
func New(cfg Config) (Cache, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemoryCache(MemoryCacheOptions{
			DefaultTTL:      cfg.DefaultTTL,
			CleanupInterval: cfg.CleanupInterval,
		}), nil
	case BackendRedis:
		return NewRedisCache(RedisCacheOptions{
			URL:            cfg.RedisURL,
			Prefix:         cfg.RedisPrefix,
			DefaultTTL:     cfg.DefaultTTL,
			PoolSize:       cfg.RedisPoolSize,
			ConnectTimeout: cfg.RedisConnectTimeout,
			ReadTimeout:    cfg.RedisReadTimeout,
			WriteTimeout:   cfg.RedisWriteTimeout,
		})
	default:
		return nil, fmt.Errorf("cache: unknown backend %q", cfg.Backend)
	}
}
