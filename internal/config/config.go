// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package config loads environment-variable configuration for the origin
// ("mom") and edge ("cub") binaries, following the teacher's struct-tag +
// validator pattern (internal/config in olegiv/ocms-go).
package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// knownWeakSecrets must never be used as a session signing key in production.
var knownWeakSecrets = []string{
	"change-me-to-32-byte-secret-key!",
	"REPLACE_WITH_YOUR_OWN_SECRET_KEY!",
}

// MinSessionSecretLength is the minimum byte length for a session signing
// key (HMAC-SHA256 wants at least a 32-byte key).
const MinSessionSecretLength = 32

// Origin holds the "mom" process configuration.
type Origin struct {
	DBPath          string `env:"HOME_DB_PATH" envDefault:"./data/mom.db"`
	SessionSecret   string `env:"HOME_SESSION_SECRET,required"`
	ServerHost      string `env:"HOME_SERVER_HOST" envDefault:"0.0.0.0"`
	ServerPort      int    `env:"HOME_SERVER_PORT" envDefault:"8090"`
	Env             string `env:"HOME_ENV" envDefault:"development"`
	LogLevel        string `env:"HOME_LOG_LEVEL" envDefault:"info"`

	ObjectStoreDir  string `env:"HOME_OBJECTSTORE_DIR" envDefault:"./data/objects"`
	S3Bucket        string `env:"HOME_S3_BUCKET"`
	S3Region        string `env:"HOME_S3_REGION" envDefault:"us-east-1"`

	RedisURL        string `env:"HOME_REDIS_URL"`
	CachePrefix     string `env:"HOME_CACHE_PREFIX" envDefault:"home:"`

	GeoIPDBPath     string `env:"HOME_GEOIP_DB_PATH"`

	MaxDerivationWorkers int `env:"HOME_MAX_DERIVATION_WORKERS" envDefault:"4"`
	DeployUploadRateBytesPerSec int `env:"HOME_DEPLOY_UPLOAD_RATE_BYTES" envDefault:"52428800"`

	RetentionKeepLast int `env:"HOME_RETENTION_KEEP_LAST" envDefault:"5"`
}

// IsDevelopment reports whether the origin is running in development mode.
func (c Origin) IsDevelopment() bool { return c.Env == "development" }

// ServerAddr returns the host:port the origin listens on.
func (c Origin) ServerAddr() string { return fmt.Sprintf("%s:%d", c.ServerHost, c.ServerPort) }

// UseRedisCache reports whether distributed caching is configured.
func (c Origin) UseRedisCache() bool { return c.RedisURL != "" }

// UseS3 reports whether the production S3 object-store layer is configured.
func (c Origin) UseS3() bool { return c.S3Bucket != "" }

// LoadOrigin parses and validates the origin's environment configuration.
func LoadOrigin() (*Origin, error) {
	cfg := &Origin{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing origin config: %w", err)
	}
	if err := validateSecret(cfg.SessionSecret); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Edge holds the "cub" process configuration.
type Edge struct {
	ServerHost string `env:"HOME_SERVER_HOST" envDefault:"0.0.0.0"`
	ServerPort int    `env:"HOME_SERVER_PORT" envDefault:"8080"`
	Env        string `env:"HOME_ENV" envDefault:"production"`
	LogLevel   string `env:"HOME_LOG_LEVEL" envDefault:"info"`

	// OriginBaseURL is required in production; HOME_DEV_MODE=true lets it
	// default to the embedded in-process dev origin instead (cmd/cub
	// resolves that default, since it alone knows the dev origin's
	// address), so it cannot be enforced with a struct tag here.
	OriginBaseURL string `env:"HOME_ORIGIN_BASE_URL"`
	OriginAPIKey  string `env:"HOME_ORIGIN_API_KEY"`

	// TenantsJSON is a JSON array of edgeserver.TenantConfig entries
	// (label/domain/api_key). The edge carries no database of its own, so
	// this — not a query against a shared store — is how it learns which
	// domains it serves and which per-tenant deploy key to present back
	// to the origin for each one. An entry may omit api_key to fall back
	// to OriginAPIKey.
	TenantsJSON string `env:"HOME_EDGE_TENANTS"`

	CacheMemoryBudgetBytes int64 `env:"HOME_CACHE_MEMORY_BUDGET_BYTES" envDefault:"268435456"`
	CacheDiskBudgetBytes   int64 `env:"HOME_CACHE_DISK_BUDGET_BYTES" envDefault:"10737418240"`
	CacheDiskDir           string `env:"HOME_CACHE_DISK_DIR" envDefault:"./data/edge-cache"`

	WarmupTopN int `env:"HOME_WARMUP_TOP_N" envDefault:"20"`

	// DevMode enables the in-process watcher/builder and the live-reload
	// endpoint. It is distinct from Env so an operator
	// can run a "development" Env elsewhere without wiring a filesystem
	// watcher onto a container with no working tree mounted.
	DevMode    bool   `env:"HOME_DEV_MODE" envDefault:"false"`
	DevContentDir string `env:"HOME_DEV_CONTENT_DIR" envDefault:"./content"`

	GeoIPDBPath string `env:"HOME_GEOIP_DB_PATH"`
}

// IsDevelopment reports whether the edge is running in development mode.
func (c Edge) IsDevelopment() bool { return c.Env == "development" }

// ServerAddr returns the host:port the edge listens on.
func (c Edge) ServerAddr() string { return fmt.Sprintf("%s:%d", c.ServerHost, c.ServerPort) }

// LoadEdge parses and validates the edge's environment configuration.
func LoadEdge() (*Edge, error) {
	cfg := &Edge{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing edge config: %w", err)
	}
	if !cfg.DevMode && cfg.OriginBaseURL == "" {
		return nil, fmt.Errorf("HOME_ORIGIN_BASE_URL is required unless HOME_DEV_MODE=true")
	}
	return cfg, nil
}

func validateSecret(secret string) error {
	if len(secret) < MinSessionSecretLength {
		return fmt.Errorf("HOME_SESSION_SECRET must be at least %d bytes long, got %d bytes; "+
			"generate one with: openssl rand -base64 32", MinSessionSecretLength, len(secret))
	}
	for _, weak := range knownWeakSecrets {
		if secret == weak {
			return fmt.Errorf("HOME_SESSION_SECRET is a known default value and must not be used; " +
				"generate one with: openssl rand -base64 32")
		}
	}
	if !hasMinimumEntropy(secret) {
		return fmt.Errorf("HOME_SESSION_SECRET has low character diversity; " +
			"generate one with: openssl rand -base64 32")
	}
	return nil
}

func hasMinimumEntropy(s string) bool {
	classes := 0
	if strings.ContainsAny(s, "abcdefghijklmnopqrstuvwxyz") {
		classes++
	}
	if strings.ContainsAny(s, "ABCDEFGHIJKLMNOPQRSTUVWXYZ") {
		classes++
	}
	if strings.ContainsAny(s, "0123456789") {
		classes++
	}
	if strings.ContainsAny(s, "!@#$%^&*()-_=+[]{};:,.<>?/\\|~`'\"") {
		classes++
	}
	return classes >= 3
}
