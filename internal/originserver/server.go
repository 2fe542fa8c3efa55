// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package originserver implements the origin's HTTP surface (spec.md
// §4.7): authenticated deploy ingest, the derivation proxy the edge falls
// back to on a cache miss, OAuth-style identity exchange, and a
// subscription stream edges use to learn about revision promotions.
//
// Routing itself is ambient (chi); Server only
// registers routes onto a chi.Router handed to it by cmd/mom, which also
// owns the process-wide middleware stack (request ID, recoverer,
// security headers), matching the layering in the teacher's
// cmd/ocms/main.go.
package originserver

import (
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/home-cms/home/internal/derivation"
	"github.com/home-cms/home/internal/objectstore"
	"github.com/home-cms/home/internal/revision"
	"github.com/home-cms/home/internal/session"
	"github.com/home-cms/home/internal/store"
)

// Config controls the origin server's own behavior, independent of
// config.Origin's process-level concerns (DB path, listen address),
// which cmd/mom resolves before constructing a Server.
type Config struct {
	// UploadRateBytesPerSec bounds asset-upload throughput per deploy
	// call, applying flow control to the upload stream.
	UploadRateBytesPerSec int

	// DevAssetFallbackDir is accepted but not read by any handler: the
	// derivation proxy reads source assets only from the object store,
	// with no fallback to a tenant's working tree.
	DevAssetFallbackDir string

	// PostLoginRedirect is where ExchangeCallback sends the browser
	// after a successful identity exchange.
	PostLoginRedirect string

	// DevMode relaxes the session cookie's Secure flag and __Host- name
	// prefix so the identity exchange works over plain HTTP in local
	// development, matching the teacher's admin-session dev handling.
	DevMode bool
}

// Server holds the dependencies every origin HTTP handler needs.
type Server struct {
	cfg Config

	tenants     *store.TenantStore
	deployKeys  *store.DeployKeyStore
	credentials *store.CredentialStore
	revisions   *revision.Store
	derivations *derivation.Cache
	manifests   *ManifestIndex
	assets      objectstore.Store
	keyDeriver  *session.KeyDeriver
	providers   map[string]IdentityProvider

	limiter *rate.Limiter
	logger  *slog.Logger
}

// New constructs a Server. providers maps an OAuth-style provider name
// (as it appears in the /auth/{provider}/callback route) to its
// IdentityProvider implementation; it may be empty if no providers are
// enabled for this deployment. assets is the same objectstore.Store the
// derivation cache and revision store are themselves built over, handed
// to Server directly since put_if_absent writes for uploaded/bundled
// assets happen outside those two abstractions. manifests must be the
// same *ManifestIndex the Producer passed to derivations was built with,
// so that DeployIngest recording a newly-submitted bundle's manifest
// entries actually makes them resolvable on the next derivation request.
func New(
	cfg Config,
	tenants *store.TenantStore,
	deployKeys *store.DeployKeyStore,
	credentials *store.CredentialStore,
	revisions *revision.Store,
	derivations *derivation.Cache,
	assets objectstore.Store,
	manifests *ManifestIndex,
	keyDeriver *session.KeyDeriver,
	providers map[string]IdentityProvider,
	logger *slog.Logger,
) *Server {
	rps := cfg.UploadRateBytesPerSec
	if rps <= 0 {
		rps = 50 * 1024 * 1024 // 50MiB/s default, generous enough not to throttle normal deploys
	}
	if manifests == nil {
		manifests = NewManifestIndex()
	}
	return &Server{
		cfg:         cfg,
		tenants:     tenants,
		deployKeys:  deployKeys,
		credentials: credentials,
		revisions:   revisions,
		derivations: derivations,
		manifests:   manifests,
		assets:      assets,
		keyDeriver:  keyDeriver,
		providers:   providers,
		limiter:     rate.NewLimiter(rate.Limit(rps), rps),
		logger:      logger,
	}
}

