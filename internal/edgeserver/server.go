// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package edgeserver implements the edge endpoint:
// host-based tenant resolution, an atomically-swappable live-revision
// pointer per tenant, page/asset/derivation serving against the current
// revision, and post-swap warmup prefetch. Routing itself is ambient
// (chi); Server only registers routes onto a
// chi.Router handed to it by cmd/cub, matching internal/originserver's
// layering.
package edgeserver

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/home-cms/home/internal/derivation"
	"github.com/home-cms/home/internal/fingerprint"
	"github.com/home-cms/home/internal/geoip"
	"github.com/home-cms/home/internal/livereload"
	"github.com/home-cms/home/internal/model"
	"github.com/home-cms/home/internal/revision"
)

// Config controls edge-specific behavior independent of config.Edge's
// process-level concerns (listen address, cache budgets), which cmd/cub
// resolves before constructing a Server.
type Config struct {
	// WarmupTopN is how many of the most recently promoted revision's
	// index-page derivations to prefetch right after a swap, per spec.md
	// §4.8 "the edge may prefetch the top-N derivations referenced by the
	// most recent index pages to smooth the transient."
	WarmupTopN int
}

// Server holds the dependencies every edge HTTP handler needs.
type Server struct {
	cfg Config

	tenants     *StaticTenantResolver
	origin      *OriginClient
	derivations *derivation.EdgeCache
	geo         *geoip.Lookup
	reload      *livereload.Hub // nil outside dev mode
	logger      *slog.Logger

	mu   sync.RWMutex
	live map[string]*atomic.Pointer[revision.LoadedRevision] // tenant label -> live pointer
}

// New constructs a Server. geo may be nil (or an uninitialized Lookup) if
// no GeoLite2 database is configured; lookups then degrade to empty
// fields rather than failing requests. reload may be nil: cmd/cub only
// builds a livereload.Hub in development mode, and a nil
// Hub simply means WatchTenant never has anyone to announce swaps to.
func New(cfg Config, tenants *StaticTenantResolver, origin *OriginClient, derivations *derivation.EdgeCache, geo *geoip.Lookup, reload *livereload.Hub, logger *slog.Logger) *Server {
	return &Server{
		cfg:         cfg,
		tenants:     tenants,
		origin:      origin,
		derivations: derivations,
		geo:         geo,
		reload:      reload,
		logger:      logger,
		live:        make(map[string]*atomic.Pointer[revision.LoadedRevision]),
	}
}

// pointerFor returns the atomic pointer slot for tenant, creating it
// (initially nil, meaning "no revision loaded yet") on first access.
func (s *Server) pointerFor(tenant string) *atomic.Pointer[revision.LoadedRevision] {
	s.mu.RLock()
	p, ok := s.live[tenant]
	s.mu.RUnlock()
	if ok {
		return p
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.live[tenant]; ok {
		return p
	}
	p = &atomic.Pointer[revision.LoadedRevision]{}
	s.live[tenant] = p
	return p
}

// Current returns the tenant's live revision, or false if none has been
// loaded yet (a cold edge that hasn't received its first promotion).
// This is the fast, lock-free read path: a fast
// atomic snapshot that does not block on reload.
func (s *Server) Current(tenant string) (*revision.LoadedRevision, bool) {
	lr := s.pointerFor(tenant).Load()
	return lr, lr != nil
}

// WatchTenant runs until ctx is done: it subscribes to the origin's
// promotion stream for tenant and, on each notification, fetches and
// loads the new bundle before atomically swapping it in. A load failure
// (a bundle that fails Loader's invariants) leaves the current revision
// live and only logs: an invariant violation is fatal for that revision
// load, but the prior revision remains live.
func (s *Server) WatchTenant(ctx context.Context, tenant model.Tenant) {
	apiKey := s.tenants.APIKey(tenant.Label)
	ptr := s.pointerFor(tenant.Label)

	for revid := range s.origin.Subscribe(ctx, tenant.Label, apiKey) {
		if cur := ptr.Load(); cur != nil && cur.ID == revid {
			continue
		}

		bundle, err := s.origin.FetchRevision(ctx, tenant.Label, apiKey, revid)
		if err != nil {
			s.logger.Error("fetching revision from origin failed", "tenant", tenant.Label, "revid", revid, "error", err)
			continue
		}

		loaded, err := revision.Load(tenant.Label, revid, bundle)
		if err != nil {
			s.logger.Error("loading revision bundle failed, keeping prior revision live", "tenant", tenant.Label, "revid", revid, "error", err)
			continue
		}

		ptr.Store(loaded)
		s.logger.Info("swapped in new revision", "tenant", tenant.Label, "revid", revid, "pages", len(loaded.Pages))

		if s.reload != nil {
			s.reload.NewRevision(tenant.Label, string(revid))
		}

		s.warmup(ctx, loaded)
	}
}

// warmup prefetches the derivations referenced by the revision's
// non-draft index-like pages (those at "/" or ending in "/") so the
// first real requests after a swap don't pay a cold single-flight
// round-trip to the origin.
func (s *Server) warmup(ctx context.Context, lr *revision.LoadedRevision) {
	if s.cfg.WarmupTopN <= 0 {
		return
	}
	n := 0
	for _, p := range lr.Pages {
		if n >= s.cfg.WarmupTopN {
			break
		}
		if p.Draft {
			continue
		}
		if p.Route != "/" && p.Route != "" && p.Route[len(p.Route)-1] != '/' {
			continue
		}
		for key, d := range lr.Derivations {
			if key.ContentPath != p.ContentPath {
				continue
			}
			n++
			go func(fp string) {
				if _, _, err := s.derivations.Get(ctx, fingerprint.Fingerprint(fp)); err != nil {
					s.logger.Debug("warmup prefetch failed", "fingerprint", fp, "error", err)
				}
			}(d.Fingerprint)
			if n >= s.cfg.WarmupTopN {
				break
			}
		}
	}
}
