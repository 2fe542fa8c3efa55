// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package scheduler runs the origin's periodic revision-retention sweep:
// for every tenant, it deletes revisions not
// among the most recent N or explicitly pinned, freeing any asset or
// derivation object no remaining revision references.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/home-cms/home/internal/model"
	"github.com/home-cms/home/internal/revision"
)

// TenantLister supplies the tenants to sweep. Satisfied by
// *store.TenantStore.
type TenantLister interface {
	List(ctx context.Context) ([]model.Tenant, error)
}

// PinnedProvider reports the revisions an edge still reports serving for
// a tenant, which Retain must not garbage collect even if they have
// fallen out of the KeepLast window. Optional: a scheduler with none
// configured retains only by recency.
type PinnedProvider interface {
	Pinned(ctx context.Context, tenant string) ([]model.RevisionID, error)
}

// Scheduler drives the revision-retention sweep on a cron schedule.
type Scheduler struct {
	tenants TenantLister
	store   *revision.Store
	pinned  PinnedProvider
	keep    int
	cron    *cron.Cron
	logger  *slog.Logger
}

// New constructs a Scheduler. keepLast is the number of most-recent
// revisions per tenant Retain always keeps; pinned may be nil if the
// deployment has no edge-reported pinning.
func New(tenants TenantLister, revStore *revision.Store, pinned PinnedProvider, keepLast int, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		tenants: tenants,
		store:   revStore,
		pinned:  pinned,
		keep:    keepLast,
		cron:    cron.New(),
		logger:  logger,
	}
}

// Start registers the sweep to run every hour and starts the cron loop.
// A full day's worth of deploys between sweeps would let a busy tenant's
// revision count grow unbounded, so hourly keeps the object store's
// working set bounded without adding meaningful GC overhead.
func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc("0 * * * *", s.sweep)
	if err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("retention scheduler started", "jobs", len(s.cron.Entries()))
	return nil
}

// Stop gracefully stops the scheduler, waiting for any in-flight sweep.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("retention scheduler stopped")
}

// sweep runs one retention pass across every tenant.
func (s *Scheduler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	tenants, err := s.tenants.List(ctx)
	if err != nil {
		s.logger.Error("listing tenants for retention sweep failed", "error", err)
		return
	}

	for _, tenant := range tenants {
		policy := revision.RetentionPolicy{KeepLast: s.keep}
		if s.pinned != nil {
			pins, err := s.pinned.Pinned(ctx, tenant.Label)
			if err != nil {
				s.logger.Warn("fetching pinned revisions failed, sweeping by recency only", "tenant", tenant.Label, "error", err)
			} else {
				policy.Pinned = pins
			}
		}

		if err := s.store.Retain(ctx, tenant.Label, policy); err != nil {
			s.logger.Error("revision retention sweep failed", "tenant", tenant.Label, "error", err)
			continue
		}
		s.logger.Info("revision retention sweep completed", "tenant", tenant.Label)
	}
}
