// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/home-cms/home/internal/model"
)

// Refresher re-fetches a provider access token for an expired credential.
// No type in internal/originserver implements it: OIDCProvider performs
// only the initial code exchange.
type Refresher interface {
	Refresh(ctx context.Context, cred model.Credential) (model.Credential, error)
}

// Store persists the refreshed credential.
type Store interface {
	Upsert(ctx context.Context, cred model.Credential) error
}

// RefreshDispatcher fires a credential refresh in the background the
// moment a request observes an expired credential, without making the
// request that discovered it wait on the round trip. This is a lazy
// refresh: it is driven by traffic, not a
// separate poller, but it must never add latency to the request that
// triggers it.
type RefreshDispatcher struct {
	refresher Refresher
	store     Store
	logger    *slog.Logger

	mu      sync.Mutex
	running map[string]bool // tenant|provider|subject currently refreshing
}

// NewRefreshDispatcher constructs a RefreshDispatcher.
func NewRefreshDispatcher(refresher Refresher, store Store, logger *slog.Logger) *RefreshDispatcher {
	return &RefreshDispatcher{
		refresher: refresher,
		store:     store,
		logger:    logger,
		running:   make(map[string]bool),
	}
}

// MaybeDispatch checks cred.Expired(now) and, if so, starts a background
// refresh unless one for the same credential is already in flight. It
// never blocks the caller.
func (d *RefreshDispatcher) MaybeDispatch(cred model.Credential, now time.Time) {
	if !cred.Expired(now) {
		return
	}
	key := cred.Tenant + "|" + cred.Provider + "|" + cred.Subject

	d.mu.Lock()
	if d.running[key] {
		d.mu.Unlock()
		return
	}
	d.running[key] = true
	d.mu.Unlock()

	go d.run(key, cred)
}

func (d *RefreshDispatcher) run(key string, cred model.Credential) {
	defer func() {
		d.mu.Lock()
		delete(d.running, key)
		d.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	refreshed, err := d.refresher.Refresh(ctx, cred)
	if err != nil {
		d.logger.Warn("credential refresh failed", "tenant", cred.Tenant, "provider", cred.Provider, "subject", cred.Subject, "error", err)
		return
	}
	if err := d.store.Upsert(ctx, refreshed); err != nil {
		d.logger.Error("persisting refreshed credential failed", "tenant", cred.Tenant, "provider", cred.Provider, "subject", cred.Subject, "error", err)
	}
}
