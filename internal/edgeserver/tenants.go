// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package edgeserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"

	"github.com/home-cms/home/internal/middleware"
	"github.com/home-cms/home/internal/model"
)

var _ middleware.TenantResolver = (*StaticTenantResolver)(nil)

// TenantConfig is one entry of an edge's static tenant directory,
// supplied via HOME_EDGE_TENANTS as a JSON array. Unlike the origin,
// which resolves tenants against its own relational store, the edge
// carries no database of its own — the edge is a stateless,
// horizontally-scalable process — its tenant-to-domain map and the
// per-tenant deploy-key credential it authenticates to the origin with
// are both pushed in at deploy/config time instead.
type TenantConfig struct {
	Label  string `json:"label"`
	Domain string `json:"domain"`
	APIKey string `json:"api_key,omitempty"`
}

// StaticTenantResolver satisfies middleware.TenantResolver over an
// in-memory map built from config, so the edge can reuse the same
// host-based routing middleware the origin's TenantByHost doc comment
// already describes rather than inventing a second resolution mechanism.
type StaticTenantResolver struct {
	byDomain map[string]model.Tenant
	apiKeys  map[string]string // tenant label -> deploy key
}

// ParseTenantConfigs decodes HOME_EDGE_TENANTS, a JSON array of tenant
// entries. An empty or all-whitespace string yields no entries and no
// error.
func ParseTenantConfigs(raw string) ([]TenantConfig, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var cfgs []TenantConfig
	if err := json.Unmarshal([]byte(raw), &cfgs); err != nil {
		return nil, fmt.Errorf("parsing HOME_EDGE_TENANTS: %w", err)
	}
	return cfgs, nil
}

// NewStaticTenantResolver builds a resolver from cfgs. Entries with an
// empty APIKey fall back to defaultAPIKey (HOME_ORIGIN_API_KEY), so a
// single-tenant deployment can omit per-entry keys entirely.
func NewStaticTenantResolver(cfgs []TenantConfig, defaultAPIKey string) (*StaticTenantResolver, error) {
	r := &StaticTenantResolver{
		byDomain: make(map[string]model.Tenant, len(cfgs)),
		apiKeys:  make(map[string]string, len(cfgs)),
	}
	for _, c := range cfgs {
		if c.Label == "" || c.Domain == "" {
			return nil, fmt.Errorf("edge tenant config entry missing label or domain: %+v", c)
		}
		domain := normalizeDomain(c.Domain)
		r.byDomain[domain] = model.Tenant{Label: c.Label, Domain: c.Domain}
		key := c.APIKey
		if key == "" {
			key = defaultAPIKey
		}
		r.apiKeys[c.Label] = key
	}
	return r, nil
}

func normalizeDomain(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(strings.TrimSuffix(host, "."))
}

// ByDomain implements middleware.TenantResolver.
func (r *StaticTenantResolver) ByDomain(_ context.Context, domain string) (model.Tenant, error) {
	t, ok := r.byDomain[normalizeDomain(domain)]
	if !ok {
		return model.Tenant{}, fmt.Errorf("no tenant configured for domain %q", domain)
	}
	return t, nil
}

// Tenants returns every configured tenant, in no particular order.
// Nothing in the module calls it: cmd/cub starts its per-tenant watch
// loops from the parsed TenantConfig list.
func (r *StaticTenantResolver) Tenants() []model.Tenant {
	out := make([]model.Tenant, 0, len(r.byDomain))
	for _, t := range r.byDomain {
		out = append(out, t)
	}
	return out
}

// APIKey returns the deploy-key credential this edge authenticates to
// the origin with on behalf of tenant.
func (r *StaticTenantResolver) APIKey(tenant string) string {
	return r.apiKeys[tenant]
}
