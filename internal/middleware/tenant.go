// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/home-cms/home/internal/model"
	"github.com/home-cms/home/internal/store"
)

// TenantResolver looks up a tenant by its serving domain. Satisfied by
// *store.TenantStore; narrowed to an interface here so tests can supply a
// fake without touching a database.
type TenantResolver interface {
	ByDomain(ctx context.Context, domain string) (model.Tenant, error)
}

// TenantByHost resolves the incoming request to a tenant by Host header:
// it routes an incoming request to a tenant by host
// header (case-insensitive, trailing dot tolerated). Unknown hosts get a
// 404 rather than falling through to a default tenant, since cross-tenant
// fallback would leak one tenant's content under another's domain.
func TenantByHost(resolver TenantResolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host := normalizeHost(r.Host)
			if host == "" {
				http.NotFound(w, r)
				return
			}

			tenant, err := resolver.ByDomain(r.Context(), host)
			if err != nil {
				logger.Debug("tenant resolution failed", "host", host, "error", err)
				http.NotFound(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyTenant, tenant)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// normalizeHost strips a port, lowercases the host, and tolerates a
// trailing dot (a fully-qualified DNS name like "acme.example.com.").
func normalizeHost(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	return host
}

// TenantFromContext retrieves the tenant set by TenantByHost, if any.
func TenantFromContext(ctx context.Context) (model.Tenant, bool) {
	t, ok := ctx.Value(ContextKeyTenant).(model.Tenant)
	return t, ok
}

var _ TenantResolver = (*store.TenantStore)(nil)
