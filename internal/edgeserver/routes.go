// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package edgeserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/home-cms/home/internal/middleware"
)

// Routes registers the edge's endpoints onto r. cmd/cub mounts r with its
// own process-wide middleware (request ID, recoverer, security headers)
// already applied, matching internal/originserver's layering.
func (s *Server) Routes(r chi.Router) {
	r.Use(middleware.TenantByHost(s.tenants, s.logger))
	r.Get("/media/{fingerprint}", s.ServeDerivation)
	if s.reload != nil {
		r.Get("/__livereload", s.serveLiveReload)
	}
	r.Get("/*", s.ServePage)
}

// serveLiveReload upgrades the connection to the websocket channel,
// only reachable when cmd/cub ran the Server in
// development mode (s.reload != nil).
func (s *Server) serveLiveReload(w http.ResponseWriter, r *http.Request) {
	tenant, ok := middleware.TenantFromContext(r.Context())
	if !ok {
		http.NotFound(w, r)
		return
	}
	var revid string
	if lr, ok := s.Current(tenant.Label); ok {
		revid = string(lr.ID)
	}
	s.reload.ServeWS(w, r, tenant.Label, revid)
}
