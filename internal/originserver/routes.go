// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package originserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/home-cms/home/internal/middleware"
)

// Routes registers the origin's endpoints onto r. cmd/mom mounts r with
// its own process-wide middleware (request ID, recoverer, security
// headers) already applied.
func (s *Server) Routes(r chi.Router) {
	r.Route("/tenants/{tenant}", func(tr chi.Router) {
		tr.Group(func(gr chi.Router) {
			// The same DeployKey credential an edge's HOME_ORIGIN_API_KEY
			// holds authenticates both deploy calls and the edge's own
			// read traffic (subscribe/fetch) against this tenant: there is
			// no separate edge-credential type, since both actors need
			// the identical tenant-scoped, revocable guarantee.
			gr.Use(middleware.DeployKeyAuth(s.deployKeys, tenantFromRoute))
			gr.Put("/assets/{sha256}", s.UploadAsset)
			gr.Post("/deploy", s.DeployIngest)
			gr.Post("/revisions/{revid}/promote", s.PromoteRevision)
			gr.Get("/revisions/{revid}", s.GetRevision)
			gr.Get("/subscribe", s.Subscribe)
		})
	})

	r.Get("/derive/{fingerprint}", s.DerivationProxy)
	r.Get("/auth/{provider}/callback", s.ExchangeCallback)
}

// tenantFromRoute reads the {tenant} chi URL param, used by
// middleware.DeployKeyAuth to confirm a deploy key belongs to the tenant
// it is being used against.
func tenantFromRoute(r *http.Request) string {
	return chi.URLParam(r, "tenant")
}
