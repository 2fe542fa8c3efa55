// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package edgeserver

import (
	"net/http"
	"strings"

	"github.com/home-cms/home/internal/fingerprint"
	"github.com/home-cms/home/internal/middleware"
	"github.com/home-cms/home/internal/model"
)

// ServePage handles every request that isn't the derivation proxy: it
// resolves the request path against the tenant's live revision by
// looking up the tenant's current revision and resolving the route
// against the page graph. A path that
// isn't a page route falls through to a raw-asset lookup by content-path,
// since a page's rendered body links to source assets by their
// content-path directly (see internal/revision.extractInternalLinks).
func (s *Server) ServePage(w http.ResponseWriter, r *http.Request) {
	tenant, ok := middleware.TenantFromContext(r.Context())
	if !ok {
		http.NotFound(w, r)
		return
	}

	lr, ok := s.Current(tenant.Label)
	if !ok {
		writeEdgeError(w, http.StatusServiceUnavailable, "no revision loaded for this tenant yet")
		return
	}

	if page, ok := lr.ResolveRoute(r.URL.Path); ok {
		s.writePage(w, page)
		return
	}

	if asset, ok := lr.Assets[strings.TrimPrefix(r.URL.Path, "/")]; ok {
		s.serveAsset(w, r, asset)
		return
	}

	http.NotFound(w, r)
}

func (s *Server) writePage(w http.ResponseWriter, page *model.Page) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(page.Body))
}

// serveAsset streams a source asset's bytes. Assets are addressed by the
// SHA-256 of their bytes, and fingerprint.Compute's passthrough
// optimization makes that hash identical to the fingerprint the
// derivation cache would compute for a no-op transform over it — so a
// raw asset and a "passthrough" derivation of it are the same cache
// entry, letting Retain's fingerprint-based reference counting (spec.md
// §4.4 "sharing between revisions") cover both uniformly instead of
// needing a second GC path just for original assets.
func (s *Server) serveAsset(w http.ResponseWriter, r *http.Request, asset model.Asset) {
	data, ct, err := s.derivations.Get(r.Context(), fingerprint.Fingerprint(asset.SHA256))
	if err != nil {
		writeEdgeError(w, statusForErr(err), err.Error())
		return
	}
	if ct == "" {
		ct = asset.ContentType
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Header().Set("ETag", `"`+asset.SHA256+`"`)
	_, _ = w.Write(data)
}
