// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package originserver

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/home-cms/home/internal/errkind"
	"github.com/home-cms/home/internal/fingerprint"
)

// DerivationProxy handles GET /derive/{fingerprint}: the call the edge
// makes on a local cache miss. It resolves through
// the origin's derivation.Cache, which single-flights concurrent
// requests for the same fingerprint and persists a successful result
// before this handler ever sees it, so two edges racing on the same
// miss never produce the transform twice.
func (s *Server) DerivationProxy(w http.ResponseWriter, r *http.Request) {
	fp := fingerprint.Fingerprint(chi.URLParam(r, "fingerprint"))

	rc, meta, err := s.derivations.Resolve(r.Context(), fp)
	if err != nil {
		writeDeployJSONError(w, errkind.HTTPStatus(err), err.Error())
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", meta.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(meta.Size, 10))
	if meta.ETag != "" {
		w.Header().Set("ETag", meta.ETag)
	}
	// Derivation bytes are immutable once produced (the fingerprint is
	// the key), so a proxied response can be cached by the edge and any
	// intermediary indefinitely.
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	_, _ = io.Copy(w, rc)
}
