// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package edgeserver

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/home-cms/home/internal/fingerprint"
)

// ServeDerivation handles GET /media/{fingerprint}, the
// derivation URL shape (`/<prefix>/<fingerprint-hex>?variant=<codec>`).
// The variant query parameter is accepted but never inspected: the
// fingerprint alone is canonical and already encodes the transform and
// its parameters, so variant exists only to let a CDN vary cache keys by
// codec on the wire without changing what byte-identical content this
// handler serves.
func (s *Server) ServeDerivation(w http.ResponseWriter, r *http.Request) {
	fp := fingerprint.Fingerprint(chi.URLParam(r, "fingerprint"))

	data, ct, err := s.derivations.Get(r.Context(), fp)
	if err != nil {
		writeEdgeError(w, statusForErr(err), err.Error())
		return
	}

	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Header().Set("ETag", `"`+string(fp)+`"`)
	_, _ = w.Write(data)
}
