// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package originserver

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// subscribeEvent is one line of the subscription stream: a tenant's
// revision was just promoted.
type subscribeEvent struct {
	RevID string `json:"revid"`
}

// Subscribe handles GET /tenants/{tenant}/subscribe: a long-poll/server-push
// stream emitting a line per revision promotion, used by
// edges to learn when to swap their live-revision pointer. The handler
// first emits the tenant's current revision (so a newly-connected edge
// doesn't have to wait for the next promotion to learn what to serve),
// then blocks on revision.Store.Subscribe until the client disconnects.
func (s *Server) Subscribe(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")

	w.Header().Set("Content-Type", "application/x-ndjson")
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)

	emit := func(revid string) {
		_ = enc.Encode(subscribeEvent{RevID: revid})
		if flusher != nil {
			flusher.Flush()
		}
	}

	if current, err := s.revisions.Current(r.Context(), tenant); err == nil {
		emit(string(current))
	}

	ch := s.revisions.Subscribe(r.Context(), tenant)
	for revid := range ch {
		emit(string(revid))
	}
}
