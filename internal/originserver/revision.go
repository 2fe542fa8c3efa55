// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package originserver

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/home-cms/home/internal/errkind"
	"github.com/home-cms/home/internal/model"
	"github.com/home-cms/home/internal/revision"
)

// bundleWire is the wire shape of a revision.Bundle, needed because
// Bundle.Derivations is keyed by model.ManifestKey (a struct, not a
// string) and encoding/json cannot marshal a map with a non-string key
// directly — the same key/value-pair-slice workaround
// revision/bundle.go's own persisted derivationManifestBlob uses.
type bundleWire struct {
	Pages         []model.Page            `json:"pages"`
	Assets        []model.Asset           `json:"assets"`
	TemplateNames []string                `json:"template_names"`
	Derivations   []manifestEntryWire     `json:"derivations"`
}

type manifestEntryWire struct {
	Key        model.ManifestKey `json:"key"`
	Derivation model.Derivation  `json:"derivation"`
}

func toBundleWire(b revision.Bundle) bundleWire {
	entries := make([]manifestEntryWire, 0, len(b.Derivations))
	for k, v := range b.Derivations {
		entries = append(entries, manifestEntryWire{Key: k, Derivation: v})
	}
	return bundleWire{
		Pages:         b.Pages,
		Assets:        b.Assets,
		TemplateNames: b.TemplateNames,
		Derivations:   entries,
	}
}

// GetRevision handles GET /tenants/{tenant}/revisions/{revid}: returns the
// full revision bundle, the get(tenant, revid) ->
// RevisionBundle operation. An edge calls this once per promotion
// notification it receives off the subscription stream, to load the new
// revision into memory before swapping its live pointer.
func (s *Server) GetRevision(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	revid, err := revision.ParseID(chi.URLParam(r, "revid"))
	if err != nil {
		writeDeployJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	bundle, err := s.revisions.Get(r.Context(), tenant, revid)
	if err != nil {
		writeDeployJSONError(w, errkind.HTTPStatus(err), err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(toBundleWire(bundle))
}
