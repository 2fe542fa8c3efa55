// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package revision

import (
	"encoding/json"
	"fmt"

	"github.com/home-cms/home/internal/model"
)

// Bundle is the caller-supplied payload to Store.Submit: everything
// needed to assemble one immutable revision, before it has been written
// to the object store or assigned a manifest-key layout of its own.
// Asset and derivation bytes themselves are assumed already present in
// the object store (written by the upload/derivation pipeline before
// submission); Bundle carries only the manifests that index them.
type Bundle struct {
	Pages         []model.Page
	Assets        []model.Asset
	TemplateNames []string
	Derivations   map[model.ManifestKey]model.Derivation
}

// pageGraphBlob, assetManifestBlob, derivationManifestBlob and
// templateSetBlob are the on-disk (on-object-store) JSON shapes written
// under a revision's manifest keys. They exist as a narrow seam between
// Bundle (what a caller builds in memory) and the bytes actually
// persisted, so the wire format can evolve without changing Bundle.
type pageGraphBlob struct {
	Pages []model.Page `json:"pages"`
}

type assetManifestBlob struct {
	Assets []model.Asset `json:"assets"`
}

type derivationManifestEntry struct {
	Key         model.ManifestKey `json:"key"`
	Derivation  model.Derivation  `json:"derivation"`
}

type derivationManifestBlob struct {
	Entries []derivationManifestEntry `json:"entries"`
}

type templateSetBlob struct {
	Names []string `json:"names"`
}

func marshalPageGraph(b Bundle) ([]byte, error) {
	return json.Marshal(pageGraphBlob{Pages: b.Pages})
}

func marshalAssetManifest(b Bundle) ([]byte, error) {
	return json.Marshal(assetManifestBlob{Assets: b.Assets})
}

func marshalDerivationManifest(b Bundle) ([]byte, error) {
	entries := make([]derivationManifestEntry, 0, len(b.Derivations))
	for k, v := range b.Derivations {
		entries = append(entries, derivationManifestEntry{Key: k, Derivation: v})
	}
	return json.Marshal(derivationManifestBlob{Entries: entries})
}

func marshalTemplateSet(b Bundle) ([]byte, error) {
	return json.Marshal(templateSetBlob{Names: b.TemplateNames})
}

// unmarshalPageGraph, unmarshalAssetManifest, unmarshalDerivationManifest
// and unmarshalTemplateSet are the Get-path inverses of the marshal*
// helpers above, used by Store.Get to reconstitute a Bundle from its
// persisted manifest blobs.
func unmarshalPageGraph(data []byte) ([]model.Page, error) {
	var blob pageGraphBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		return nil, fmt.Errorf("decoding page graph: %w", err)
	}
	return blob.Pages, nil
}

func unmarshalAssetManifest(data []byte) ([]model.Asset, error) {
	var blob assetManifestBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		return nil, fmt.Errorf("decoding asset manifest: %w", err)
	}
	return blob.Assets, nil
}

func unmarshalDerivationManifest(data []byte) (map[model.ManifestKey]model.Derivation, error) {
	var blob derivationManifestBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		return nil, fmt.Errorf("decoding derivation manifest: %w", err)
	}
	out := make(map[model.ManifestKey]model.Derivation, len(blob.Entries))
	for _, e := range blob.Entries {
		out[e.Key] = e.Derivation
	}
	return out, nil
}

func unmarshalTemplateSet(data []byte) ([]string, error) {
	var blob templateSetBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		return nil, fmt.Errorf("decoding template set: %w", err)
	}
	return blob.Names, nil
}
