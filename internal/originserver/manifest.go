// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package originserver

import (
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/home-cms/home/internal/fingerprint"
	"github.com/home-cms/home/internal/imaging"
	"github.com/home-cms/home/internal/model"
	"github.com/home-cms/home/internal/revision"
)

// BuildDerivationManifest computes a revision's derivation manifest
// deterministically from its pages and assets, built deterministically
// at revision creation time. A
// page body's img/src references carrying a resize query
// (`?w=800&codec=webp`) name the transforms that revision needs; the
// origin, not the deploy client, is authoritative for turning those
// references into fingerprints, since the fingerprint is a function of
// the asset's own content hash which only the origin (having just
// ingested the bytes) knows for certain.
func BuildDerivationManifest(pages []model.Page, assets []model.Asset) map[model.ManifestKey]model.Derivation {
	byPath := make(map[string]model.Asset, len(assets))
	for _, a := range assets {
		byPath[a.ContentPath] = a
	}

	manifest := make(map[model.ManifestKey]model.Derivation)
	for _, p := range pages {
		for _, ref := range extractMediaRefs(p.Body) {
			asset, ok := byPath[ref.path]
			if !ok || !strings.HasPrefix(asset.ContentType, "image/") {
				continue
			}
			if ref.width <= 0 {
				continue // no resize requested; the raw asset is served as-is
			}
			transform := codecToTransform(ref.codec)
			params := fingerprint.Params{Width: ref.width, Quality: 85}
			fp := fingerprint.Compute(transform, params, []string{asset.SHA256})

			manifest[model.ManifestKey{
				ContentPath: ref.path,
				TransformID: string(transform),
				ParamsCanon: params.Canonical(),
			}] = model.Derivation{
				Fingerprint: string(fp),
				ContentType: fingerprint.ContentType(transform),
			}
		}
	}
	return manifest
}

type mediaRef struct {
	path  string
	width int
	codec string
}

// extractMediaRefs scans rendered HTML for src="..." attributes pointing
// at an internal content-path with a resize query string. This mirrors
// internal/revision/loader.go's extractInternalLinks closely (same
// src="..." scan) but additionally parses the query string, which the
// loader has no need to do; kept separate rather than shared to avoid
// exporting an internal loader helper purely for this one extra field.
func extractMediaRefs(body string) []mediaRef {
	var refs []mediaRef
	const attr = `src="`
	idx := 0
	for {
		pos := strings.Index(body[idx:], attr)
		if pos < 0 {
			break
		}
		start := idx + pos + len(attr)
		end := strings.IndexByte(body[start:], '"')
		if end < 0 {
			break
		}
		link := body[start : start+end]
		idx = start + end

		if !strings.HasPrefix(link, "/") || strings.HasPrefix(link, "//") {
			continue
		}
		path, query, _ := strings.Cut(strings.TrimPrefix(link, "/"), "?")
		if query == "" {
			continue
		}
		values, err := url.ParseQuery(query)
		if err != nil {
			continue
		}
		width, _ := strconv.Atoi(values.Get("w"))
		refs = append(refs, mediaRef{path: path, width: width, codec: values.Get("codec")})
	}
	return refs
}

func codecToTransform(codec string) fingerprint.TransformID {
	switch strings.ToLower(codec) {
	case "jxl":
		return fingerprint.TransformImageResizeJXL
	case "avif":
		return fingerprint.TransformImageResizeAVIF
	case "webp":
		return fingerprint.TransformImageResizeWebP
	case "png":
		return fingerprint.TransformImageResizePNG
	default:
		return fingerprint.TransformImageResizeJPEG
	}
}

// ManifestIndex resolves a derivation fingerprint back to the recipe that
// reproduces it, implementing internal/imaging.Resolver. It is populated
// as each revision is submitted (see DeployIngest) and is process-local,
// unpersisted state: after a restart the index starts empty and is not
// rebuilt from the revision store, so only revisions ingested since the
// restart resolve.
type ManifestIndex struct {
	mu   sync.RWMutex
	byFP map[fingerprint.Fingerprint]imaging.Request
}

// NewManifestIndex returns an empty index.
func NewManifestIndex() *ManifestIndex {
	return &ManifestIndex{byFP: make(map[fingerprint.Fingerprint]imaging.Request)}
}

// Record indexes every derivation entry of bundle, so any of its
// fingerprints can later be resolved back to a production Request.
func (idx *ManifestIndex) Record(bundle revision.Bundle) {
	byPath := make(map[string]model.Asset, len(bundle.Assets))
	for _, a := range bundle.Assets {
		byPath[a.ContentPath] = a
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	for key, d := range bundle.Derivations {
		asset, ok := byPath[key.ContentPath]
		if !ok {
			continue
		}
		params, err := parseParamsCanonical(key.ParamsCanon)
		if err != nil {
			continue
		}
		idx.byFP[fingerprint.Fingerprint(d.Fingerprint)] = imaging.Request{
			Transform:  fingerprint.TransformID(key.TransformID),
			Params:     params,
			SourceHash: asset.SHA256,
		}
	}
}

// Resolve implements internal/imaging.Resolver.
func (idx *ManifestIndex) Resolve(fp fingerprint.Fingerprint) (imaging.Request, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	req, ok := idx.byFP[fp]
	return req, ok
}

// parseParamsCanonical inverts fingerprint.Params.Canonical, whose output
// is already a sorted URL query string ("crop=true&height=50&..."), so
// net/url's own query parser round-trips it without a bespoke grammar.
func parseParamsCanonical(canon string) (fingerprint.Params, error) {
	values, err := url.ParseQuery(canon)
	if err != nil {
		return fingerprint.Params{}, err
	}
	width, _ := strconv.Atoi(values.Get("width"))
	height, _ := strconv.Atoi(values.Get("height"))
	quality, _ := strconv.Atoi(values.Get("quality"))
	crop, _ := strconv.ParseBool(values.Get("crop"))
	return fingerprint.Params{Width: width, Height: height, Quality: quality, Crop: crop}, nil
}
