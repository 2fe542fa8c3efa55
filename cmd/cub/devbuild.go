// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/home-cms/home/internal/livereload"
	"github.com/home-cms/home/internal/model"
	"github.com/home-cms/home/internal/objectstore"
	"github.com/home-cms/home/internal/originserver"
	"github.com/home-cms/home/internal/render"
	"github.com/home-cms/home/internal/revision"
	"github.com/home-cms/home/internal/watcher"
)

var titleCaser = cases.Title(language.English)

// sinkNodePath names the single watcher.Graph sink node representing "the
// whole content tree's revision". cub's dev mode
// doesn't need the graph's per-node incremental output composition that a
// full template/markdown engine would — that engine is explicitly out of
// core scope (internal/render's own package doc) — so every leaf node
// exists only to make Invalidate propagate to this sink; the sink's Build
// always re-reads the whole tree from disk.
const sinkNodePath = "//revision"

// devBuilder turns a local content directory into revision.Bundles and
// submits/promotes them against an in-process revision.Store, mirroring
// what a deploy client does over HTTP in production: local dev mode
// behaves like a one-tenant origin with no network.
type devBuilder struct {
	tenant    string
	dir       string
	renderer  *render.MarkdownRenderer
	assets    objectstore.Store
	revisions *revision.Store
	manifests *originserver.ManifestIndex
	reload    *livereload.Hub
	logger    *slog.Logger
}

var imageExtensions = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// classify maps a changed path to the watcher.NodeKind it should
// invalidate. Anything outside the known markdown/image extensions is
// ignored, e.g. editor lock files, .DS_Store, directories.
func (b *devBuilder) classify(path string) (watcher.NodeKind, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".md" {
		return watcher.NodePage, true
	}
	if _, ok := imageExtensions[ext]; ok {
		return watcher.NodeAsset, true
	}
	return watcher.NodePage, false
}

// discover walks dir once at startup, returning every markdown and image
// file path it finds, so the initial watcher.Graph can register a leaf
// node per known source file up front.
func (b *devBuilder) discover() (mdFiles, assetFiles []string, dirs []string, err error) {
	err = filepath.WalkDir(b.dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			dirs = append(dirs, path)
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		switch {
		case ext == ".md":
			mdFiles = append(mdFiles, path)
		case imageExtensions[ext] != "":
			assetFiles = append(assetFiles, path)
		}
		return nil
	})
	return mdFiles, assetFiles, dirs, err
}

// buildGraph registers one leaf node per currently-known source file plus
// the revision sink depending on all of them, per watcher.Graph's
// invalidation-propagation contract.
func (b *devBuilder) buildGraph(mdFiles, assetFiles []string) *watcher.Graph {
	g := watcher.NewGraph(sinkNodePath)
	var deps []string
	identity := func(_ context.Context, path string) (any, error) { return path, nil }
	for _, p := range mdFiles {
		g.AddNode(watcher.Node{Path: p, Kind: watcher.NodePage, Build: identity})
		deps = append(deps, p)
	}
	for _, p := range assetFiles {
		g.AddNode(watcher.Node{Path: p, Kind: watcher.NodeAsset, Build: identity})
		deps = append(deps, p)
	}
	g.AddNode(watcher.Node{
		Path:      sinkNodePath,
		Kind:      watcher.NodeRevision,
		Build:     b.rebuildAll,
		DependsOn: deps,
	})
	return g
}

// rebuildAll re-reads the entire content tree, assembles a revision.Bundle,
// and submits+promotes it. It is the watcher.Graph sink's BuildFunc.
func (b *devBuilder) rebuildAll(ctx context.Context, _ string) (any, error) {
	mdFiles, assetFiles, _, err := b.discover()
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", b.dir, err)
	}

	assets := make([]model.Asset, 0, len(assetFiles))
	for _, path := range assetFiles {
		asset, err := b.ingestAsset(ctx, path)
		if err != nil {
			return nil, err
		}
		assets = append(assets, asset)
	}

	pages := make([]model.Page, 0, len(mdFiles))
	for _, path := range mdFiles {
		page, err := b.buildPage(path)
		if err != nil {
			return nil, err
		}
		pages = append(pages, page)
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].ContentPath < pages[j].ContentPath })

	bundle := revision.Bundle{
		Pages:       pages,
		Assets:      assets,
		Derivations: originserver.BuildDerivationManifest(pages, assets),
	}

	revid, err := b.revisions.Submit(ctx, b.tenant, bundle)
	if err != nil {
		return nil, fmt.Errorf("submitting dev revision: %w", err)
	}
	if err := b.revisions.Promote(ctx, b.tenant, revid); err != nil {
		return nil, fmt.Errorf("promoting dev revision: %w", err)
	}
	b.manifests.Record(bundle)
	return revid, nil
}

func (b *devBuilder) ingestAsset(ctx context.Context, path string) (model.Asset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Asset{}, fmt.Errorf("reading %s: %w", path, err)
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	contentType := imageExtensions[strings.ToLower(filepath.Ext(path))]

	if _, err := b.assets.PutIfAbsent(ctx, objectstore.AssetKey(hash), bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return model.Asset{}, fmt.Errorf("storing asset %s: %w", path, err)
	}

	rel, err := filepath.Rel(b.dir, path)
	if err != nil {
		return model.Asset{}, err
	}
	return model.Asset{
		ContentPath: filepath.ToSlash(rel),
		SHA256:      hash,
		ContentType: contentType,
	}, nil
}

func (b *devBuilder) buildPage(path string) (model.Page, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return model.Page{}, fmt.Errorf("reading %s: %w", path, err)
	}
	rel, err := filepath.Rel(b.dir, path)
	if err != nil {
		return model.Page{}, err
	}
	contentPath := filepath.ToSlash(rel)

	result, err := b.renderer.Render(string(raw))
	if err != nil {
		return model.Page{}, fmt.Errorf("rendering %s: %w", path, err)
	}

	return model.Page{
		ContentPath:        contentPath,
		Route:              routeFor(contentPath),
		Title:              titleFor(result, contentPath),
		Body:               result.HTML,
		PlainText:          result.PlainText,
		ReadingTimeMinutes: result.ReadingTimeMinutes,
		TOC:                toModelTOC(result.TOC),
	}, nil
}

// routeFor derives a page's serving route from its content path:
// "index.md" at any directory level serves that directory itself, every
// other file serves its own name with the extension stripped.
func routeFor(contentPath string) string {
	dir := filepath.Dir(contentPath)
	base := strings.TrimSuffix(filepath.Base(contentPath), ".md")
	if base == "index" {
		if dir == "." {
			return "/"
		}
		return "/" + dir
	}
	if dir == "." {
		return "/" + base
	}
	return "/" + dir + "/" + base
}

func titleFor(result render.Result, contentPath string) string {
	for _, entry := range result.TOC {
		if entry.Level == 1 {
			return entry.Text
		}
	}
	base := strings.TrimSuffix(filepath.Base(contentPath), ".md")
	return titleCaser.String(strings.ReplaceAll(base, "-", " "))
}

func toModelTOC(entries []render.TOCEntry) []model.TOCEntry {
	out := make([]model.TOCEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, model.TOCEntry{Level: e.Level, Title: e.Text, Anchor: e.Slug})
	}
	return out
}

// runDevWatcher watches b.dir for changes and rebuilds+promotes the dev
// revision on every debounced burst, broadcasting the result on reload.
// It blocks until ctx is done.
func runDevWatcher(ctx context.Context, b *devBuilder) error {
	mdFiles, assetFiles, dirs, err := b.discover()
	if err != nil {
		return fmt.Errorf("scanning %s: %w", b.dir, err)
	}
	if len(dirs) == 0 {
		dirs = []string{b.dir}
	}

	graph := b.buildGraph(mdFiles, assetFiles)

	if _, err := b.rebuildAll(ctx, sinkNodePath); err != nil {
		b.logger.Error("initial dev build failed", "error", err)
	}

	w, err := watcher.New(dirs, graph, watcher.DefaultDebounceConfig(), b.classify, b.logger)
	if err != nil {
		return fmt.Errorf("starting content watcher: %w", err)
	}
	go w.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case result, ok := <-w.Results():
			if !ok {
				return nil
			}
			if result.Err != nil {
				b.logger.Warn("dev build failed", "error", result.Err)
				if b.reload != nil {
					b.reload.BuildError(b.tenant, result.Err.Error())
				}
				continue
			}
			revid, _ := result.Revision.(model.RevisionID)
			b.logger.Info("dev revision promoted", "revid", revid)
			if b.reload != nil {
				b.reload.NewRevision(b.tenant, string(revid))
			}
		}
	}
}
