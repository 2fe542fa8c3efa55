// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package watcher

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// BuildResult is what Watcher reports after a debounced rebuild attempt:
// either a fresh revision output, or a diagnostic to forward on the
// live-reload channel — a failing build is reported
// via the live-reload channel as a diagnostic.
type BuildResult struct {
	Revision any // non-nil only when Err == nil
	Err      error
}

// Watcher observes a working tree with fsnotify, coalesces bursts of
// events through a Debouncer, and rebuilds a Graph. Grounded on the
// teacher's internal/webhook.Debouncer for the coalescing shape and on
// juju/juju's use of fsnotify for the event source itself (no fsnotify
// usage exists in the teacher's own tree).
type Watcher struct {
	fsw    *fsnotify.Watcher
	graph  *Graph
	deb    *Debouncer
	logger *slog.Logger

	mu       sync.Mutex
	results  chan BuildResult
	done     chan struct{}
	classify func(path string) (NodeKind, bool)
}

// New creates a Watcher rooted at every directory in roots, rebuilding
// graph on each debounced burst of changes. classify maps a changed file
// path to the NodeKind it should invalidate, returning false to ignore
// the event entirely (e.g. editor swap files).
func New(roots []string, graph *Graph, cfg DebounceConfig, classify func(path string) (NodeKind, bool), logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, root := range roots {
		if err := fsw.Add(root); err != nil {
			fsw.Close()
			return nil, err
		}
	}

	w := &Watcher{
		fsw:      fsw,
		graph:    graph,
		logger:   logger,
		results:  make(chan BuildResult, 1),
		done:     make(chan struct{}),
		classify: classify,
	}
	w.deb = NewDebouncer(cfg, w.rebuild)
	return w, nil
}

// Results returns the channel on which build outcomes are published,
// consumed by internal/livereload to broadcast new_revision/build_error
// frames.
func (w *Watcher) Results() <-chan BuildResult { return w.results }

// Run consumes fsnotify events until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			w.deb.Flush()
			w.fsw.Close()
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if isIgnorable(ev.Name) {
		return
	}
	kind, ok := w.classify(ev.Name)
	if !ok {
		return
	}

	w.mu.Lock()
	if ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename) {
		w.graph.Remove(ev.Name)
	} else {
		if _, exists := w.graph.nodes[ev.Name]; !exists {
			w.graph.AddNode(Node{Path: ev.Name, Kind: kind, Build: noopBuild})
		}
		w.graph.Invalidate(ev.Name)
	}
	w.mu.Unlock()

	w.deb.Notify()
}

func (w *Watcher) rebuild() {
	w.mu.Lock()
	defer w.mu.Unlock()
	revision, rebuilt, err := w.graph.Rebuild(context.Background())
	if err != nil {
		w.results <- BuildResult{Err: err}
		return
	}
	if rebuilt {
		w.results <- BuildResult{Revision: revision}
	}
}

// noopBuild is a placeholder used only when an event arrives for a path
// the caller hasn't registered a real BuildFunc for yet (e.g. a brand
// new file created between rebuilds); the real Builder is expected to
// call AddNode with a concrete BuildFunc before the next debounced fire.
func noopBuild(_ context.Context, path string) (any, error) {
	return path, nil
}

func isIgnorable(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") || strings.HasSuffix(base, ".swp")
}

// CanHotPatch reports whether a change to path can be delivered as a
// live-reload hot_patch frame instead of forcing a full browser reload.
// Per DESIGN.md's Open Question decision, this is deliberately
// conservative: only CSS-like assets are considered safe to hot-patch in
// place, since hot_patch is optional and
// not required for correctness. Everything else falls back to
// new_revision (full reload).
func CanHotPatch(kind NodeKind, path string) bool {
	if kind != NodeAsset {
		return false
	}
	switch filepath.Ext(path) {
	case ".css":
		return true
	default:
		return false
	}
}
