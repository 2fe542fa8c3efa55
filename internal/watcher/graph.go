// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package watcher

import (
	"context"
	"fmt"
	"sort"
)

// NodeKind classifies a graph node so events (renames, deletes) can be
// interpreted: each event is classified into
// (source-kind, path).
type NodeKind int

const (
	NodePage NodeKind = iota
	NodeTemplate
	NodeAsset
	NodeRevision // the single top-level sink every other node feeds
)

// BuildFunc produces (or reproduces) a node's output from its current
// source bytes. It is supplied by the caller (internal/render for pages,
// internal/imaging for assets that need a derivation) — the graph itself
// is transform-agnostic.
type BuildFunc func(ctx context.Context, path string) (output any, err error)

// Node is one buildable unit in the dependency graph: a source path, its
// kind, the function that (re)builds it, and the paths it depends on.
type Node struct {
	Path      string
	Kind      NodeKind
	Build     BuildFunc
	DependsOn []string // paths this node's build reads
}

// Graph is the dependency graph driving incremental rebuilds: source
// files feed derived outputs, which feed the top-level revision node. On a batch of
// events it invalidates dependents transitively and rebuilds only the
// invalidated subset, in dependency order, reusing every unchanged
// node's prior output.
type Graph struct {
	nodes    map[string]*Node
	outputs  map[string]any
	dirty    map[string]bool
	revision string // path of the sink node representing "the revision"
}

// NewGraph builds an empty Graph. revisionPath names the sink node whose
// successful rebuild means a new candidate revision is ready.
func NewGraph(revisionPath string) *Graph {
	return &Graph{
		nodes:    make(map[string]*Node),
		outputs:  make(map[string]any),
		dirty:    make(map[string]bool),
		revision: revisionPath,
	}
}

// AddNode registers or replaces a node definition and marks it dirty.
func (g *Graph) AddNode(n Node) {
	g.nodes[n.Path] = &n
	g.dirty[n.Path] = true
}

// Invalidate marks path and everything transitively depending on it as
// dirty.
func (g *Graph) Invalidate(path string) {
	if _, ok := g.nodes[path]; !ok {
		return
	}
	if g.dirty[path] {
		return
	}
	g.dirty[path] = true
	for _, n := range g.nodes {
		for _, dep := range n.DependsOn {
			if dep == path {
				g.Invalidate(n.Path)
			}
		}
	}
}

// Remove drops a node (a deleted source file) and invalidates its
// dependents, since their build likely now fails or must adapt.
func (g *Graph) Remove(path string) {
	dependents := g.dependentsOf(path)
	delete(g.nodes, path)
	delete(g.outputs, path)
	delete(g.dirty, path)
	for _, d := range dependents {
		g.Invalidate(d)
	}
}

func (g *Graph) dependentsOf(path string) []string {
	var out []string
	for _, n := range g.nodes {
		for _, dep := range n.DependsOn {
			if dep == path {
				out = append(out, n.Path)
			}
		}
	}
	return out
}

// Rebuild rebuilds every dirty node in dependency order (step 3), then
// reports whether the revision sink itself is now clean and, if so, its
// output. A build failure on one node halts the whole rebuild without
// mutating any node's previously-good output — a
// failing build does not replace the current revision.
func (g *Graph) Rebuild(ctx context.Context) (revisionOutput any, rebuilt bool, err error) {
	order, err := g.topoOrder()
	if err != nil {
		return nil, false, fmt.Errorf("computing build order: %w", err)
	}

	pending := make(map[string]any, len(g.dirty))
	for _, path := range order {
		if !g.dirty[path] {
			continue
		}
		n := g.nodes[path]
		out, err := n.Build(ctx, path)
		if err != nil {
			return nil, false, fmt.Errorf("building %q: %w", path, err)
		}
		pending[path] = out
	}

	for path, out := range pending {
		g.outputs[path] = out
		g.dirty[path] = false
	}

	if _, ok := g.nodes[g.revision]; !ok {
		return nil, false, nil
	}
	return g.outputs[g.revision], !g.dirty[g.revision], nil
}

// topoOrder returns every node path in dependency order (a node always
// appears after everything it DependsOn), erroring on a cycle.
func (g *Graph) topoOrder() ([]string, error) {
	const (
		unvisited = 0
		visiting  = 1
		visited   = 2
	)
	state := make(map[string]int, len(g.nodes))
	var order []string

	paths := make([]string, 0, len(g.nodes))
	for p := range g.nodes {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var visit func(path string) error
	visit = func(path string) error {
		switch state[path] {
		case visited:
			return nil
		case visiting:
			return fmt.Errorf("dependency cycle at %q", path)
		}
		state[path] = visiting
		if n, ok := g.nodes[path]; ok {
			deps := append([]string(nil), n.DependsOn...)
			sort.Strings(deps)
			for _, dep := range deps {
				if _, ok := g.nodes[dep]; ok {
					if err := visit(dep); err != nil {
						return err
					}
				}
			}
		}
		state[path] = visited
		order = append(order, path)
		return nil
	}

	for _, p := range paths {
		if err := visit(p); err != nil {
			return nil, err
		}
	}
	return order, nil
}
