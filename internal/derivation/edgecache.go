// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package derivation

import (
	"context"
	"io"

	lru "github.com/hashicorp/golang-lru"

	"github.com/home-cms/home/internal/errkind"
	"github.com/home-cms/home/internal/fingerprint"
	"github.com/home-cms/home/internal/objectstore"
)

// Fetcher retrieves a derivation's bytes from the origin when the edge
// doesn't already have them: the edge defers to the origin for
// any fingerprint it does not already hold.
type Fetcher func(ctx context.Context, fp fingerprint.Fingerprint) (data []byte, contentType string, err error)

// entry is what the in-memory LRU actually holds: the bytes plus their
// content type, so a memory hit never needs a second disk read to learn
// what to set Content-Type to.
type entry struct {
	data []byte
	ct   string
}

// EdgeCache is the edge-side secondary cache:
// disk is the durable, authoritative local copy; a bounded in-memory LRU
// (github.com/hashicorp/golang-lru, as used by juju/juju for its
// high-throughput object caches) sits in front of it purely as a
// read-through accelerator. Per DESIGN.md's Open Question decision,
// writes always land on disk first — the memory tier is never the only
// copy of a derivation, so an edge process restart never loses data, it
// just goes cold.
type EdgeCache struct {
	memory *lru.Cache
	disk   objectstore.Store
	fetch  Fetcher
	flight inflightGroup
}

// NewEdgeCache builds an EdgeCache with a memory tier sized to hold
// memoryEntries derivations, backed by disk, falling back to fetch for
// anything neither tier has.
func NewEdgeCache(memoryEntries int, disk objectstore.Store, fetch Fetcher) (*EdgeCache, error) {
	memory, err := lru.New(memoryEntries)
	if err != nil {
		return nil, err
	}
	return &EdgeCache{memory: memory, disk: disk, fetch: fetch}, nil
}

// Get returns the bytes and content type for fp, checking memory, then
// disk, then deferring to the origin via Fetcher — each tier populating
// the faster tiers above it on a hit, matching objectstore.Layered's
// promote-on-read-through behavior.
func (c *EdgeCache) Get(ctx context.Context, fp fingerprint.Fingerprint) ([]byte, string, error) {
	if v, ok := c.memory.Get(fp); ok {
		e := v.(entry)
		return e.data, e.ct, nil
	}

	key := objectstore.DerivationKey(string(fp))
	if rc, meta, err := c.disk.Get(ctx, key); err == nil {
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, "", errkind.Wrap(errkind.Transient, "reading cached derivation from disk", err)
		}
		c.memory.Add(fp, entry{data: data, ct: meta.ContentType})
		return data, meta.ContentType, nil
	} else if !errkind.Is(err, errkind.NotFound) {
		return nil, "", err
	}

	data, ct, err := c.singleFetch(ctx, fp)
	if err != nil {
		return nil, "", err
	}
	if _, err := c.disk.PutIfAbsent(ctx, key, newBytesReader(data), int64(len(data)), ct); err != nil && !errkind.Is(err, errkind.Conflict) {
		return nil, "", err
	}
	c.memory.Add(fp, entry{data: data, ct: ct})
	return data, ct, nil
}

// singleFetch deduplicates concurrent origin fetches for the same
// fingerprint, same shape as Cache.Resolve's single-flight but over
// Fetcher instead of Producer.
func (c *EdgeCache) singleFetch(ctx context.Context, fp fingerprint.Fingerprint) ([]byte, string, error) {
	return c.flight.do(fp, func() ([]byte, string, error) {
		return c.fetch(ctx, fp)
	})
}
