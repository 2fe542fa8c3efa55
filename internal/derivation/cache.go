// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package derivation implements the derivation cache: a content-addressed
// cache of transform outputs, keyed by fingerprint.Fingerprint, that
// deduplicates concurrent work for the same fingerprint (single-flight)
// and never caches a failed production.
//
// The origin side (Cache) is authoritative: it owns the producer and the
// durable objectstore.Store behind it. The edge side (EdgeCache, in
// edgecache.go) only ever asks the origin for a fingerprint it doesn't
// already hold locally; it has no producer of its own.
package derivation

import (
	"context"
	"fmt"
	"io"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/home-cms/home/internal/errkind"
	"github.com/home-cms/home/internal/fingerprint"
	"github.com/home-cms/home/internal/objectstore"
)

// State is the lifecycle of a single fingerprint in the cache: Absent
// (never produced), InFlight (a producer is running or queued),
// Persisted (durably stored and servable).
type State int

const (
	Absent State = iota
	InFlight
	Persisted
)

func (s State) String() string {
	switch s {
	case InFlight:
		return "in_flight"
	case Persisted:
		return "persisted"
	default:
		return "absent"
	}
}

// Producer computes the bytes and content type for a derivation that is
// not yet in the cache. A Producer error is classified as
// errkind.ProducerFailure by Resolve (unless already classified
// otherwise) and is never persisted — the next Resolve for the same
// fingerprint retries from scratch.
type Producer func(ctx context.Context, fp fingerprint.Fingerprint) (data []byte, contentType string, err error)

// Cache is the origin-side derivation cache: single-flight execution of
// Producer over a durable objectstore.Store, grounded on
// original_source/crates/inflight's InflightSlots (one in-flight slot per
// key, deduped via a shared future) combined with
// original_source/crates/derivations's lookup-before-produce flow.
type Cache struct {
	store   objectstore.Store
	produce Producer
	flight  singleflight.Group
	mu      sync.Mutex
	states  map[fingerprint.Fingerprint]State
}

// NewCache builds a Cache backed by store, invoking produce for
// fingerprints it does not already hold.
func NewCache(store objectstore.Store, produce Producer) *Cache {
	return &Cache{
		store:   store,
		produce: produce,
		states:  make(map[fingerprint.Fingerprint]State),
	}
}

// State reports the cache's current view of fp's lifecycle state. This is
// best-effort: a concurrent Resolve can change it immediately after this
// call returns.
func (c *Cache) State(fp fingerprint.Fingerprint) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.states[fp]
}

// Resolve returns the bytes and content type for fp, producing them via
// Producer if absent. Concurrent Resolve calls for the same fingerprint
// share a single Producer invocation (single-flight); every caller
// receives the same result. A Producer failure is not persisted to the
// store and leaves the fingerprint Absent, so the next Resolve call
// retries.
func (c *Cache) Resolve(ctx context.Context, fp fingerprint.Fingerprint) (io.ReadCloser, objectstore.Metadata, error) {
	key := objectstore.DerivationKey(string(fp))

	if rc, meta, err := c.store.Get(ctx, key); err == nil {
		c.setState(fp, Persisted)
		return rc, meta, nil
	} else if !errkind.Is(err, errkind.NotFound) {
		return nil, objectstore.Metadata{}, err
	}

	c.setState(fp, InFlight)
	type result struct {
		data []byte
		ct   string
	}
	// A production run is shared across every waiter, including ones that
	// arrive after this call started, so it must outlive any single
	// caller's request context: canceling one waiter's context (e.g. its
	// browser disconnected) must not abort production for the others.
	produceCtx := context.WithoutCancel(ctx)
	v, err, _ := c.flight.Do(string(fp), func() (interface{}, error) {
		data, ct, err := c.produce(produceCtx, fp)
		if err != nil {
			c.setState(fp, Absent)
			if errkind.Of(err) == errkind.Unknown {
				return nil, errkind.Wrap(errkind.ProducerFailure, fmt.Sprintf("producing derivation %s", fp), err)
			}
			return nil, err
		}

		if _, err := c.store.PutIfAbsent(produceCtx, key, newBytesReader(data), int64(len(data)), ct); err != nil {
			c.setState(fp, Absent)
			return nil, err
		}
		c.setState(fp, Persisted)
		return result{data: data, ct: ct}, nil
	})
	if err != nil {
		return nil, objectstore.Metadata{}, err
	}

	r := v.(result)
	return io.NopCloser(newBytesReader(r.data)), objectstore.Metadata{Size: int64(len(r.data)), ContentType: r.ct}, nil
}

func (c *Cache) setState(fp fingerprint.Fingerprint, s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[fp] = s
}

func newBytesReader(b []byte) io.Reader {
	return &byteSliceReader{b: b}
}

// byteSliceReader is a minimal io.Reader over a byte slice, mirroring
// objectstore's sliceReader to avoid a cross-package dependency for
// something this small.
type byteSliceReader struct {
	b   []byte
	pos int
}

func (r *byteSliceReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.pos:])
	r.pos += n
	return n, nil
}
