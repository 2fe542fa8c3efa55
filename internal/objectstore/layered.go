// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package objectstore

import (
	"context"
	"fmt"
	"io"

	"github.com/home-cms/home/internal/errkind"
)

// Layered is a stack of named Store layers, fastest first. Reads fall
// through the stack and populate faster layers on hit; writes fan out to
// every layer. Grounded on original_source/crates/libobjectstore's
// LayeredBuilder (memory → disk → S3 in production).
type Layered struct {
	layers []namedStore
}

type namedStore struct {
	name  string
	store Store
}

// NewLayered builds a Layered store from layers ordered fastest-first.
func NewLayered(layers ...NamedLayer) *Layered {
	ls := make([]namedStore, len(layers))
	for i, l := range layers {
		ls[i] = namedStore{name: l.Name, store: l.Store}
	}
	return &Layered{layers: ls}
}

// NamedLayer pairs a Store with a name used only for logging/debugging.
type NamedLayer struct {
	Name  string
	Store Store
}

// PutIfAbsent writes to every layer. The first layer determines the
// PutStatus returned to the caller (Created vs. Existed); a Conflict
// from any layer aborts immediately, since it's a corruption signal, not
// something to paper over by writing to the remaining layers.
func (l *Layered) PutIfAbsent(ctx context.Context, key string, r io.Reader, size int64, contentType string) (PutStatus, error) {
	if len(l.layers) == 0 {
		return 0, fmt.Errorf("layered store has no layers")
	}

	buf, err := io.ReadAll(r)
	if err != nil {
		return 0, transient("reading put payload", err)
	}

	var first PutStatus
	for i, layer := range l.layers {
		status, err := layer.store.PutIfAbsent(ctx, key, newBytesReader(buf), int64(len(buf)), contentType)
		if err != nil {
			return 0, fmt.Errorf("layer %q: %w", layer.name, err)
		}
		if i == 0 {
			first = status
		}
	}
	return first, nil
}

// Get reads from the fastest layer that has the key, populating every
// faster layer it skipped past on the way down.
func (l *Layered) Get(ctx context.Context, key string) (io.ReadCloser, Metadata, error) {
	for i, layer := range l.layers {
		rc, meta, err := layer.store.Get(ctx, key)
		if err == nil {
			if i > 0 {
				buf, readErr := io.ReadAll(rc)
				rc.Close()
				if readErr != nil {
					return nil, Metadata{}, transient("reading object for promotion", readErr)
				}
				l.promote(ctx, key, buf, meta.ContentType, i)
				return io.NopCloser(newBytesReader(buf)), meta, nil
			}
			return rc, meta, nil
		}
		if !errkind.Is(err, errkind.NotFound) {
			return nil, Metadata{}, err
		}
	}
	return nil, Metadata{}, notFound(fmt.Sprintf("key %q not found in any layer", key))
}

// promote writes bytes found in a slower layer back into every faster
// layer above it, so the next Get is served from the fastest layer.
func (l *Layered) promote(ctx context.Context, key string, buf []byte, contentType string, foundAt int) {
	for i := 0; i < foundAt; i++ {
		_, _ = l.layers[i].store.PutIfAbsent(ctx, key, newBytesReader(buf), int64(len(buf)), contentType)
	}
}

func (l *Layered) Head(ctx context.Context, key string) (Metadata, error) {
	for _, layer := range l.layers {
		meta, err := layer.store.Head(ctx, key)
		if err == nil {
			return meta, nil
		}
		if !errkind.Is(err, errkind.NotFound) {
			return Metadata{}, err
		}
	}
	return Metadata{}, notFound(fmt.Sprintf("key %q not found in any layer", key))
}

// Delete removes key from every layer.
func (l *Layered) Delete(ctx context.Context, key string) error {
	var firstErr error
	for _, layer := range l.layers {
		if err := layer.store.Delete(ctx, key); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("layer %q: %w", layer.name, err)
		}
	}
	return firstErr
}

// List queries the slowest (most authoritative) layer, since it is
// expected to be the durable backing store that every other layer is
// merely a faster view of.
func (l *Layered) List(ctx context.Context, prefix string) ([]Entry, error) {
	if len(l.layers) == 0 {
		return nil, nil
	}
	return l.layers[len(l.layers)-1].store.List(ctx, prefix)
}

func newBytesReader(b []byte) io.Reader {
	return &sliceReader{b: b}
}

// sliceReader is a minimal io.Reader over a byte slice, avoiding an
// import of bytes.Reader duplication across the put/get paths above.
type sliceReader struct {
	b   []byte
	pos int
}

func (s *sliceReader) Read(p []byte) (int, error) {
	if s.pos >= len(s.b) {
		return 0, io.EOF
	}
	n := copy(p, s.b[s.pos:])
	s.pos += n
	return n, nil
}
