// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package derivation

import (
	"sync"

	"github.com/home-cms/home/internal/fingerprint"
)

// sweepThreshold is the slot-count at which singleFlight prunes
// already-finished entries opportunistically, mirroring
// original_source/crates/inflight's InflightSlots, which does the same
// "spring cleaning" retain pass once its slot map exceeds 2048 entries.
// Go's garbage collector reclaims the waiter channels either way; this
// sweep only keeps the lookup map itself from growing unbounded across
// the life of a long-running edge process.
const sweepThreshold = 2048

// inflightGroup is a minimal, typed in-flight deduplication table for
// EdgeCache's origin fetches: concurrent calls for the same fingerprint
// share one underlying fetch and all receive its result. It plays the
// same role as golang.org/x/sync/singleflight.Group (used by Cache in
// cache.go), reimplemented here because the result shape
// (data, contentType, error) doesn't fit that package's single-value
// interface{} return without an intermediate struct — and because the
// call-count sweep below has no equivalent there.
type inflightGroup struct {
	mu    sync.Mutex
	calls map[fingerprint.Fingerprint]*call
}

type call struct {
	done chan struct{}
	data []byte
	ct   string
	err  error
}

func (s *inflightGroup) do(fp fingerprint.Fingerprint, fn func() ([]byte, string, error)) ([]byte, string, error) {
	s.mu.Lock()
	if s.calls == nil {
		s.calls = make(map[fingerprint.Fingerprint]*call)
	}
	if len(s.calls) > sweepThreshold {
		s.sweepLocked()
	}

	if c, ok := s.calls[fp]; ok {
		s.mu.Unlock()
		<-c.done
		return c.data, c.ct, c.err
	}

	c := &call{done: make(chan struct{})}
	s.calls[fp] = c
	s.mu.Unlock()

	c.data, c.ct, c.err = fn()
	close(c.done)

	s.mu.Lock()
	delete(s.calls, fp)
	s.mu.Unlock()

	return c.data, c.ct, c.err
}

// sweepLocked drops any call entry whose done channel is already closed.
// Callers hold s.mu. In normal operation every call removes itself from
// the map as soon as it finishes (see do above), so this only matters if
// a caller is slow to observe completion under heavy fan-in.
func (s *inflightGroup) sweepLocked() {
	for fp, c := range s.calls {
		select {
		case <-c.done:
			delete(s.calls, fp)
		default:
		}
	}
}
