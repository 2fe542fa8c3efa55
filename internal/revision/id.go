// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package revision implements the Revision Store and Loader of spec.md
// §4.4/§4.5: immutable per-tenant snapshots, an append-only revision log
// with an atomically-swapped "current" pointer, and a pure bundle-bytes
// to in-memory page-graph loader.
package revision

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/home-cms/home/internal/model"
)

// crockford is the Crockford base32 alphabet: no I, L, O, U, to avoid
// visual confusion with 1, 1, 0, V. A 26-character,
// lexicographically time-sortable revision identifier is wanted; no ULID library
// appears anywhere in the example corpus, so this encodes the same shape
// (48 bits of millisecond timestamp + 80 bits of randomness, base32'd)
// directly against the standard library instead of adopting one.
const crockford = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// NewID mints a model.RevisionID for the current instant. Its first 10
// characters encode a 48-bit millisecond timestamp, so two IDs sort
// lexicographically in the order they were minted.
func NewID() (model.RevisionID, error) {
	return newIDAt(time.Now())
}

func newIDAt(t time.Time) (model.RevisionID, error) {
	var entropy [10]byte
	if _, err := rand.Read(entropy[:]); err != nil {
		return "", fmt.Errorf("reading random bytes for revision id: %w", err)
	}

	ms := uint64(t.UnixMilli())
	var buf [16]byte
	// 48-bit timestamp, big-endian, in the top 6 bytes.
	binary.BigEndian.PutUint64(buf[0:8], ms<<16)
	copy(buf[6:16], entropy[:])

	return model.RevisionID(encodeCrockford(buf)), nil
}

// encodeCrockford encodes 16 bytes (128 bits) as 26 Crockford-base32
// characters, most significant bits first (26*5 = 130 bits: the last
// character carries the final 3 data bits followed by 2 zero bits).
func encodeCrockford(data [16]byte) string {
	var bits uint64
	var bitCount uint
	var out strings.Builder
	out.Grow(26)

	byteIdx := 0
	for out.Len() < 26 {
		for bitCount < 5 && byteIdx < len(data) {
			bits = bits<<8 | uint64(data[byteIdx])
			bitCount += 8
			byteIdx++
		}
		if bitCount < 5 {
			bits <<= 5 - bitCount
			bitCount = 5
		}
		shift := bitCount - 5
		idx := (bits >> shift) & 0x1F
		out.WriteByte(crockford[idx])
		bitCount -= 5
		bits &= (1 << bitCount) - 1
	}
	return out.String()
}

// ParseID validates that s has the shape of a revision ID minted by
// NewID: exactly 26 characters, all drawn from the Crockford alphabet.
func ParseID(s string) (model.RevisionID, error) {
	if len(s) != 26 {
		return "", fmt.Errorf("revision id %q: want 26 characters, got %d", s, len(s))
	}
	for _, c := range s {
		if strings.IndexRune(crockford, c) < 0 {
			return "", fmt.Errorf("revision id %q: invalid character %q", s, c)
		}
	}
	return model.RevisionID(s), nil
}
