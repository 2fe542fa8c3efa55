// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package revision

import "io"

// newBytesReader is a minimal io.Reader over a byte slice, mirroring the
// same small helper in internal/objectstore and internal/derivation —
// kept local to each package rather than exported, since it's a few
// lines of plumbing, not shared domain logic.
func newBytesReader(b []byte) io.Reader {
	return &byteSliceReader{b: b}
}

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
