// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package originserver

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// rateLimitedReader wraps r so that reads are throttled through lim,
// applying flow control to the upload stream. Each Read is capped to
// the limiter's burst size and waits on lim before returning bytes.
type rateLimitedReader struct {
	ctx context.Context
	r   io.Reader
	lim *rate.Limiter
}

func newRateLimitedReader(ctx context.Context, r io.Reader, lim *rate.Limiter) io.Reader {
	if lim == nil {
		return r
	}
	return &rateLimitedReader{ctx: ctx, r: r, lim: lim}
}

func (rl *rateLimitedReader) Read(p []byte) (int, error) {
	burst := rl.lim.Burst()
	if burst > 0 && len(p) > burst {
		p = p[:burst]
	}
	n, err := rl.r.Read(p)
	if n > 0 {
		if werr := rl.lim.WaitN(rl.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}
