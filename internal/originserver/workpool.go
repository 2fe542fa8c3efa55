// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package originserver

import (
	"context"

	"github.com/home-cms/home/internal/derivation"
	"github.com/home-cms/home/internal/fingerprint"
)

// BoundProducer wraps a derivation.Producer so that at most maxWorkers
// invocations run concurrently: CPU-heavy work
// (image/video encoding) must run on a dedicated blocking-work pool
// bounded to NCPU workers, never on the network-task pool. The
// producer's own single-flighting (derivation.Cache) already collapses
// duplicate work for the same fingerprint; this bounds the total number
// of distinct fingerprints being produced at once.
func BoundProducer(maxWorkers int, produce derivation.Producer) derivation.Producer {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	sem := make(chan struct{}, maxWorkers)

	return func(ctx context.Context, fp fingerprint.Fingerprint) ([]byte, string, error) {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return nil, "", ctx.Err()
		}
		defer func() { <-sem }()

		return produce(ctx, fp)
	}
}
