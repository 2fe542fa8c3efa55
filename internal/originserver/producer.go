// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package originserver

import (
	"context"
	"io"

	"github.com/home-cms/home/internal/derivation"
	"github.com/home-cms/home/internal/fingerprint"
	"github.com/home-cms/home/internal/imaging"
	"github.com/home-cms/home/internal/objectstore"
)

// NewDerivationProducer returns the derivation.Producer cmd/mom hands to
// derivation.NewCache (via BoundProducer). Since fingerprint.Compute
// already returns a single input's own hash unchanged for a
// passthrough/identity transform (see internal/fingerprint), a raw
// asset's SHA-256 IS its own passthrough fingerprint: the producer tries
// reading fp directly as an asset hash first, and only falls back to
// index/internal/imaging's transform pipeline when that key doesn't
// exist. This lets raw-asset and transformed-derivation requests share
// one cache and one reference-counted GC scheme by fingerprint alone:
// sharing between revisions must therefore
// reference-count by fingerprint.
func NewDerivationProducer(assets objectstore.Store, index *ManifestIndex) derivation.Producer {
	imageProduce := imaging.NewProducer(assets, index)

	return func(ctx context.Context, fp fingerprint.Fingerprint) ([]byte, string, error) {
		if data, ct, err := passthroughFromAsset(ctx, assets, string(fp)); err == nil {
			return data, ct, nil
		}
		return imageProduce(ctx, fp)
	}
}

func passthroughFromAsset(ctx context.Context, assets objectstore.Store, sha256hex string) ([]byte, string, error) {
	rc, meta, err := assets.Get(ctx, objectstore.AssetKey(sha256hex))
	if err != nil {
		return nil, "", err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, "", err
	}
	return data, meta.ContentType, nil
}
