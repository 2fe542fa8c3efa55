// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package imaging turns a fingerprint.Fingerprint for an image.resize.*
// transform into produced bytes, as a derivation.Producer. Grounded on
// the teacher's internal/imaging/processor.go (ProcessImage/CreateVariant):
// the same disintegration/imaging decode → EXIF-orientation correction →
// Fit/Fill → encode pipeline, adapted from file paths under an upload
// directory to in-memory buffers keyed by content-addressed hash, since a
// derivation producer has no filesystem of its own (spec §9).
package imaging

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/webp" // WebP decode support

	"github.com/home-cms/home/internal/errkind"
	"github.com/home-cms/home/internal/fingerprint"
	"github.com/home-cms/home/internal/objectstore"
)

// Request is everything a Resolver needs to know about a fingerprint to
// reproduce it: which transform, with what parameters, over which single
// source asset. image.resize.* transforms in this implementation always
// take exactly one input asset.
type Request struct {
	Transform  fingerprint.TransformID
	Params     fingerprint.Params
	SourceHash string // hex SHA-256, the asset object store key's suffix
}

// Resolver maps a fingerprint back to the request that produces it. The
// derivation cache itself only ever deals in opaque fingerprints; the
// currently-loaded revision's derivation manifest (revision.LoadedRevision
// .Derivations, keyed by content path/transform/params rather than
// fingerprint) is the source of truth a Resolver implementation indexes.
type Resolver interface {
	Resolve(fp fingerprint.Fingerprint) (Request, bool)
}

// NewProducer returns a derivation.Producer-shaped function (the
// signature is duplicated rather than imported to avoid a dependency
// cycle between internal/derivation and internal/imaging) that decodes
// the source asset from assets, resizes/crops it per the resolved
// request, and re-encodes it for transform.
func NewProducer(assets objectstore.Store, resolver Resolver) func(ctx context.Context, fp fingerprint.Fingerprint) ([]byte, string, error) {
	return func(ctx context.Context, fp fingerprint.Fingerprint) ([]byte, string, error) {
		req, ok := resolver.Resolve(fp)
		if !ok {
			return nil, "", errkind.New(errkind.NotFound, fmt.Sprintf("no pending request for fingerprint %s", fp))
		}
		return Produce(ctx, assets, req)
	}
}

// Produce runs the decode/orient/resize/encode pipeline for a single
// request, independent of any Resolver — used directly by tests and by
// callers (e.g. an eager pre-warm path) that already have a Request.
func Produce(ctx context.Context, assets objectstore.Store, req Request) ([]byte, string, error) {
	rc, _, err := assets.Get(ctx, objectstore.AssetKey(req.SourceHash))
	if err != nil {
		return nil, "", fmt.Errorf("fetching source asset %s: %w", req.SourceHash, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, "", fmt.Errorf("reading source asset %s: %w", req.SourceHash, err)
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", errkind.Wrap(errkind.Input, "decoding source image", err)
	}
	img = applyOrientation(img, readExifOrientation(bytes.NewReader(data)))

	resized := resize(img, req.Params)

	out, err := encode(resized, req.Transform, req.Params.Quality)
	if err != nil {
		return nil, "", errkind.Wrap(errkind.Internal, "encoding derivation", err)
	}
	return out, fingerprint.ContentType(req.Transform), nil
}

func resize(img image.Image, p fingerprint.Params) image.Image {
	if p.Width <= 0 && p.Height <= 0 {
		return img
	}
	if p.Crop {
		return imaging.Fill(img, p.Width, p.Height, imaging.Center, imaging.Lanczos)
	}
	// Only one dimension was requested (e.g. a page referenced an image
	// with just "?w=800"): imaging.Resize treats a 0 side as "derive it
	// from the other side's aspect ratio", which is what a bare-width
	// request means. imaging.Fit needs both sides bounded, so it's only
	// used once both are known.
	if p.Width <= 0 || p.Height <= 0 {
		return imaging.Resize(img, p.Width, p.Height, imaging.Lanczos)
	}
	return imaging.Fit(img, p.Width, p.Height, imaging.Lanczos)
}

// encode picks an encoder by output transform. AVIF, JXL and WebP have no
// pure-Go encoder anywhere in the retrieved corpus (only decode support
// exists for WebP, via golang.org/x/image/webp) — mirroring the teacher's
// own fallback in encodeImage, those three transforms are encoded as
// JPEG. The Fingerprint's own transform_id still records the originally
// requested transform, so a future encoder swap can reprocess without
// touching fingerprints.
func encode(img image.Image, t fingerprint.TransformID, quality int) ([]byte, error) {
	if quality <= 0 {
		quality = 90
	}
	var buf bytes.Buffer
	switch t {
	case fingerprint.TransformImageResizePNG:
		if err := png.Encode(&buf, img); err != nil {
			return nil, err
		}
	case fingerprint.TransformVideoThumbnail, fingerprint.TransformImageResizeJPEG,
		fingerprint.TransformImageResizeWebP, fingerprint.TransformImageResizeAVIF, fingerprint.TransformImageResizeJXL:
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("imaging: unsupported transform %q", t)
	}
	return buf.Bytes(), nil
}

// EncodeGIF is exposed separately since animated GIF resize (frame-by-
// frame) is not exercised by the closed fingerprint.TransformID
// enumeration today; the codec is retained from the teacher's
// processor.go, and nothing in the module calls it (passthrough
// derivations serve the source bytes unchanged).
func EncodeGIF(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := gif.Encode(&buf, img, nil); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func readExifOrientation(r io.Reader) int {
	x, err := exif.Decode(r)
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	orientation, err := tag.Int(0)
	if err != nil {
		return 1
	}
	return orientation
}

// applyOrientation rotates/flips img per the EXIF orientation tag (1-8),
// matching the teacher's processor.go table exactly.
func applyOrientation(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.FlipH(imaging.Rotate270(img))
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.FlipH(imaging.Rotate90(img))
	case 8:
		return imaging.Rotate90(img)
	default:
		return img
	}
}

// DetectContentType sniffs a source asset's MIME type from its bytes.
// Nothing in the module calls it: deploy ingest sets
// model.Asset.ContentType from the file extension.
func DetectContentType(data []byte) string {
	ct := http.DetectContentType(data)
	if idx := strings.Index(ct, ";"); idx != -1 {
		ct = ct[:idx]
	}
	return ct
}
