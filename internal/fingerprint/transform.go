// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package fingerprint implements the canonical encoding of derivation
// identity: a stable textual transform
// identifier, a closed-enumeration parameter record with canonical
// serialization, and a SHA-256 fingerprint over
// transform_id || 0x00 || canonical_params || 0x00 || [pipeline_hash || 0x00]
// || sorted input hashes (see Compute).
//
// Transforms are a closed enumeration on purpose: adding one is a schema
// change (a new TransformID constant and Params variant), and removing
// one requires revision GC to drop all references first.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// TransformID is a stable textual transform identifier, e.g.
// "image.resize.jxl" or "video.av1.720p".
type TransformID string

// The enumeration of transforms this implementation knows how to produce.
// Every one of these has a pipeline hash mixed into its fingerprint (see
// PipelineHash) so that changing the encoder pipeline invalidates prior
// derivations without needing to touch the source asset hash — grounded
// on original_source/crates/derivations's per-codec pipeline-hash
// constants.
const (
	TransformPassthrough      TransformID = "passthrough"
	TransformIdentity         TransformID = "identity"
	TransformImageResizeJXL   TransformID = "image.resize.jxl"
	TransformImageResizeAVIF  TransformID = "image.resize.avif"
	TransformImageResizeWebP  TransformID = "image.resize.webp"
	TransformImageResizePNG   TransformID = "image.resize.png"
	TransformImageResizeJPEG  TransformID = "image.resize.jpg"
	TransformVideoAV1         TransformID = "video.av1"
	TransformVideoVP9         TransformID = "video.vp9"
	TransformVideoThumbnail   TransformID = "video.thumbnail"
)

// pipelineHashes pins a version string per transform. Bumping the string
// here invalidates every derivation produced under the old pipeline,
// without affecting the source asset's hash — the fingerprint changes,
// so the cache simply treats it as a brand-new (never-seen) fingerprint.
var pipelineHashes = map[TransformID]string{
	TransformImageResizeJXL:  "jxl-pipeline-2025-01-30",
	TransformImageResizeAVIF: "avif-pipeline-2025-01-30",
	TransformImageResizeWebP: "webp-pipeline-2025-01-30",
	TransformImageResizePNG:  "png-pipeline-2024-01-28",
	TransformImageResizeJPEG: "jpg-pipeline-2024-01-28",
	TransformVideoAV1:        "av1-pipeline-2025-01-26",
	TransformVideoVP9:        "vp9-pipeline-2025-01-26",
	TransformVideoThumbnail:  "video-thumb-pipeline-2025-01-30b",
}

// PipelineHash returns the pinned pipeline version for a transform, or
// empty for passthrough/identity (which carry no pipeline of their own:
// their output is byte-identical to the input).
func PipelineHash(t TransformID) string {
	return pipelineHashes[t]
}

// Params is a closed enumeration of scalar fields per transform. It
// forbids non-deterministic inputs (wall-clock, random, locale) at the
// type boundary: every field here is a plain, comparable scalar supplied
// by the caller, never sourced from the environment.
type Params struct {
	Width   int // target width in pixels, 0 = unspecified/original
	Height  int // target height in pixels, 0 = unspecified/original
	Quality int // 1-100, encoder quality
	Crop    bool
}

// Canonical renders Params in a fixed, sorted-key, fixed-numeric-format
// serialization, so that the same logical parameters always produce the
// same bytes regardless of Go struct field order or formatting choices
// made elsewhere in the program.
func (p Params) Canonical() string {
	fields := map[string]string{
		"crop":    strconv.FormatBool(p.Crop),
		"height":  strconv.Itoa(p.Height),
		"quality": strconv.Itoa(p.Quality),
		"width":   strconv.Itoa(p.Width),
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(fields[k])
	}
	return b.String()
}

// Fingerprint is the 256-bit content-derived identity of a derivation,
// rendered as lowercase hex (the object-store key for the derivation's
// bytes).
type Fingerprint string

func (f Fingerprint) String() string { return string(f) }

// Compute derives the fingerprint for a transform applied to one or more
// input asset hashes (already-hex SHA-256 digests):
// SHA-256(transform_id || 0x00 || canonical_params || 0x00 ||
// [pipeline_hash || 0x00] || input_hashes_sorted joined by ','), where
// the pipeline segment is present only for transforms with a non-empty
// PipelineHash. Passthrough or identity over exactly one input returns
// that input's hash unchanged.
func Compute(transform TransformID, params Params, inputHashes []string) Fingerprint {
	sorted := append([]string(nil), inputHashes...)
	sort.Strings(sorted)

	// Passthrough/identity reproduce the input exactly, so their identity
	// is the input's own hash rather than a fresh digest over it — this
	// lets an unmodified asset share cache entries with its own source
	// hash instead of minting a needless second fingerprint for it.
	if (transform == TransformPassthrough || transform == TransformIdentity) && len(sorted) == 1 {
		return Fingerprint(sorted[0])
	}

	h := sha256.New()
	h.Write([]byte(transform))
	h.Write([]byte{0})
	h.Write([]byte(params.Canonical()))
	h.Write([]byte{0})
	if hash := PipelineHash(transform); hash != "" {
		h.Write([]byte(hash))
		h.Write([]byte{0})
	}
	for i, ih := range sorted {
		if i > 0 {
			h.Write([]byte{','})
		}
		h.Write([]byte(ih))
	}
	return Fingerprint(hex.EncodeToString(h.Sum(nil)))
}

// ContentTypeExt returns the file extension (no leading dot) the output
// of a transform should be stored/served with.
func ContentTypeExt(t TransformID) string {
	switch t {
	case TransformImageResizeJXL:
		return "jxl"
	case TransformImageResizeAVIF:
		return "avif"
	case TransformImageResizeWebP:
		return "webp"
	case TransformImageResizePNG:
		return "png"
	case TransformImageResizeJPEG:
		return "jpg"
	case TransformVideoAV1:
		return "mp4"
	case TransformVideoVP9:
		return "webm"
	case TransformVideoThumbnail:
		return "jpg"
	default:
		return "bin"
	}
}

// ContentType returns the MIME type of a transform's output.
func ContentType(t TransformID) string {
	switch t {
	case TransformImageResizeJXL:
		return "image/jxl"
	case TransformImageResizeAVIF:
		return "image/avif"
	case TransformImageResizeWebP:
		return "image/webp"
	case TransformImageResizePNG:
		return "image/png"
	case TransformImageResizeJPEG:
		return "image/jpeg"
	case TransformVideoAV1, TransformVideoVP9:
		return "video/mp4"
	case TransformVideoThumbnail:
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}

// Validate reports whether t is a member of the closed transform
// enumeration this implementation supports.
func Validate(t TransformID) error {
	switch t {
	case TransformPassthrough, TransformIdentity,
		TransformImageResizeJXL, TransformImageResizeAVIF, TransformImageResizeWebP,
		TransformImageResizePNG, TransformImageResizeJPEG,
		TransformVideoAV1, TransformVideoVP9, TransformVideoThumbnail:
		return nil
	default:
		return fmt.Errorf("unknown transform %q: adding a transform is a schema change", t)
	}
}
