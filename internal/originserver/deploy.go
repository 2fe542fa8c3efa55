// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package originserver

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/home-cms/home/internal/errkind"
	"github.com/home-cms/home/internal/model"
	"github.com/home-cms/home/internal/objectstore"
	"github.com/home-cms/home/internal/revision"
)

// progressEvent is one newline-delimited JSON line streamed back from
// deploy ingest: {phase, bytes_done, bytes_total,
// message}, ending with a terminal {status, revid|message} line.
type progressEvent struct {
	Phase      string `json:"phase,omitempty"`
	BytesDone  int64  `json:"bytes_done,omitempty"`
	BytesTotal int64  `json:"bytes_total,omitempty"`
	Message    string `json:"message,omitempty"`
	Status     string `json:"status,omitempty"`
	RevID      string `json:"revid,omitempty"`
}

// progressWriter streams progressEvent lines as they are produced and
// flushes after each one, so a client watching deploy-ingest output sees
// phases arrive as the upload is processed rather than all at once at
// the end.
type progressWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	enc     *json.Encoder
}

func newProgressWriter(w http.ResponseWriter) *progressWriter {
	w.Header().Set("Content-Type", "application/x-ndjson")
	f, _ := w.(http.Flusher)
	return &progressWriter{w: w, flusher: f, enc: json.NewEncoder(w)}
}

func (p *progressWriter) emit(ev progressEvent) {
	_ = p.enc.Encode(ev)
	if p.flusher != nil {
		p.flusher.Flush()
	}
}

func (p *progressWriter) ok(revid model.RevisionID) {
	p.emit(progressEvent{Status: "ok", RevID: string(revid)})
}

func (p *progressWriter) fail(message string) {
	p.emit(progressEvent{Status: "error", Message: message})
}

// trailerAsset is one entry of the JSON trailer that follows the tar
// stream: a JSON trailer listing asset content-paths
// and their SHA-256 hashes, used to confirm the bytes the server
// computed while reading src/ entries match what the client intended to
// send (a corrupted or truncated upload fails loudly instead of
// publishing silently-wrong bytes).
type trailerAsset struct {
	ContentPath string `json:"content_path"`
	SHA256      string `json:"sha256"`
}

type deployTrailer struct {
	Assets []trailerAsset `json:"assets"`
}

// DeployIngest accepts a tar-like stream of content/, templates/, src/
// and home.json entries followed by a JSON trailer, writes
// every asset via put_if_absent, submits the resulting bundle to the
// revision store (without promoting it), and streams progress as
// newline-delimited JSON.
func (s *Server) DeployIngest(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	progress := newProgressWriter(w)

	body := newRateLimitedReader(r.Context(), r.Body, s.limiter)
	tr := tar.NewReader(body)

	var pages []model.Page
	var assets []model.Asset
	var templateNames []string
	var trailer deployTrailer

	progress.emit(progressEvent{Phase: "reading_bundle", Message: "reading tar stream"})

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			progress.fail(fmt.Sprintf("reading bundle entry: %v", err))
			return
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		switch {
		case hdr.Name == "trailer.json":
			if err := json.NewDecoder(tr).Decode(&trailer); err != nil {
				progress.fail(fmt.Sprintf("decoding trailer.json: %v", err))
				return
			}
		case hdr.Name == "home.json":
			// Reserved for bundle-level metadata in future revisions of
			// the deploy protocol; nothing in spec.md names a concrete
			// shape for it, so it is read and discarded to keep the tar
			// reader positioned at the next entry.
			if _, err := io.Copy(io.Discard, tr); err != nil {
				progress.fail(fmt.Sprintf("reading home.json: %v", err))
				return
			}
		case strings.HasPrefix(hdr.Name, "content/"):
			var page model.Page
			if err := json.NewDecoder(tr).Decode(&page); err != nil {
				progress.fail(fmt.Sprintf("decoding %s: %v", hdr.Name, err))
				return
			}
			pages = append(pages, page)
		case strings.HasPrefix(hdr.Name, "templates/"):
			templateNames = append(templateNames, strings.TrimPrefix(hdr.Name, "templates/"))
			if _, err := io.Copy(io.Discard, tr); err != nil {
				progress.fail(fmt.Sprintf("reading %s: %v", hdr.Name, err))
				return
			}
		case strings.HasPrefix(hdr.Name, "src/"):
			contentPath := strings.TrimPrefix(hdr.Name, "src/")
			asset, err := s.ingestAsset(r.Context(), contentPath, tr)
			if err != nil {
				progress.fail(err.Error())
				return
			}
			assets = append(assets, asset)
			progress.emit(progressEvent{Phase: "uploading_assets", BytesDone: hdr.Size, Message: contentPath})
		default:
			if _, err := io.Copy(io.Discard, tr); err != nil {
				progress.fail(fmt.Sprintf("reading %s: %v", hdr.Name, err))
				return
			}
		}
	}

	progress.emit(progressEvent{Phase: "validating", Message: "checking asset trailer"})
	declared := make(map[string]string, len(trailer.Assets))
	for _, a := range trailer.Assets {
		declared[a.ContentPath] = a.SHA256
	}
	for _, a := range assets {
		if want, ok := declared[a.ContentPath]; ok && !strings.EqualFold(want, a.SHA256) {
			progress.fail(fmt.Sprintf("asset %q: trailer declared sha256 %s but bundle bytes hashed to %s", a.ContentPath, want, a.SHA256))
			return
		}
	}

	progress.emit(progressEvent{Phase: "submitting", Message: "writing revision manifest"})
	bundle := revision.Bundle{
		Pages:         pages,
		Assets:        assets,
		TemplateNames: templateNames,
		Derivations:   BuildDerivationManifest(pages, assets),
	}
	revid, err := s.revisions.Submit(r.Context(), tenant, bundle)
	if err != nil {
		progress.fail(err.Error())
		return
	}
	s.manifests.Record(bundle)
	progress.ok(revid)
}

// ingestAsset reads one src/ tar entry into an in-memory buffer while
// computing its content hash, then stores the buffered bytes in the
// object store under that hash.
func (s *Server) ingestAsset(ctx context.Context, contentPath string, r io.Reader) (model.Asset, error) {
	var buf bytes.Buffer
	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(&buf, h), r); err != nil {
		return model.Asset{}, fmt.Errorf("reading asset %q: %w", contentPath, err)
	}
	sum := hex.EncodeToString(h.Sum(nil))

	contentType := mime.TypeByExtension(filepath.Ext(contentPath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	if _, err := s.assets.PutIfAbsent(ctx, objectstore.AssetKey(sum), bytes.NewReader(buf.Bytes()), int64(buf.Len()), contentType); err != nil {
		return model.Asset{}, fmt.Errorf("storing asset %q: %w", contentPath, err)
	}

	return model.Asset{ContentPath: contentPath, SHA256: sum, ContentType: contentType}, nil
}

// UploadAsset handles PUT /tenants/{tenant}/assets/{sha256}: a
// standalone content-addressed asset upload, used ahead of a deploy call
// for assets large enough that bundling them inline in the tar stream is
// undesirable. The path's sha256 is authoritative; the uploaded bytes
// are rejected if they hash to anything else.
func (s *Server) UploadAsset(w http.ResponseWriter, r *http.Request) {
	declared := strings.ToLower(chi.URLParam(r, "sha256"))

	h := sha256.New()
	var buf bytes.Buffer
	limited := newRateLimitedReader(r.Context(), r.Body, s.limiter)
	if _, err := io.Copy(io.MultiWriter(&buf, h), limited); err != nil {
		writeDeployJSONError(w, http.StatusBadRequest, "reading upload body")
		return
	}
	actual := hex.EncodeToString(h.Sum(nil))
	if actual != declared {
		writeDeployJSONError(w, http.StatusBadRequest, fmt.Sprintf("uploaded bytes hash to %s, not %s", actual, declared))
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	status, err := s.assets.PutIfAbsent(r.Context(), objectstore.AssetKey(declared), bytes.NewReader(buf.Bytes()), int64(buf.Len()), contentType)
	if err != nil {
		writeDeployJSONError(w, errkind.HTTPStatus(err), err.Error())
		return
	}
	if status == objectstore.Created {
		w.WriteHeader(http.StatusCreated)
	} else {
		w.WriteHeader(http.StatusOK)
	}
}

// PromoteRevision handles POST /tenants/{tenant}/revisions/{revid}/promote.
func (s *Server) PromoteRevision(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	revid, err := revision.ParseID(chi.URLParam(r, "revid"))
	if err != nil {
		writeDeployJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.revisions.Promote(r.Context(), tenant, revid); err != nil {
		writeDeployJSONError(w, errkind.HTTPStatus(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// apiError mirrors the JSON error shape middleware.DeployKeyAuth uses,
// so every origin endpoint's error responses look the same on the wire.
type apiError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func writeDeployJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := apiError{}
	body.Error.Message = message
	_ = json.NewEncoder(w).Encode(body)
}
