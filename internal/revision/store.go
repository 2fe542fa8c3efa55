// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package revision

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/home-cms/home/internal/errkind"
	"github.com/home-cms/home/internal/model"
	"github.com/home-cms/home/internal/objectstore"
	"github.com/home-cms/home/internal/store"
)

// index and blobs are the two halves Store composes: index owns the
// mutable, transactional log/pointer state (relational, in
// internal/store); blobs owns the immutable, content-addressed manifest
// bytes (internal/objectstore). Submit writes both; Promote only ever
// touches index.
type Store struct {
	index *store.RevisionIndex
	blobs objectstore.Store

	mu          sync.Mutex
	subscribers map[string][]chan model.RevisionID
}

// NewStore builds a Store over a relational revision index and a
// content-addressed object store for manifest blobs.
func NewStore(index *store.RevisionIndex, blobs objectstore.Store) *Store {
	return &Store{
		index:       index,
		blobs:       blobs,
		subscribers: make(map[string][]chan model.RevisionID),
	}
}

// Submit validates bundle's structure, writes its manifests under
// revisions/<tenant>/<revid>/, and appends it to the log — but does not
// promote it.
func (s *Store) Submit(ctx context.Context, tenant string, bundle Bundle) (model.RevisionID, error) {
	if err := validateBundleStructure(bundle); err != nil {
		return "", errkind.Wrap(errkind.Input, "validating revision bundle", err)
	}

	id, err := NewID()
	if err != nil {
		return "", errkind.Wrap(errkind.Internal, "minting revision id", err)
	}

	pageGraph, err := marshalPageGraph(bundle)
	if err != nil {
		return "", errkind.Wrap(errkind.Internal, "encoding page graph", err)
	}
	assetManifest, err := marshalAssetManifest(bundle)
	if err != nil {
		return "", errkind.Wrap(errkind.Internal, "encoding asset manifest", err)
	}
	derivationManifest, err := marshalDerivationManifest(bundle)
	if err != nil {
		return "", errkind.Wrap(errkind.Internal, "encoding derivation manifest", err)
	}
	templateSet, err := marshalTemplateSet(bundle)
	if err != nil {
		return "", errkind.Wrap(errkind.Internal, "encoding template set", err)
	}

	base := "revisions/" + tenant + "/" + string(id)
	for _, blob := range []struct {
		key  string
		data []byte
	}{
		{base + "/pages", pageGraph},
		{base + "/assets", assetManifest},
		{base + "/derivations", derivationManifest},
		{base + "/templates", templateSet},
	} {
		if _, err := s.blobs.PutIfAbsent(ctx, blob.key, newBytesReader(blob.data), int64(len(blob.data)), "application/json"); err != nil {
			return "", err
		}
	}

	if err := s.index.Append(ctx, tenant, id, base, time.Now()); err != nil {
		return "", err
	}
	return id, nil
}

// Promote validates that every asset the revision references already
// exists in the object store, then atomically swaps the tenant's current
// pointer to id. Broadcasts to every active Subscribe stream.
func (s *Store) Promote(ctx context.Context, tenant string, id model.RevisionID) error {
	bundle, err := s.Get(ctx, tenant, id)
	if err != nil {
		return err
	}
	for _, asset := range bundle.Assets {
		if _, err := s.blobs.Head(ctx, asset.ObjectKey()); err != nil {
			return errkind.Wrap(errkind.Input, fmt.Sprintf("asset %q referenced by revision but missing from object store", asset.ContentPath), err)
		}
	}

	if err := s.index.PromoteTx(ctx, tenant, id); err != nil {
		return err
	}
	s.broadcast(tenant, id)
	return nil
}

// Current returns the tenant's currently promoted revision id.
func (s *Store) Current(ctx context.Context, tenant string) (model.RevisionID, error) {
	return s.index.Current(ctx, tenant)
}

// Get reconstitutes the full Bundle for a submitted revision.
func (s *Store) Get(ctx context.Context, tenant string, id model.RevisionID) (Bundle, error) {
	base, err := s.index.ManifestKey(ctx, tenant, id)
	if err != nil {
		return Bundle{}, err
	}

	pagesData, err := s.getBlob(ctx, base+"/pages")
	if err != nil {
		return Bundle{}, err
	}
	assetsData, err := s.getBlob(ctx, base+"/assets")
	if err != nil {
		return Bundle{}, err
	}
	derivationsData, err := s.getBlob(ctx, base+"/derivations")
	if err != nil {
		return Bundle{}, err
	}
	templatesData, err := s.getBlob(ctx, base+"/templates")
	if err != nil {
		return Bundle{}, err
	}

	pages, err := unmarshalPageGraph(pagesData)
	if err != nil {
		return Bundle{}, errkind.Wrap(errkind.Internal, "decoding stored page graph", err)
	}
	assets, err := unmarshalAssetManifest(assetsData)
	if err != nil {
		return Bundle{}, errkind.Wrap(errkind.Internal, "decoding stored asset manifest", err)
	}
	derivations, err := unmarshalDerivationManifest(derivationsData)
	if err != nil {
		return Bundle{}, errkind.Wrap(errkind.Internal, "decoding stored derivation manifest", err)
	}
	templates, err := unmarshalTemplateSet(templatesData)
	if err != nil {
		return Bundle{}, errkind.Wrap(errkind.Internal, "decoding stored template set", err)
	}

	return Bundle{Pages: pages, Assets: assets, TemplateNames: templates, Derivations: derivations}, nil
}

func (s *Store) getBlob(ctx context.Context, key string) ([]byte, error) {
	rc, _, err := s.blobs.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// Subscribe returns a channel that receives id every time Promote
// succeeds for tenant. The channel is closed when ctx is done.
func (s *Store) Subscribe(ctx context.Context, tenant string) <-chan model.RevisionID {
	ch := make(chan model.RevisionID, 1)
	s.mu.Lock()
	s.subscribers[tenant] = append(s.subscribers[tenant], ch)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		subs := s.subscribers[tenant]
		for i, c := range subs {
			if c == ch {
				s.subscribers[tenant] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch
}

func (s *Store) broadcast(tenant string, id model.RevisionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subscribers[tenant] {
		select {
		case ch <- id:
		default:
			// A slow subscriber may miss intermediate promotions: its
			// buffered, not-yet-received id is replaced by this newer one,
			// so its next receive observes the latest promotion. broadcast
			// is the only sender and holds s.mu, so the send after the
			// drain finds room.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- id:
			default:
			}
		}
	}
}

// RetentionPolicy governs which revisions Retain may garbage collect.
type RetentionPolicy struct {
	KeepLast int                // always retain the KeepLast most recently created revisions
	Pinned   []model.RevisionID // additionally retained, e.g. revisions an edge reports still serving
}

// Retain applies policy: every revision not among the KeepLast most
// recent, explicitly Pinned, or flagged by RevisionIndex.MarkRetained is
// deleted, along with any asset or
// derivation object that only that revision's manifest referenced. GC
// only ever removes objects with zero remaining references.
func (s *Store) Retain(ctx context.Context, tenant string, policy RetentionPolicy) error {
	rows, err := s.index.List(ctx, tenant)
	if err != nil {
		return err
	}

	pinned := make(map[model.RevisionID]bool, len(policy.Pinned))
	for _, id := range policy.Pinned {
		pinned[id] = true
	}

	keep := make(map[model.RevisionID]bool)
	for i, row := range rows {
		if i < policy.KeepLast || pinned[row.ID] || row.Retained {
			keep[row.ID] = true
		}
	}

	retainedKeys := make(map[string]bool)
	var toDelete []model.RevisionID
	for _, row := range rows {
		bundle, err := s.Get(ctx, tenant, row.ID)
		if err != nil {
			return err
		}
		if keep[row.ID] {
			for _, a := range bundle.Assets {
				retainedKeys[a.ObjectKey()] = true
			}
			for _, d := range bundle.Derivations {
				retainedKeys[d.ObjectKey()] = true
			}
			continue
		}
		toDelete = append(toDelete, row.ID)
	}

	for _, id := range toDelete {
		bundle, err := s.Get(ctx, tenant, id)
		if err != nil {
			return err
		}
		for _, a := range bundle.Assets {
			if !retainedKeys[a.ObjectKey()] {
				_ = s.blobs.Delete(ctx, a.ObjectKey())
			}
		}
		for _, d := range bundle.Derivations {
			if !retainedKeys[d.ObjectKey()] {
				_ = s.blobs.Delete(ctx, d.ObjectKey())
			}
		}
		base := "revisions/" + tenant + "/" + string(id)
		for _, suffix := range []string{"/pages", "/assets", "/derivations", "/templates"} {
			_ = s.blobs.Delete(ctx, base+suffix)
		}
		if err := s.index.Delete(ctx, tenant, id); err != nil {
			return err
		}
	}
	return nil
}
