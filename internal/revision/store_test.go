// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package revision

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/home-cms/home/internal/errkind"
	"github.com/home-cms/home/internal/model"
	"github.com/home-cms/home/internal/objectstore"
	"github.com/home-cms/home/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	f, err := os.CreateTemp("", "home-revision-test-*.db")
	require.NoError(t, err)
	path := f.Name()
	f.Close()

	db, err := store.Open(store.DialectSQLite, path, store.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, store.Migrate(db, store.DialectSQLite))
	t.Cleanup(func() {
		db.Close()
		os.Remove(path)
	})

	require.NoError(t, store.NewTenantStore(db).Create(context.Background(), model.Tenant{
		Label: "acme", Domain: "acme.example.com", CreatedAt: time.Now(),
	}))

	return NewStore(store.NewRevisionIndex(db), objectstore.NewMemoryStore())
}

func TestStoreSubmitDoesNotPromote(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Submit(ctx, "acme", validBundle())
	require.NoError(t, err)

	_, err = s.Current(ctx, "acme")
	assert.True(t, errkind.Is(err, errkind.NotFound))

	got, err := s.Get(ctx, "acme", id)
	require.NoError(t, err)
	assert.Len(t, got.Pages, len(validBundle().Pages))
}

func TestStorePromoteRequiresAssetsPresent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Submit(ctx, "acme", validBundle())
	require.NoError(t, err)

	err = s.Promote(ctx, "acme", id)
	require.Error(t, err, "logo.png is referenced but was never uploaded to the object store")
}

func TestStorePromoteSucceedsAndBroadcasts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	bundle := validBundle()
	require.NoError(t, uploadBundleAssets(ctx, s, bundle))

	id, err := s.Submit(ctx, "acme", bundle)
	require.NoError(t, err)

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	sub := s.Subscribe(subCtx, "acme")

	require.NoError(t, s.Promote(ctx, "acme", id))

	select {
	case got := <-sub:
		assert.Equal(t, id, got)
	default:
		t.Fatal("expected a promotion notification on the subscription channel")
	}

	current, err := s.Current(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, id, current)
}

func TestStoreRetainKeepsPinnedAndRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	bundle := validBundle()
	require.NoError(t, uploadBundleAssets(ctx, s, bundle))

	first, err := s.Submit(ctx, "acme", bundle)
	require.NoError(t, err)
	require.NoError(t, s.Promote(ctx, "acme", first))

	second, err := s.Submit(ctx, "acme", bundle)
	require.NoError(t, err)
	require.NoError(t, s.Promote(ctx, "acme", second))

	require.NoError(t, s.Retain(ctx, "acme", RetentionPolicy{KeepLast: 1}))

	_, err = s.Get(ctx, "acme", second)
	assert.NoError(t, err, "the most recent revision must survive KeepLast: 1")

	_, err = s.Get(ctx, "acme", first)
	assert.True(t, errkind.Is(err, errkind.NotFound), "the older revision should have been garbage collected")
}

func uploadBundleAssets(ctx context.Context, s *Store, bundle Bundle) error {
	for _, a := range bundle.Assets {
		if _, err := s.blobs.PutIfAbsent(ctx, a.ObjectKey(), newBytesReader([]byte("fake-bytes")), 10, a.ContentType); err != nil {
			return err
		}
	}
	return nil
}
