// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package derivation

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/home-cms/home/internal/fingerprint"
	"github.com/home-cms/home/internal/objectstore"
)

func TestEdgeCacheFetchesOnceThenServesFromMemory(t *testing.T) {
	var fetches int32
	disk := objectstore.NewMemoryStore()
	cache, err := NewEdgeCache(16, disk, func(ctx context.Context, fp fingerprint.Fingerprint) ([]byte, string, error) {
		atomic.AddInt32(&fetches, 1)
		return []byte("derived"), "image/avif", nil
	})
	require.NoError(t, err)

	data1, ct1, err := cache.Get(context.Background(), fingerprint.Fingerprint("fp-a"))
	require.NoError(t, err)
	assert.Equal(t, "derived", string(data1))
	assert.Equal(t, "image/avif", ct1)

	data2, _, err := cache.Get(context.Background(), fingerprint.Fingerprint("fp-a"))
	require.NoError(t, err)
	assert.Equal(t, "derived", string(data2))
	assert.Equal(t, int32(1), atomic.LoadInt32(&fetches))
}

func TestEdgeCacheDedupesConcurrentFetches(t *testing.T) {
	var fetches int32
	disk := objectstore.NewMemoryStore()
	cache, err := NewEdgeCache(16, disk, func(ctx context.Context, fp fingerprint.Fingerprint) ([]byte, string, error) {
		atomic.AddInt32(&fetches, 1)
		return []byte("derived"), "image/avif", nil
	})
	require.NoError(t, err)

	const n = 6
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, _, err := cache.Get(context.Background(), fingerprint.Fingerprint("fp-shared"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&fetches))
}

func TestEdgeCachePopulatesFromDiskWithoutRefetching(t *testing.T) {
	disk := objectstore.NewMemoryStore()
	fp := fingerprint.Fingerprint("fp-on-disk")
	_, err := disk.PutIfAbsent(context.Background(), objectstore.DerivationKey(string(fp)), newBytesReader([]byte("already-on-disk")), 15, "image/webp")
	require.NoError(t, err)

	fetched := false
	cache, err := NewEdgeCache(16, disk, func(ctx context.Context, fp fingerprint.Fingerprint) ([]byte, string, error) {
		fetched = true
		return nil, "", nil
	})
	require.NoError(t, err)

	data, ct, err := cache.Get(context.Background(), fp)
	require.NoError(t, err)
	assert.Equal(t, "already-on-disk", string(data))
	assert.Equal(t, "image/webp", ct)
	assert.False(t, fetched)
}
