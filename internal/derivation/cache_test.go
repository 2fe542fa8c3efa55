// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package derivation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/home-cms/home/internal/errkind"
	"github.com/home-cms/home/internal/fingerprint"
	"github.com/home-cms/home/internal/objectstore"
)

func TestCacheResolveDedupesConcurrentCallers(t *testing.T) {
	var calls int32
	produce := func(ctx context.Context, fp fingerprint.Fingerprint) ([]byte, string, error) {
		atomic.AddInt32(&calls, 1)
		return []byte("rendered bytes"), "image/webp", nil
	}
	cache := NewCache(objectstore.NewMemoryStore(), produce)

	const n = 8
	var wg sync.WaitGroup
	wg.Add(n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			rc, _, err := cache.Resolve(context.Background(), fingerprint.Fingerprint("fp-shared"))
			if err == nil {
				rc.Close()
			}
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "producer should run exactly once for a shared fingerprint")
}

func TestCacheResolveDoesNotCacheProducerFailure(t *testing.T) {
	var calls int32
	produce := func(ctx context.Context, fp fingerprint.Fingerprint) ([]byte, string, error) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			return nil, "", errors.New("upstream encoder crashed")
		}
		return []byte("ok"), "image/jpeg", nil
	}
	cache := NewCache(objectstore.NewMemoryStore(), produce)

	_, _, err := cache.Resolve(context.Background(), fingerprint.Fingerprint("fp-retry"))
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.ProducerFailure))

	rc, _, err := cache.Resolve(context.Background(), fingerprint.Fingerprint("fp-retry"))
	require.NoError(t, err)
	rc.Close()
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "a retry after failure must invoke the producer again")
}

func TestCacheResolveHitsStoreWithoutInvokingProducer(t *testing.T) {
	store := objectstore.NewMemoryStore()
	fp := fingerprint.Fingerprint("fp-precomputed")
	_, err := store.PutIfAbsent(context.Background(), objectstore.DerivationKey(string(fp)), newBytesReader([]byte("precomputed")), 11, "image/png")
	require.NoError(t, err)

	called := false
	cache := NewCache(store, func(ctx context.Context, fp fingerprint.Fingerprint) ([]byte, string, error) {
		called = true
		return nil, "", errors.New("should never be called")
	})

	rc, meta, err := cache.Resolve(context.Background(), fp)
	require.NoError(t, err)
	defer rc.Close()
	assert.False(t, called)
	assert.Equal(t, "image/png", meta.ContentType)
	assert.Equal(t, Persisted, cache.State(fp))
}
