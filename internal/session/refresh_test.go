// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package session

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/home-cms/home/internal/model"
)

type fakeRefresher struct {
	calls int32
	delay time.Duration
}

func (f *fakeRefresher) Refresh(ctx context.Context, cred model.Credential) (model.Credential, error) {
	atomic.AddInt32(&f.calls, 1)
	time.Sleep(f.delay)
	cred.ExpiresAt = time.Now().Add(time.Hour)
	return cred, nil
}

type fakeStore struct {
	mu    sync.Mutex
	saved []model.Credential
}

func (f *fakeStore) Upsert(ctx context.Context, cred model.Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, cred)
	return nil
}

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMaybeDispatchSkipsUnexpiredCredential(t *testing.T) {
	refresher := &fakeRefresher{}
	dispatcher := NewRefreshDispatcher(refresher, &fakeStore{}, silentLogger())

	dispatcher.MaybeDispatch(model.Credential{Tenant: "acme", ExpiresAt: time.Now().Add(time.Hour)}, time.Now())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&refresher.calls))
}

func TestMaybeDispatchRefreshesExpiredCredentialInBackground(t *testing.T) {
	refresher := &fakeRefresher{}
	store := &fakeStore{}
	dispatcher := NewRefreshDispatcher(refresher, store, silentLogger())

	cred := model.Credential{Tenant: "acme", Provider: "github", Subject: "user-1", ExpiresAt: time.Now().Add(-time.Hour)}
	dispatcher.MaybeDispatch(cred, time.Now())

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&refresher.calls) == 1
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.saved) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestMaybeDispatchDeduplicatesConcurrentRefreshesForSameCredential(t *testing.T) {
	refresher := &fakeRefresher{delay: 50 * time.Millisecond}
	dispatcher := NewRefreshDispatcher(refresher, &fakeStore{}, silentLogger())

	cred := model.Credential{Tenant: "acme", Provider: "github", Subject: "user-1", ExpiresAt: time.Now().Add(-time.Hour)}
	for i := 0; i < 5; i++ {
		dispatcher.MaybeDispatch(cred, time.Now())
	}

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&refresher.calls), "concurrent dispatches for the same credential must collapse to one refresh")
}
