// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package originserver

import (
	"archive/tar"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/home-cms/home/internal/derivation"
	"github.com/home-cms/home/internal/fingerprint"
	"github.com/home-cms/home/internal/model"
	"github.com/home-cms/home/internal/objectstore"
	"github.com/home-cms/home/internal/revision"
	"github.com/home-cms/home/internal/session"
	"github.com/home-cms/home/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	f, err := os.CreateTemp("", "home-originserver-test-*.db")
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
	return db
}

type testEnv struct {
	server  *Server
	assets  objectstore.Store
	revs    *revision.Store
	deploys *store.DeployKeyStore
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	db := testDB(t)

	tenants := store.NewTenantStore(db)
	require.NoError(t, tenants.Create(context.Background(), model.Tenant{Label: "acme", Domain: "acme.example.com"}))

	deployKeys := store.NewDeployKeyStore(db)
	credentials := store.NewCredentialStore(db)
	assets := objectstore.NewMemoryStore()
	revs := revision.NewStore(store.NewRevisionIndex(db), assets)

	producer := func(ctx context.Context, fp fingerprint.Fingerprint) ([]byte, string, error) {
		return []byte("derived-" + string(fp)), "text/plain", nil
	}
	derivations := derivation.NewCache(assets, producer)

	srv := New(
		Config{DevMode: true},
		tenants,
		deployKeys,
		credentials,
		revs,
		derivations,
		assets,
		NewManifestIndex(),
		session.NewKeyDeriver([]byte("test-root-secret-test-root-secret")),
		map[string]IdentityProvider{"fake": fakeProvider{}},
		discardLogger(),
	)
	return testEnv{server: srv, assets: assets, revs: revs, deploys: deployKeys}
}

type fakeProvider struct{}

func (fakeProvider) Exchange(ctx context.Context, code string) (ExternalIdentity, error) {
	return ExternalIdentity{Subject: "user-" + code, DisplayName: "Test User"}, nil
}

func router(env testEnv) chi.Router {
	r := chi.NewRouter()
	env.server.Routes(r)
	return r
}

func TestUploadAssetRejectsUnknownDeployKey(t *testing.T) {
	env := newTestEnv(t)
	r := router(env)

	require.NoError(t, env.deploys.Create(context.Background(), model.DeployKey{
		Tenant:  "acme",
		KeyHash: model.HashDeployKey("some-other-key"),
		Label:   "ci",
	}))

	req := httptest.NewRequest(http.MethodPut, "/tenants/acme/assets/deadbeef", bytes.NewBufferString("hello"))
	req.Header.Set("Authorization", "Bearer doesnotmatter")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	// No valid deploy key was presented, so auth itself fails before the
	// hash is ever checked.
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUploadAssetAndDeployIngest(t *testing.T) {
	env := newTestEnv(t)
	r := router(env)

	rawKey := "plaintext-deploy-key"
	require.NoError(t, env.deploys.Create(context.Background(), model.DeployKey{
		Tenant:  "acme",
		KeyHash: model.HashDeployKey(rawKey),
		Label:   "ci",
	}))

	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)

	pageJSON, err := json.Marshal(model.Page{ContentPath: "index.md", Route: "/", Title: "Home"})
	require.NoError(t, err)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "content/index.json", Size: int64(len(pageJSON)), Mode: 0o600}))
	_, err = tw.Write(pageJSON)
	require.NoError(t, err)

	tmplBody := []byte("{{ .Title }}")
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "templates/page.html", Size: int64(len(tmplBody)), Mode: 0o600}))
	_, err = tw.Write(tmplBody)
	require.NoError(t, err)

	require.NoError(t, tw.Close())

	req := httptest.NewRequest(http.MethodPost, "/tenants/acme/deploy", &tarBuf)
	req.Header.Set("Authorization", "Bearer "+rawKey)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	dec := json.NewDecoder(w.Body)
	var last map[string]any
	for {
		var ev map[string]any
		if err := dec.Decode(&ev); err != nil {
			break
		}
		last = ev
	}
	require.NotNil(t, last)
	assert.Equal(t, "ok", last["status"])
	revidStr, _ := last["revid"].(string)
	require.NotEmpty(t, revidStr)

	promoteReq := httptest.NewRequest(http.MethodPost, "/tenants/acme/revisions/"+revidStr+"/promote", nil)
	promoteReq.Header.Set("Authorization", "Bearer "+rawKey)
	promoteW := httptest.NewRecorder()
	r.ServeHTTP(promoteW, promoteReq)
	assert.Equal(t, http.StatusNoContent, promoteW.Code)

	current, err := env.revs.Current(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, revidStr, string(current))
}

func TestDerivationProxyServesProducedBytes(t *testing.T) {
	env := newTestEnv(t)
	r := router(env)

	req := httptest.NewRequest(http.MethodGet, "/derive/abc123", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "derived-abc123", w.Body.String())
	assert.Equal(t, "text/plain", w.Header().Get("Content-Type"))
}

func TestExchangeCallbackSetsSessionCookieAndRedirects(t *testing.T) {
	env := newTestEnv(t)
	r := router(env)

	req := httptest.NewRequest(http.MethodGet, "/auth/fake/callback?code=123&tenant=acme", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusFound, w.Code)
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, sessionCookieName, cookies[0].Name)
	assert.NotEmpty(t, cookies[0].Value)
}

func TestSubscribeBlocksUntilClientDisconnects(t *testing.T) {
	env := newTestEnv(t)
	r := router(env)

	require.NoError(t, env.deploys.Create(context.Background(), model.DeployKey{
		Tenant:  "acme",
		KeyHash: model.HashDeployKey("edge-key"),
		Label:   "edge",
	}))

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/tenants/acme/subscribe", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer edge-key")
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		r.ServeHTTP(w, req)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Subscribe returned before its client context was canceled")
	case <-time.After(20 * time.Millisecond):
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Subscribe did not return after its client context was canceled")
	}
}

func TestExchangeCallbackUnknownProvider(t *testing.T) {
	env := newTestEnv(t)
	r := router(env)

	req := httptest.NewRequest(http.MethodGet, "/auth/nope/callback?code=123", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
