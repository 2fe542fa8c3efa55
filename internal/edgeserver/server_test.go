// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package edgeserver

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
	"github.com/home-cms/home/internal/originserver"
	"github.com/home-cms/home/internal/revision"
	"github.com/home-cms/home/internal/session"
	"github.com/home-cms/home/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	f, err := os.CreateTemp("", "home-edgeserver-test-*.db")
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

// newTestOrigin builds a real originserver.Server behind an httptest
// server, deploys and promotes one revision containing a page at "/",
// and returns the running server's URL plus the raw deploy key.
func newTestOrigin(t *testing.T) (url, rawKey string) {
	t.Helper()
	db := testDB(t)

	tenants := store.NewTenantStore(db)
	require.NoError(t, tenants.Create(context.Background(), model.Tenant{Label: "acme", Domain: "acme.example.com"}))

	deployKeys := store.NewDeployKeyStore(db)
	rawKey = "edge-integration-key"
	require.NoError(t, deployKeys.Create(context.Background(), model.DeployKey{
		Tenant:  "acme",
		KeyHash: model.HashDeployKey(rawKey),
		Label:   "edge",
	}))

	credentials := store.NewCredentialStore(db)
	assets := objectstore.NewMemoryStore()
	revs := revision.NewStore(store.NewRevisionIndex(db), assets)

	producer := func(ctx context.Context, fp fingerprint.Fingerprint) ([]byte, string, error) {
		return []byte("produced:" + string(fp)), "image/png", nil
	}
	derivations := derivation.NewCache(assets, producer)

	srv := originserver.New(
		originserver.Config{DevMode: true},
		tenants, deployKeys, credentials, revs, derivations, assets,
		originserver.NewManifestIndex(),
		session.NewKeyDeriver([]byte("test-root-secret-test-root-secret")),
		map[string]originserver.IdentityProvider{},
		discardLogger(),
	)

	r := chi.NewRouter()
	srv.Routes(r)
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)

	// Build and submit a bundle with a page at "/".
	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)
	pageJSON, err := json.Marshal(model.Page{ContentPath: "index.md", Route: "/", Title: "Home", Body: "<h1>hello edge</h1>"})
	require.NoError(t, err)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "content/index.json", Size: int64(len(pageJSON)), Mode: 0o600}))
	_, err = tw.Write(pageJSON)
	require.NoError(t, err)
	require.NoError(t, tw.Close())

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/tenants/acme/deploy", &tarBuf)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+rawKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	dec := json.NewDecoder(resp.Body)
	var last map[string]any
	for {
		var ev map[string]any
		if err := dec.Decode(&ev); err != nil {
			break
		}
		last = ev
	}
	require.NotNil(t, last)
	t.Logf("DEBUG last event: %#v", last)
	revidStr, _ := last["revid"].(string)
	require.NotEmpty(t, revidStr)

	promoteReq, err := http.NewRequest(http.MethodPost, ts.URL+"/tenants/acme/revisions/"+revidStr+"/promote", nil)
	require.NoError(t, err)
	promoteReq.Header.Set("Authorization", "Bearer "+rawKey)
	promoteResp, err := http.DefaultClient.Do(promoteReq)
	require.NoError(t, err)
	defer promoteResp.Body.Close()
	require.Equal(t, http.StatusNoContent, promoteResp.StatusCode)

	return ts.URL, rawKey
}

func newTestEdge(t *testing.T, originURL, apiKey string) *Server {
	t.Helper()
	resolver, err := NewStaticTenantResolver([]TenantConfig{
		{Label: "acme", Domain: "acme.example.com", APIKey: apiKey},
	}, "")
	require.NoError(t, err)

	client := NewOriginClient(originURL, discardLogger())
	edgeStore := objectstore.NewMemoryStore()
	edgeCache, err := derivation.NewEdgeCache(64, edgeStore, client.FetchDerivation)
	require.NoError(t, err)

	return New(Config{WarmupTopN: 0}, resolver, client, edgeCache, nil, nil, discardLogger())
}

func TestServePageServesLoadedRevision(t *testing.T) {
	originURL, apiKey := newTestOrigin(t)
	edge := newTestEdge(t, originURL, apiKey)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go edge.WatchTenant(ctx, model.Tenant{Label: "acme", Domain: "acme.example.com"})

	require.Eventually(t, func() bool {
		_, ok := edge.Current("acme")
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	r := chi.NewRouter()
	edge.Routes(r)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Host = "acme.example.com"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "hello edge")
}

func TestServePageUnknownHostIs404(t *testing.T) {
	originURL, apiKey := newTestOrigin(t)
	edge := newTestEdge(t, originURL, apiKey)

	r := chi.NewRouter()
	edge.Routes(r)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Host = "nope.example.com"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServeDerivationFetchesFromOrigin(t *testing.T) {
	originURL, apiKey := newTestOrigin(t)
	edge := newTestEdge(t, originURL, apiKey)

	r := chi.NewRouter()
	edge.Routes(r)

	req := httptest.NewRequest(http.MethodGet, "/media/abc123", nil)
	req.Host = "acme.example.com"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "produced:abc123", w.Body.String())
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
}
