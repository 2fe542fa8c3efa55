// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/home-cms/home/internal/errkind"
	"github.com/home-cms/home/internal/model"
)

type fakeDeployKeyResolver struct {
	byHash map[string]model.DeployKey
}

func (f *fakeDeployKeyResolver) ByHash(ctx context.Context, hash string) (model.DeployKey, error) {
	k, ok := f.byHash[hash]
	if !ok {
		return model.DeployKey{}, errkind.New(errkind.NotFound, "no such deploy key")
	}
	return k, nil
}

func sameTenant(tenant string) func(*http.Request) string {
	return func(r *http.Request) string { return tenant }
}

func TestDeployKeyAuthAcceptsValidKey(t *testing.T) {
	raw := "test-deploy-key"
	resolver := &fakeDeployKeyResolver{byHash: map[string]model.DeployKey{
		model.HashDeployKey(raw): {Tenant: "acme", KeyHash: model.HashDeployKey(raw)},
	}}

	var gotKey model.DeployKey
	handler := DeployKeyAuth(resolver, sameTenant("acme"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey, _ = DeployKeyFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/deploy", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "acme", gotKey.Tenant)
}

func TestDeployKeyAuthRejectsMissingHeader(t *testing.T) {
	resolver := &fakeDeployKeyResolver{byHash: map[string]model.DeployKey{}}
	handler := DeployKeyAuth(resolver, sameTenant("acme"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler must not run without credentials")
	}))

	req := httptest.NewRequest(http.MethodPost, "/deploy", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDeployKeyAuthRejectsUnknownKey(t *testing.T) {
	resolver := &fakeDeployKeyResolver{byHash: map[string]model.DeployKey{}}
	handler := DeployKeyAuth(resolver, sameTenant("acme"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler must not run for an unknown key")
	}))

	req := httptest.NewRequest(http.MethodPost, "/deploy", nil)
	req.Header.Set("Authorization", "Bearer wrong-key")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDeployKeyAuthRejectsRevokedKey(t *testing.T) {
	raw := "revoked-key"
	resolver := &fakeDeployKeyResolver{byHash: map[string]model.DeployKey{
		model.HashDeployKey(raw): {Tenant: "acme", KeyHash: model.HashDeployKey(raw), Revoked: true},
	}}
	handler := DeployKeyAuth(resolver, sameTenant("acme"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler must not run for a revoked key")
	}))

	req := httptest.NewRequest(http.MethodPost, "/deploy", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDeployKeyAuthRejectsExpiredKey(t *testing.T) {
	raw := "expired-key"
	resolver := &fakeDeployKeyResolver{byHash: map[string]model.DeployKey{
		model.HashDeployKey(raw): {Tenant: "acme", KeyHash: model.HashDeployKey(raw), ExpiresAt: time.Now().Add(-time.Hour)},
	}}
	handler := DeployKeyAuth(resolver, sameTenant("acme"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler must not run for an expired key")
	}))

	req := httptest.NewRequest(http.MethodPost, "/deploy", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDeployKeyAuthRejectsCrossTenantKey(t *testing.T) {
	raw := "acme-key"
	resolver := &fakeDeployKeyResolver{byHash: map[string]model.DeployKey{
		model.HashDeployKey(raw): {Tenant: "acme", KeyHash: model.HashDeployKey(raw)},
	}}
	handler := DeployKeyAuth(resolver, sameTenant("other-tenant"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler must not run when the key belongs to a different tenant")
	}))

	req := httptest.NewRequest(http.MethodPost, "/deploy", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}
