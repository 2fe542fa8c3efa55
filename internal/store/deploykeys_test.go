// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/home-cms/home/internal/errkind"
	"github.com/home-cms/home/internal/model"
)

func TestDeployKeyCreateAndLookupByHash(t *testing.T) {
	db := testDB(t)
	tenants := NewTenantStore(db)
	keys := NewDeployKeyStore(db)
	ctx := context.Background()

	require.NoError(t, tenants.Create(ctx, model.Tenant{Label: "acme", Domain: "acme.example.com", CreatedAt: time.Now()}))
	require.NoError(t, keys.Create(ctx, model.DeployKey{
		Tenant:    "acme",
		KeyHash:   model.HashDeployKey("raw-secret"),
		Label:     "ci-pipeline",
		CreatedAt: time.Now(),
	}))

	got, err := keys.ByHash(ctx, model.HashDeployKey("raw-secret"))
	require.NoError(t, err)
	assert.Equal(t, "acme", got.Tenant)
	assert.Equal(t, "ci-pipeline", got.Label)
	assert.False(t, got.Revoked)
}

func TestDeployKeyByHashUnknownReturnsNotFound(t *testing.T) {
	db := testDB(t)
	keys := NewDeployKeyStore(db)

	_, err := keys.ByHash(context.Background(), "nonexistent")
	assert.True(t, errkind.Is(err, errkind.NotFound))
}

func TestDeployKeyRevoke(t *testing.T) {
	db := testDB(t)
	tenants := NewTenantStore(db)
	keys := NewDeployKeyStore(db)
	ctx := context.Background()

	require.NoError(t, tenants.Create(ctx, model.Tenant{Label: "acme", Domain: "acme.example.com", CreatedAt: time.Now()}))
	hash := model.HashDeployKey("raw-secret")
	require.NoError(t, keys.Create(ctx, model.DeployKey{Tenant: "acme", KeyHash: hash, Label: "ci", CreatedAt: time.Now()}))

	require.NoError(t, keys.Revoke(ctx, "acme", hash))

	got, err := keys.ByHash(ctx, hash)
	require.NoError(t, err)
	assert.True(t, got.Revoked)
}

func TestDeployKeyRevokeUnknownReturnsNotFound(t *testing.T) {
	db := testDB(t)
	keys := NewDeployKeyStore(db)

	err := keys.Revoke(context.Background(), "acme", "nonexistent")
	assert.True(t, errkind.Is(err, errkind.NotFound))
}

func TestDeployKeyList(t *testing.T) {
	db := testDB(t)
	tenants := NewTenantStore(db)
	keys := NewDeployKeyStore(db)
	ctx := context.Background()

	require.NoError(t, tenants.Create(ctx, model.Tenant{Label: "acme", Domain: "acme.example.com", CreatedAt: time.Now()}))
	require.NoError(t, keys.Create(ctx, model.DeployKey{Tenant: "acme", KeyHash: model.HashDeployKey("a"), Label: "a", CreatedAt: time.Now()}))
	require.NoError(t, keys.Create(ctx, model.DeployKey{Tenant: "acme", KeyHash: model.HashDeployKey("b"), Label: "b", CreatedAt: time.Now()}))

	list, err := keys.List(ctx, "acme")
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestDeployKeyExpired(t *testing.T) {
	k := model.DeployKey{ExpiresAt: time.Now().Add(-time.Minute)}
	assert.True(t, k.Expired(time.Now()))

	never := model.DeployKey{}
	assert.False(t, never.Expired(time.Now()))
}
