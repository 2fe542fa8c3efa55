// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/home-cms/home/internal/errkind"
	"github.com/home-cms/home/internal/model"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	f, err := os.CreateTemp("", "home-store-test-*.db")
	require.NoError(t, err)
	path := f.Name()
	f.Close()

	db, err := Open(DialectSQLite, path, DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, Migrate(db, DialectSQLite))

	t.Cleanup(func() {
		db.Close()
		os.Remove(path)
	})
	return db
}

func TestTenantCreateAndLookup(t *testing.T) {
	db := testDB(t)
	tenants := NewTenantStore(db)
	ctx := context.Background()

	require.NoError(t, tenants.Create(ctx, model.Tenant{Label: "acme", Domain: "acme.example.com", CreatedAt: time.Now()}))

	byDomain, err := tenants.ByDomain(ctx, "acme.example.com")
	require.NoError(t, err)
	assert.Equal(t, "acme", byDomain.Label)

	byLabel, err := tenants.ByLabel(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "acme.example.com", byLabel.Domain)

	_, err = tenants.ByDomain(ctx, "unknown.example.com")
	assert.True(t, errkind.Is(err, errkind.NotFound))
}

func TestCredentialUpsertIsIdempotentAndUpdates(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	require.NoError(t, NewTenantStore(db).Create(ctx, model.Tenant{Label: "acme", Domain: "acme.example.com", CreatedAt: time.Now()}))

	creds := NewCredentialStore(db)
	c := model.Credential{Tenant: "acme", Provider: "github", Subject: "u1", DisplayName: "Ada", Tiers: []string{"free"}}
	require.NoError(t, creds.Upsert(ctx, c))

	c.DisplayName = "Ada Lovelace"
	c.Tiers = []string{"free", "pro"}
	require.NoError(t, creds.Upsert(ctx, c))

	got, err := creds.Get(ctx, "acme", "github", "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", got.DisplayName)
	assert.Equal(t, []string{"free", "pro"}, got.Tiers)
}

func TestRevisionIndexSubmitAndPromote(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	require.NoError(t, NewTenantStore(db).Create(ctx, model.Tenant{Label: "acme", Domain: "acme.example.com", CreatedAt: time.Now()}))

	idx := NewRevisionIndex(db)
	id := model.RevisionID("01ARZ3NDEKTSV4RRFFQ69G5FAV")
	require.NoError(t, idx.Append(ctx, "acme", id, "revisions/acme/01ARZ.../manifest", time.Now()))

	_, err := idx.Current(ctx, "acme")
	assert.True(t, errkind.Is(err, errkind.NotFound), "no revision should be current before promotion")

	require.NoError(t, idx.PromoteTx(ctx, "acme", id))

	current, err := idx.Current(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, id, current)

	rows, err := idx.List(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Promoted)
}

func TestRevisionIndexPromoteSwapsPointer(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	require.NoError(t, NewTenantStore(db).Create(ctx, model.Tenant{Label: "acme", Domain: "acme.example.com", CreatedAt: time.Now()}))
	idx := NewRevisionIndex(db)

	first := model.RevisionID("01ARZ3NDEKTSV4RRFFQ69G5FAV")
	second := model.RevisionID("01BX5ZZKBKACTAV9WEVGEMMVRZ")
	require.NoError(t, idx.Append(ctx, "acme", first, "m1", time.Now()))
	require.NoError(t, idx.Append(ctx, "acme", second, "m2", time.Now()))

	require.NoError(t, idx.PromoteTx(ctx, "acme", first))
	require.NoError(t, idx.PromoteTx(ctx, "acme", second))

	current, err := idx.Current(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, second, current)
}
