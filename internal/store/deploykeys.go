// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/home-cms/home/internal/errkind"
	"github.com/home-cms/home/internal/model"
)

// DeployKeyStore provides CRUD over per-tenant deploy-ingest API keys.
type DeployKeyStore struct {
	db *sql.DB
}

func NewDeployKeyStore(db *sql.DB) *DeployKeyStore { return &DeployKeyStore{db: db} }

// Create inserts a new deploy key. The caller has already hashed the raw
// key with model.HashDeployKey; the raw value is never persisted.
func (s *DeployKeyStore) Create(ctx context.Context, k model.DeployKey) error {
	var expiresAt sql.NullTime
	if !k.ExpiresAt.IsZero() {
		expiresAt = sql.NullTime{Time: k.ExpiresAt, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deploy_keys (tenant, key_hash, label, created_at, expires_at, revoked)
		VALUES (?, ?, ?, ?, ?, ?)
	`, k.Tenant, k.KeyHash, k.Label, k.CreatedAt, expiresAt, k.Revoked)
	if err != nil {
		return errkind.Wrap(errkind.Transient, "inserting deploy key", err)
	}
	return nil
}

// ByHash resolves a deploy key by its stored hash, used to authenticate an
// inbound deploy-ingest call before the raw key is discarded.
func (s *DeployKeyStore) ByHash(ctx context.Context, keyHash string) (model.DeployKey, error) {
	var k model.DeployKey
	var expiresAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT tenant, key_hash, label, created_at, expires_at, revoked
		FROM deploy_keys WHERE key_hash = ?
	`, keyHash).Scan(&k.Tenant, &k.KeyHash, &k.Label, &k.CreatedAt, &expiresAt, &k.Revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return model.DeployKey{}, errkind.New(errkind.NotFound, "no deploy key with that hash")
	}
	if err != nil {
		return model.DeployKey{}, errkind.Wrap(errkind.Transient, "querying deploy key", err)
	}
	if expiresAt.Valid {
		k.ExpiresAt = expiresAt.Time
	}
	return k, nil
}

// Revoke marks a deploy key unusable without deleting its audit trail.
func (s *DeployKeyStore) Revoke(ctx context.Context, tenant, keyHash string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE deploy_keys SET revoked = 1 WHERE tenant = ? AND key_hash = ?`,
		tenant, keyHash,
	)
	if err != nil {
		return errkind.Wrap(errkind.Transient, "revoking deploy key", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errkind.New(errkind.NotFound, fmt.Sprintf("no deploy key %s for tenant %s", keyHash, tenant))
	}
	return nil
}

// List returns every deploy key belonging to a tenant, newest first.
func (s *DeployKeyStore) List(ctx context.Context, tenant string) ([]model.DeployKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant, key_hash, label, created_at, expires_at, revoked
		FROM deploy_keys WHERE tenant = ? ORDER BY created_at DESC
	`, tenant)
	if err != nil {
		return nil, errkind.Wrap(errkind.Transient, "listing deploy keys", err)
	}
	defer rows.Close()

	var keys []model.DeployKey
	for rows.Next() {
		var k model.DeployKey
		var expiresAt sql.NullTime
		if err := rows.Scan(&k.Tenant, &k.KeyHash, &k.Label, &k.CreatedAt, &expiresAt, &k.Revoked); err != nil {
			return nil, errkind.Wrap(errkind.Transient, "scanning deploy key", err)
		}
		if expiresAt.Valid {
			k.ExpiresAt = expiresAt.Time
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
