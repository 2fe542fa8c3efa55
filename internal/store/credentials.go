// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/home-cms/home/internal/errkind"
	"github.com/home-cms/home/internal/model"
)

// CredentialStore provides CRUD over the credentials table: one row per
// (tenant, provider, subject) identity-provider link.
type CredentialStore struct {
	db *sql.DB
}

func NewCredentialStore(db *sql.DB) *CredentialStore { return &CredentialStore{db: db} }

// Upsert inserts or replaces a credential, used both on first sign-in and
// on lazy background token refresh.
func (s *CredentialStore) Upsert(ctx context.Context, c model.Credential) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (tenant, provider, subject, display_name, tiers, refresh_token, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant, provider, subject) DO UPDATE SET
			display_name = excluded.display_name,
			tiers = excluded.tiers,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at
	`, c.Tenant, c.Provider, c.Subject, c.DisplayName, strings.Join(c.Tiers, ","), c.RefreshToken, c.ExpiresAt)
	if err != nil {
		return errkind.Wrap(errkind.Transient, "upserting credential", err)
	}
	return nil
}

// Get retrieves a credential by its natural key.
func (s *CredentialStore) Get(ctx context.Context, tenant, provider, subject string) (model.Credential, error) {
	var c model.Credential
	var tiers string
	err := s.db.QueryRowContext(ctx, `
		SELECT tenant, provider, subject, display_name, tiers, refresh_token, expires_at
		FROM credentials WHERE tenant = ? AND provider = ? AND subject = ?
	`, tenant, provider, subject).Scan(&c.Tenant, &c.Provider, &c.Subject, &c.DisplayName, &tiers, &c.RefreshToken, &c.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Credential{}, errkind.New(errkind.NotFound, fmt.Sprintf("no credential for %s/%s/%s", tenant, provider, subject))
	}
	if err != nil {
		return model.Credential{}, errkind.Wrap(errkind.Transient, "querying credential", err)
	}
	if tiers != "" {
		c.Tiers = strings.Split(tiers, ",")
	}
	return c, nil
}

// Delete removes a credential, e.g. on sign-out or revocation.
func (s *CredentialStore) Delete(ctx context.Context, tenant, provider, subject string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM credentials WHERE tenant = ? AND provider = ? AND subject = ?`,
		tenant, provider, subject,
	)
	if err != nil {
		return errkind.Wrap(errkind.Transient, "deleting credential", err)
	}
	return nil
}
