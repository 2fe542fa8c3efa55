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

// TenantStore provides CRUD over the tenants table.
type TenantStore struct {
	db *sql.DB
}

func NewTenantStore(db *sql.DB) *TenantStore { return &TenantStore{db: db} }

// Create inserts a new tenant row.
func (s *TenantStore) Create(ctx context.Context, t model.Tenant) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenants (label, domain, created_at) VALUES (?, ?, ?)`,
		t.Label, t.Domain, t.CreatedAt,
	)
	if err != nil {
		return errkind.Wrap(errkind.Transient, "inserting tenant", err)
	}
	return nil
}

// ByDomain resolves a tenant by its serving domain, used by the edge's
// host-based tenant resolution middleware.
func (s *TenantStore) ByDomain(ctx context.Context, domain string) (model.Tenant, error) {
	var t model.Tenant
	err := s.db.QueryRowContext(ctx,
		`SELECT label, domain, created_at FROM tenants WHERE domain = ?`, domain,
	).Scan(&t.Label, &t.Domain, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Tenant{}, errkind.New(errkind.NotFound, fmt.Sprintf("no tenant for domain %q", domain))
	}
	if err != nil {
		return model.Tenant{}, errkind.Wrap(errkind.Transient, "querying tenant by domain", err)
	}
	return t, nil
}

// ByLabel resolves a tenant by its label.
func (s *TenantStore) ByLabel(ctx context.Context, label string) (model.Tenant, error) {
	var t model.Tenant
	err := s.db.QueryRowContext(ctx,
		`SELECT label, domain, created_at FROM tenants WHERE label = ?`, label,
	).Scan(&t.Label, &t.Domain, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Tenant{}, errkind.New(errkind.NotFound, fmt.Sprintf("no tenant %q", label))
	}
	if err != nil {
		return model.Tenant{}, errkind.Wrap(errkind.Transient, "querying tenant by label", err)
	}
	return t, nil
}

// List returns every known tenant, ordered by label; the retention
// scheduler sweeps each one.
func (s *TenantStore) List(ctx context.Context) ([]model.Tenant, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT label, domain, created_at FROM tenants ORDER BY label`)
	if err != nil {
		return nil, errkind.Wrap(errkind.Transient, "listing tenants", err)
	}
	defer rows.Close()

	var out []model.Tenant
	for rows.Next() {
		var t model.Tenant
		if err := rows.Scan(&t.Label, &t.Domain, &t.CreatedAt); err != nil {
			return nil, errkind.Wrap(errkind.Transient, "scanning tenant row", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
