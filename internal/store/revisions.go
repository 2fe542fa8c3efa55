// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/home-cms/home/internal/errkind"
	"github.com/home-cms/home/internal/model"
)

// RevisionRow is one entry in a tenant's append-only revision log.
type RevisionRow struct {
	Tenant      string
	ID          model.RevisionID
	CreatedAt   sql.NullTime
	ManifestKey string
	Promoted    bool
	Retained    bool
}

// RevisionIndex is the relational half of the Revision Store (spec.md
// §4.4): the append-only log of submitted revisions and the current
// pointer, both of which need transactional read-modify-write that
// objectstore.Store's put-if-absent primitive doesn't offer.
type RevisionIndex struct {
	db *sql.DB
}

func NewRevisionIndex(db *sql.DB) *RevisionIndex { return &RevisionIndex{db: db} }

// Append records a newly submitted (not yet promoted) revision.
func (idx *RevisionIndex) Append(ctx context.Context, tenant string, id model.RevisionID, manifestKey string, createdAt time.Time) error {
	_, err := idx.db.ExecContext(ctx,
		`INSERT INTO revisions (tenant, revid, created_at, manifest_key) VALUES (?, ?, ?, ?)`,
		tenant, string(id), createdAt, manifestKey,
	)
	if err != nil {
		return errkind.Wrap(errkind.Transient, "appending revision", err)
	}
	return nil
}

// ManifestKey looks up the manifest key recorded for a submitted revision.
func (idx *RevisionIndex) ManifestKey(ctx context.Context, tenant string, id model.RevisionID) (string, error) {
	var key string
	err := idx.db.QueryRowContext(ctx,
		`SELECT manifest_key FROM revisions WHERE tenant = ? AND revid = ?`, tenant, string(id),
	).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", errkind.New(errkind.NotFound, fmt.Sprintf("no revision %s/%s", tenant, id))
	}
	if err != nil {
		return "", errkind.Wrap(errkind.Transient, "querying manifest key", err)
	}
	return key, nil
}

// PromoteTx atomically swaps the tenant's current pointer to id and marks
// the row promoted, inside one transaction — this is the conditional
// write on revisions/<tenant>/CURRENT, expressed
// here as a SQL transaction rather than an object-store conditional put,
// since the pointer is mutable state, not content-addressed.
func (idx *RevisionIndex) PromoteTx(ctx context.Context, tenant string, id model.RevisionID) error {
	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return errkind.Wrap(errkind.Transient, "beginning promote transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE revisions SET promoted = 1 WHERE tenant = ? AND revid = ?`, tenant, string(id),
	); err != nil {
		return errkind.Wrap(errkind.Transient, "marking revision promoted", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO current_revision (tenant, revid) VALUES (?, ?)
		ON CONFLICT (tenant) DO UPDATE SET revid = excluded.revid
	`, tenant, string(id)); err != nil {
		return errkind.Wrap(errkind.Transient, "swapping current pointer", err)
	}

	if err := tx.Commit(); err != nil {
		return errkind.Wrap(errkind.Transient, "committing promote transaction", err)
	}
	return nil
}

// Current returns the tenant's currently promoted revision id.
func (idx *RevisionIndex) Current(ctx context.Context, tenant string) (model.RevisionID, error) {
	var revid string
	err := idx.db.QueryRowContext(ctx,
		`SELECT revid FROM current_revision WHERE tenant = ?`, tenant,
	).Scan(&revid)
	if errors.Is(err, sql.ErrNoRows) {
		return "", errkind.New(errkind.NotFound, fmt.Sprintf("no current revision for tenant %q", tenant))
	}
	if err != nil {
		return "", errkind.Wrap(errkind.Transient, "querying current revision", err)
	}
	return model.RevisionID(revid), nil
}

// List returns every submitted revision for tenant, most recent first.
func (idx *RevisionIndex) List(ctx context.Context, tenant string) ([]RevisionRow, error) {
	rows, err := idx.db.QueryContext(ctx, `
		SELECT tenant, revid, created_at, manifest_key, promoted, retained
		FROM revisions WHERE tenant = ? ORDER BY created_at DESC
	`, tenant)
	if err != nil {
		return nil, errkind.Wrap(errkind.Transient, "listing revisions", err)
	}
	defer rows.Close()

	var out []RevisionRow
	for rows.Next() {
		var r RevisionRow
		var revid string
		if err := rows.Scan(&r.Tenant, &revid, &r.CreatedAt, &r.ManifestKey, &r.Promoted, &r.Retained); err != nil {
			return nil, errkind.Wrap(errkind.Transient, "scanning revision row", err)
		}
		r.ID = model.RevisionID(revid)
		out = append(out, r)
	}
	return out, rows.Err()
}

// MarkRetained flags a revision so retention GC (revision.Store.Retain)
// never deletes it, on top of the policy's keep-last-N and pinned
// revisions. Nothing in the module calls it.
func (idx *RevisionIndex) MarkRetained(ctx context.Context, tenant string, id model.RevisionID, retained bool) error {
	_, err := idx.db.ExecContext(ctx,
		`UPDATE revisions SET retained = ? WHERE tenant = ? AND revid = ?`, retained, tenant, string(id),
	)
	if err != nil {
		return errkind.Wrap(errkind.Transient, "updating retention flag", err)
	}
	return nil
}

// Delete removes a revision's log row after its manifest and any
// unreferenced derivations/assets have been garbage collected.
func (idx *RevisionIndex) Delete(ctx context.Context, tenant string, id model.RevisionID) error {
	_, err := idx.db.ExecContext(ctx,
		`DELETE FROM revisions WHERE tenant = ? AND revid = ?`, tenant, string(id),
	)
	if err != nil {
		return errkind.Wrap(errkind.Transient, "deleting revision row", err)
	}
	return nil
}
