// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package model holds the data types shared across the origin and edge:
// tenants, revisions, pages, assets, derivations, manifests, credentials
// and sessions.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Tenant is a namespace identified by a DNS-safe label. It owns
// revisions, credentials, and a private object-store prefix.
type Tenant struct {
	Label     string    // DNS-safe, e.g. "acme"
	Domain    string    // primary serving host, e.g. "acme.example.com"
	CreatedAt time.Time
}

// ObjectStorePrefix returns the tenant's private key prefix.
func (t Tenant) ObjectStorePrefix() string {
	return "tenants/" + t.Label
}

// RevisionID is a 26-character Crockford-base32, time-sortable identifier.
type RevisionID string

func (r RevisionID) String() string { return string(r) }

// Revision is a strongly-identified immutable snapshot of a tenant's site.
type Revision struct {
	ID          RevisionID
	Tenant      string
	CreatedAt   time.Time
	PageGraphKey string // object-store key of the root page-graph blob
	TemplateSetKey string
	AssetManifestKey string
	DerivationManifestKey string
	Fingerprint string // hash of all inputs that produced this revision
}

// Page is a content document belonging to exactly one revision.
type Page struct {
	ContentPath string // source location relative to the tenant's content root
	Route       string // URL it serves
	Title       string
	Template    string // name of the template this page renders through; empty uses the revision's default
	PublishedAt time.Time
	UpdatedAt   *time.Time
	Tags        []string
	Draft       bool
	Archived    bool
	Body        string // rendered HTML
	PlainText   string
	ReadingTimeMinutes int
	TOC         []TOCEntry
	ChildPaths  []string // ordered content-paths of children
}

// TOCEntry is one table-of-contents entry extracted from a page's body.
type TOCEntry struct {
	Level int
	Title string
	Anchor string
}

// Asset is a binary file addressed by content-path and content hash.
type Asset struct {
	ContentPath string
	SHA256      string // hex
	ContentType string
	Width       int // 0 if not applicable
	Height      int
}

// ObjectKey returns the content-addressed object store key for the asset bytes.
func (a Asset) ObjectKey() string {
	return "assets/" + a.SHA256
}

// Derivation is the output of applying a pure transform to one or more assets.
type Derivation struct {
	Fingerprint string // hex, 256-bit
	ContentType string
	Size        int64
}

// ObjectKey returns the content-addressed object store key for the derivation bytes.
func (d Derivation) ObjectKey() string {
	return "derivations/" + d.Fingerprint
}

// ManifestKey identifies a logical (content-path, transform, params) tuple
// inside a revision's derivation manifest.
type ManifestKey struct {
	ContentPath string
	TransformID string
	ParamsCanon string // canonical serialization of the transform params
}

// Credential links a visitor to an external identity provider account.
type Credential struct {
	Tenant       string
	Provider     string
	Subject      string
	DisplayName  string
	Tiers        []string
	RefreshToken []byte // stored as given; CredentialStore does not encrypt it
	ExpiresAt    time.Time
}

// Expired reports whether the provider access token behind this credential
// has expired and should be refreshed lazily on next use.
func (c Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// Session maps a browser to a credential via a short-lived signed token.
type Session struct {
	Tenant    string
	Subject   string
	Provider  string
	IssuedAt  time.Time
}

// DeployKey authenticates a tenant's deploy-ingest calls to the origin,
// validated against per-tenant credentials. Only the SHA-256 hash of the
// key is ever stored.
type DeployKey struct {
	Tenant    string
	KeyHash   string
	Label     string // human-readable identifier, e.g. "ci-pipeline"
	CreatedAt time.Time
	ExpiresAt time.Time // zero means no expiry
	Revoked   bool
}

// Expired reports whether the deploy key has passed its expiry time.
func (k DeployKey) Expired(now time.Time) bool {
	return !k.ExpiresAt.IsZero() && now.After(k.ExpiresAt)
}

// HashDeployKey returns the SHA-256 hex digest of a raw deploy key, the
// form persisted in the store and compared against on each request.
func HashDeployKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
