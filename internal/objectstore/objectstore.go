// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package objectstore implements a content-addressed blob interface:
// PutIfAbsent/Get/Head/Delete/List over keys shaped
// "assets/<sha256>", "derivations/<fingerprint>", and
// "revisions/<tenant>/<revid>/manifest" or ".../CURRENT". It is the only
// path by which bytes leave or enter durable storage; every other
// component consumes it.
package objectstore

import (
	"context"
	"io"

	"github.com/home-cms/home/internal/errkind"
)

// PutStatus reports the outcome of a PutIfAbsent call.
type PutStatus int

const (
	// Created means this call wrote the bytes for the first time.
	Created PutStatus = iota
	// Existed means a value was already present under this key. If the
	// existing bytes differ from what the caller tried to write, the
	// store instead returns a Conflict-classified error (a corruption
	// signal, never retried) rather than PutStatus at all.
	Existed
)

// Metadata is returned by Head.
type Metadata struct {
	Size        int64
	ContentType string
	ETag        string // implementation-defined strong validator
}

// Entry is one (key, size) pair yielded by List.
type Entry struct {
	Key  string
	Size int64
}

// Store is the only path by which bytes leave or enter durable storage.
//
// put_if_absent is the only write: it is conditional so that concurrent
// writers never race, and its failure modes are distinguished:
// a transient I/O failure is retryable, while a Conflict
// (already present with different bytes) is a corruption signal that
// must never be retried.
type Store interface {
	// PutIfAbsent writes key only if it does not already hold different
	// bytes. If key already holds identical bytes, it returns (Existed,
	// nil) without rewriting. If key already holds different bytes, it
	// returns an errkind.Conflict error. Transient I/O failures are
	// returned as errkind.Transient, distinct from Conflict, so callers
	// know which ones are safe to retry.
	PutIfAbsent(ctx context.Context, key string, r io.Reader, size int64, contentType string) (PutStatus, error)

	// Get streams the bytes at key. A missing key is an errkind.NotFound
	// error; whether to retry a NotFound is a policy decision made above
	// this layer, so Get itself never retries.
	Get(ctx context.Context, key string) (io.ReadCloser, Metadata, error)

	// Head returns metadata for key without transferring its bytes.
	Head(ctx context.Context, key string) (Metadata, error)

	// Delete removes key. Used only by garbage collection, never during
	// serving.
	Delete(ctx context.Context, key string) error

	// List streams every (key, size) under prefix.
	List(ctx context.Context, prefix string) ([]Entry, error)
}

// AssetKey returns the object-store key for an asset's raw bytes.
func AssetKey(sha256Hex string) string { return "assets/" + sha256Hex }

// DerivationKey returns the object-store key for a derivation's bytes.
func DerivationKey(fingerprintHex string) string { return "derivations/" + fingerprintHex }

// RevisionManifestKey returns the object-store key for a revision's manifest blob.
func RevisionManifestKey(tenant, revID string) string {
	return "revisions/" + tenant + "/" + revID + "/manifest"
}

// CurrentPointerKey returns the object-store key for a tenant's CURRENT pointer.
func CurrentPointerKey(tenant string) string {
	return "revisions/" + tenant + "/CURRENT"
}

// notFound and transient are small helpers kept local to this package so
// every backend classifies its own errors the same way.
func notFound(msg string) error { return errkind.New(errkind.NotFound, msg) }

func transient(msg string, err error) error { return errkind.Wrap(errkind.Transient, msg, err) }

func conflict(msg string) error { return errkind.New(errkind.Conflict, msg) }
