// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package session implements two distinct session concepts:
// a stateless, HMAC-signed visitor token (this file) the
// edge can validate without a round trip to any store, and the origin's
// own server-side browser session for its admin/preview surface
// (admin.go, adapted from the teacher's scs-based internal/session).
package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"
)

// TTL is how long a signed visitor token remains valid after IssuedAt.
const TTL = 24 * time.Hour

// Claims is the payload of a visitor session token: which tenant issued
// it, which external-identity subject it names, and through which
// provider, per model.Session.
type Claims struct {
	Tenant   string
	Subject  string
	Provider string
	IssuedAt time.Time
}

// KeyDeriver derives a per-tenant HMAC signing key from a single root
// secret via HKDF, so rotating one tenant's key never requires touching
// another's and no raw root secret is ever used directly as a MAC key.
type KeyDeriver struct {
	root []byte
}

// NewKeyDeriver wraps a root secret (e.g. HOME_SESSION_SECRET, which
// internal/config reads from the environment).
func NewKeyDeriver(root []byte) *KeyDeriver {
	return &KeyDeriver{root: root}
}

// DeriveKey returns the 32-byte signing key for tenant.
func (k *KeyDeriver) DeriveKey(tenant string) ([]byte, error) {
	reader := hkdf.New(sha256.New, k.root, nil, []byte("home-cms/session/"+tenant))
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("deriving session key for tenant %q: %w", tenant, err)
	}
	return key, nil
}

// Issue signs claims and returns a compact token string:
// base64(tenant|subject|provider|issued_at_unix).base64(hmac).
func Issue(key []byte, claims Claims) string {
	payload := encodePayload(claims)
	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	sig := mac.Sum(nil)
	return b64(payload) + "." + b64(sig)
}

// Verify checks a token's signature against key and, if valid and
// unexpired, returns its Claims.
func Verify(key []byte, token string) (Claims, error) {
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return Claims{}, fmt.Errorf("session: malformed token")
	}
	payload, err := unb64(parts[0])
	if err != nil {
		return Claims{}, fmt.Errorf("session: malformed payload: %w", err)
	}
	sig, err := unb64(parts[1])
	if err != nil {
		return Claims{}, fmt.Errorf("session: malformed signature: %w", err)
	}

	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	expected := mac.Sum(nil)
	if !hmac.Equal(sig, expected) {
		return Claims{}, fmt.Errorf("session: signature mismatch")
	}

	claims, err := decodePayload(payload)
	if err != nil {
		return Claims{}, err
	}
	if time.Since(claims.IssuedAt) > TTL {
		return Claims{}, fmt.Errorf("session: token expired")
	}
	return claims, nil
}

func encodePayload(c Claims) []byte {
	var buf []byte
	buf = appendLenPrefixed(buf, []byte(c.Tenant))
	buf = appendLenPrefixed(buf, []byte(c.Subject))
	buf = appendLenPrefixed(buf, []byte(c.Provider))
	ts := make([]byte, 8)
	binary.BigEndian.PutUint64(ts, uint64(c.IssuedAt.Unix()))
	buf = append(buf, ts...)
	return buf
}

func decodePayload(buf []byte) (Claims, error) {
	tenant, rest, err := readLenPrefixed(buf)
	if err != nil {
		return Claims{}, err
	}
	subject, rest, err := readLenPrefixed(rest)
	if err != nil {
		return Claims{}, err
	}
	provider, rest, err := readLenPrefixed(rest)
	if err != nil {
		return Claims{}, err
	}
	if len(rest) != 8 {
		return Claims{}, fmt.Errorf("session: truncated timestamp")
	}
	issuedAt := time.Unix(int64(binary.BigEndian.Uint64(rest)), 0).UTC()
	return Claims{Tenant: string(tenant), Subject: string(subject), Provider: string(provider), IssuedAt: issuedAt}, nil
}

func appendLenPrefixed(buf, field []byte) []byte {
	var lenBytes [2]byte
	binary.BigEndian.PutUint16(lenBytes[:], uint16(len(field)))
	buf = append(buf, lenBytes[:]...)
	return append(buf, field...)
}

func readLenPrefixed(buf []byte) (field, rest []byte, err error) {
	if len(buf) < 2 {
		return nil, nil, fmt.Errorf("session: truncated field length")
	}
	n := int(binary.BigEndian.Uint16(buf[:2]))
	buf = buf[2:]
	if len(buf) < n {
		return nil, nil, fmt.Errorf("session: truncated field")
	}
	return buf[:n], buf[n:], nil
}

func b64(b []byte) string            { return base64.RawURLEncoding.EncodeToString(b) }
func unb64(s string) ([]byte, error) { return base64.RawURLEncoding.DecodeString(s) }
