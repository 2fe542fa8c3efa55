// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPasswordRoundTrips(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)

	ok, err := CheckPassword("correct horse battery staple", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = CheckPassword("wrong password", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashPasswordProducesUniqueSaltsPerCall(t *testing.T) {
	h1, err := HashPassword("same-password")
	require.NoError(t, err)
	h2, err := HashPassword("same-password")
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2, "each hash must use a fresh random salt")
}

func TestCheckPasswordRejectsMalformedHash(t *testing.T) {
	_, err := CheckPassword("password", "not-a-real-hash")
	assert.Error(t, err)
}

func TestNeedsRehashFalseForCurrentParameters(t *testing.T) {
	hash, err := HashPassword("password")
	require.NoError(t, err)
	assert.False(t, NeedsRehash(hash))
}

func TestNeedsRehashTrueForDifferentParameters(t *testing.T) {
	assert.True(t, NeedsRehash("$argon2id$v=19$m=4096,t=1,p=1$c2FsdA$aGFzaA"))
	assert.True(t, NeedsRehash("garbage"))
}
