// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/home-cms/home/internal/logging"
)

func TestEventStoreRecordAndRecent(t *testing.T) {
	db := testDB(t)
	events := NewEventStore(db)
	ctx := context.Background()

	require.NoError(t, events.RecordEvent(ctx, logging.EventRecord{
		Level:   "warn",
		Message: "derivation producer failed",
		Attrs:   map[string]any{"tenant": "acme", "fingerprint": "abc123"},
	}))
	require.NoError(t, events.RecordEvent(ctx, logging.EventRecord{
		Level:   "error",
		Message: "revision promotion failed",
	}))

	rows, err := events.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "revision promotion failed", rows[0].Message)
	assert.Equal(t, "derivation producer failed", rows[1].Message)
}

func TestEventStoreRecentRespectsLimit(t *testing.T) {
	db := testDB(t)
	events := NewEventStore(db)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, events.RecordEvent(ctx, logging.EventRecord{Level: "info", Message: "tick"}))
	}

	rows, err := events.Recent(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}
