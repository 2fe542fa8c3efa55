// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package logging

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	records []EventRecord
}

func (s *recordingSink) RecordEvent(_ context.Context, rec EventRecord) error {
	s.records = append(s.records, rec)
	return nil
}

func TestEventLogHandlerForwardsWarnAndAbove(t *testing.T) {
	sink := &recordingSink{}
	base := slog.NewTextHandler(io.Discard, nil)
	handler := NewEventLogHandler(base, sink, slog.LevelWarn)
	logger := slog.New(handler)

	logger.Info("routine derivation resolved")
	logger.Warn("derivation producer retried", "fingerprint", "abc123")
	logger.Error("revision load failed invariant check")

	require.Len(t, sink.records, 2)
	assert.Equal(t, "derivation producer retried", sink.records[0].Message)
	assert.Equal(t, "abc123", sink.records[0].Attrs["fingerprint"])
	assert.Equal(t, "revision load failed invariant check", sink.records[1].Message)
}
