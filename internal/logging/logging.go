// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package logging configures log/slog for the origin and edge, and
// provides an EventLogHandler that forwards WARN+ records to a durable
// event log (revision promotions, GC runs, derivation failures, auth
// exchanges), mirroring the teacher's internal/logging.EventLogHandler
// retargeted from CMS admin events to the new domain's events.
package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// New builds the base slog.Logger for a process, with a JSON handler in
// production and a human-readable text handler in development.
func New(levelName string, dev bool) *slog.Logger {
	level := parseLevel(levelName)
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if dev {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// EventRecord is one entry written to the durable event log.
type EventRecord struct {
	Level   string
	Message string
	Attrs   map[string]any
}

// EventSink persists EventRecords. internal/store implements this against
// the relational event_log table.
type EventSink interface {
	RecordEvent(ctx context.Context, rec EventRecord) error
}

// EventLogHandler wraps another slog.Handler and also writes WARN+ records
// to an EventSink, so operational incidents (derivation producer
// failures, revision load invariant violations, GC anomalies) survive
// past the process's own stderr.
type EventLogHandler struct {
	inner slog.Handler
	sink  EventSink
	level slog.Level

	mu      sync.Mutex
	dropped int // count of sink write failures, surfaced via Dropped()
}

// NewEventLogHandler wraps inner, forwarding records at level and above
// to sink.
func NewEventLogHandler(inner slog.Handler, sink EventSink, level slog.Level) *EventLogHandler {
	return &EventLogHandler{inner: inner, sink: sink, level: level}
}

func (h *EventLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *EventLogHandler) Handle(ctx context.Context, r slog.Record) error {
	if err := h.inner.Handle(ctx, r); err != nil {
		return err
	}
	if r.Level < h.level || h.sink == nil {
		return nil
	}

	attrs := make(map[string]any)
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})

	if err := h.sink.RecordEvent(ctx, EventRecord{
		Level:   r.Level.String(),
		Message: r.Message,
		Attrs:   attrs,
	}); err != nil {
		h.mu.Lock()
		h.dropped++
		h.mu.Unlock()
	}
	return nil
}

func (h *EventLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &EventLogHandler{inner: h.inner.WithAttrs(attrs), sink: h.sink, level: h.level}
}

func (h *EventLogHandler) WithGroup(name string) slog.Handler {
	return &EventLogHandler{inner: h.inner.WithGroup(name), sink: h.sink, level: h.level}
}

// Dropped returns the number of event records that failed to persist.
func (h *EventLogHandler) Dropped() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}
