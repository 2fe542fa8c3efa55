// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/home-cms/home/internal/errkind"
	"github.com/home-cms/home/internal/logging"
)

// EventStore persists WARN+ log records to the durable event_log table,
// implementing logging.EventSink so internal/logging.EventLogHandler can
// forward operationally significant records (revision promotions, GC
// runs, derivation failures, auth exchanges) past process stderr.
type EventStore struct {
	db *sql.DB
}

func NewEventStore(db *sql.DB) *EventStore { return &EventStore{db: db} }

// RecordEvent implements logging.EventSink.
func (s *EventStore) RecordEvent(ctx context.Context, rec logging.EventRecord) error {
	attrsJSON, err := json.Marshal(rec.Attrs)
	if err != nil {
		attrsJSON = []byte("{}")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO event_log (level, message, attrs, created_at) VALUES (?, ?, ?, ?)`,
		rec.Level, rec.Message, string(attrsJSON), time.Now(),
	)
	if err != nil {
		return errkind.Wrap(errkind.Transient, "recording event", err)
	}
	return nil
}

// EventRow is one entry read back from the event log.
type EventRow struct {
	ID        int64
	Level     string
	Message   string
	Attrs     string
	CreatedAt time.Time
}

// Recent returns the most recent limit event log rows, newest first.
func (s *EventStore) Recent(ctx context.Context, limit int) ([]EventRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, level, message, attrs, created_at FROM event_log ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, errkind.Wrap(errkind.Transient, "listing events", err)
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(&e.ID, &e.Level, &e.Message, &e.Attrs, &e.CreatedAt); err != nil {
			return nil, errkind.Wrap(errkind.Transient, "scanning event", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

var _ logging.EventSink = (*EventStore)(nil)
