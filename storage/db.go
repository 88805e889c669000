// Package storage persists audit events and face gallery in SQLite
package storage

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"time"

	"github.com/LdDl/mot-sentry/identity"
	"github.com/LdDl/mot-sentry/mot"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// DB wraps SQLite handle
type DB struct {
	*sql.DB
}

// Open opens (or creates) database at path and applies schema
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't open audit store '%s'", path)
	}
	// Single writer
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "Can't apply schema")
	}
	return &DB{db}, nil
}

// Emit implements mot.EventSink
func (db *DB) Emit(event mot.Event) error {
	details, err := json.Marshal(event.Details)
	if err != nil {
		return errors.Wrapf(err, "Can't marshal details of %s", event.Type)
	}
	_, err = db.Exec(
		`INSERT INTO events (event_id, event_type, timestamp, details) VALUES (?, ?, ?, ?)`,
		event.ID.String(), string(event.Type), event.Timestamp.UTC().Format(time.RFC3339Nano), string(details),
	)
	if err != nil {
		return errors.Wrapf(err, "Can't store event %s", event.ID)
	}
	return nil
}

// Events returns stored events in insertion order. Empty eventType matches every type, non-positive limit means no limit.
// Numbers in details are decoded as float64.
func (db *DB) Events(eventType mot.EventType, limit int) ([]mot.Event, error) {
	query := `SELECT event_id, event_type, timestamp, details FROM events`
	args := make([]any, 0, 2)
	if eventType != "" {
		query += ` WHERE event_type = ?`
		args = append(args, string(eventType))
	}
	query += ` ORDER BY rowid`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "Can't query events")
	}
	defer rows.Close()

	events := make([]mot.Event, 0)
	for rows.Next() {
		var id, typ, ts, details string
		if err := rows.Scan(&id, &typ, &ts, &details); err != nil {
			return nil, errors.Wrap(err, "Can't scan event")
		}
		event := mot.Event{Type: mot.EventType(typ)}
		if event.ID, err = uuid.Parse(id); err != nil {
			return nil, errors.Wrapf(err, "Bad event id '%s'", id)
		}
		if event.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, errors.Wrapf(err, "Bad timestamp of event %s", id)
		}
		if err := json.Unmarshal([]byte(details), &event.Details); err != nil {
			return nil, errors.Wrapf(err, "Bad details of event %s", id)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// SaveEntry inserts or replaces gallery entry by name
func (db *DB) SaveEntry(entry identity.Entry, now time.Time) error {
	embedding, err := json.Marshal(entry.Embedding)
	if err != nil {
		return errors.Wrapf(err, "Can't marshal embedding of '%s'", entry.Name)
	}
	_, err = db.Exec(
		`INSERT INTO gallery (name, role, embedding, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET role = excluded.role, embedding = excluded.embedding, updated_at = excluded.updated_at`,
		entry.Name, entry.Role.String(), string(embedding), now.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return errors.Wrapf(err, "Can't save gallery entry '%s'", entry.Name)
	}
	return nil
}

// Entries returns every stored gallery entry ordered by name
func (db *DB) Entries() ([]identity.Entry, error) {
	rows, err := db.Query(`SELECT name, role, embedding FROM gallery ORDER BY name`)
	if err != nil {
		return nil, errors.Wrap(err, "Can't query gallery")
	}
	defer rows.Close()

	entries := make([]identity.Entry, 0)
	for rows.Next() {
		var name, role, embedding string
		if err := rows.Scan(&name, &role, &embedding); err != nil {
			return nil, errors.Wrap(err, "Can't scan gallery entry")
		}
		entry := identity.Entry{Name: name}
		if entry.Role, err = mot.ParseRole(role); err != nil {
			return nil, errors.Wrapf(err, "Gallery entry '%s'", name)
		}
		if err := json.Unmarshal([]byte(embedding), &entry.Embedding); err != nil {
			return nil, errors.Wrapf(err, "Bad embedding of '%s'", name)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// LoadGallery adds every stored entry to gallery and returns number of loaded entries
func (db *DB) LoadGallery(gallery *identity.Gallery) (int, error) {
	entries, err := db.Entries()
	if err != nil {
		return 0, err
	}
	for _, entry := range entries {
		if err := gallery.Add(entry); err != nil {
			return 0, errors.Wrap(err, "Can't load gallery")
		}
	}
	return len(entries), nil
}

// Enroll adds entry to gallery, persists it and emits ENTRY_ADDED
func (db *DB) Enroll(gallery *identity.Gallery, entry identity.Entry, sink mot.EventSink, now time.Time) error {
	if err := gallery.Add(entry); err != nil {
		return errors.Wrapf(err, "Can't enroll '%s'", entry.Name)
	}
	if err := db.SaveEntry(entry, now); err != nil {
		return err
	}
	if sink == nil {
		return nil
	}
	return sink.Emit(mot.NewEntryAddedEvent(entry.Name, entry.Role, now))
}
