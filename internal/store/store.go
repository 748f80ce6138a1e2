// Package store keeps a local index of alert events and their artifacts so
// recordings can be browsed without scanning the output directories.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Event is one indexed alert with its saved artifacts.
type Event struct {
	ID             string         `db:"id"`
	OpenedAt       time.Time      `db:"opened_at"`
	ClosedAt       sql.NullTime   `db:"closed_at"`
	PeakConfidence float64        `db:"peak_confidence"`
	SnapshotPath   sql.NullString `db:"snapshot_path"`
	ClipPath       sql.NullString `db:"clip_path"`
	ClipFrames     int            `db:"clip_frames"`
}

// Store wraps the SQLite connection.
type Store struct {
	db *sqlx.DB
}

// Open creates the database file (and parent directories) if needed and
// initializes the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory %s: %w", dir, err)
		}
	}
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open event store %s: %w", path, err)
	}
	// Single writer, many cheap readers: the capture engine is the only
	// process touching this file.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init event store schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		opened_at TIMESTAMP NOT NULL,
		closed_at TIMESTAMP,
		peak_confidence REAL NOT NULL DEFAULT 0,
		snapshot_path TEXT,
		clip_path TEXT,
		clip_frames INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_events_opened_at ON events(opened_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveEvent inserts a newly opened alert. snapshotPath may be empty when
// snapshots are disabled.
func (s *Store) SaveEvent(ctx context.Context, id uuid.UUID, openedAt time.Time, confidence float64, snapshotPath string) error {
	query := `
		INSERT INTO events (id, opened_at, peak_confidence, snapshot_path)
		VALUES (?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		id.String(), openedAt.UTC(), confidence, nullable(snapshotPath))
	if err != nil {
		return fmt.Errorf("insert event %s: %w", id, err)
	}
	return nil
}

// CloseEvent records when the alert closed and its peak confidence.
func (s *Store) CloseEvent(ctx context.Context, id uuid.UUID, closedAt time.Time, peak float64) error {
	query := `
		UPDATE events SET closed_at = ?, peak_confidence = ?
		WHERE id = ?
	`
	res, err := s.db.ExecContext(ctx, query, closedAt.UTC(), peak, id.String())
	if err != nil {
		return fmt.Errorf("close event %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("close event %s: no such event", id)
	}
	return nil
}

// AttachClip records the finished clip for an event.
func (s *Store) AttachClip(ctx context.Context, id uuid.UUID, path string, frames int) error {
	query := `
		UPDATE events SET clip_path = ?, clip_frames = ?
		WHERE id = ?
	`
	res, err := s.db.ExecContext(ctx, query, path, frames, id.String())
	if err != nil {
		return fmt.Errorf("attach clip to event %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("attach clip to event %s: no such event", id)
	}
	return nil
}

// GetEvent fetches one event by ID; returns nil when not found.
func (s *Store) GetEvent(ctx context.Context, id uuid.UUID) (*Event, error) {
	var ev Event
	err := s.db.GetContext(ctx, &ev, `SELECT * FROM events WHERE id = ?`, id.String())
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get event %s: %w", id, err)
	}
	return &ev, nil
}

// RecentEvents returns up to limit events, newest first.
func (s *Store) RecentEvents(ctx context.Context, limit int) ([]Event, error) {
	var events []Event
	query := `SELECT * FROM events ORDER BY opened_at DESC LIMIT ?`
	if err := s.db.SelectContext(ctx, &events, query, limit); err != nil {
		return nil, fmt.Errorf("list recent events: %w", err)
	}
	return events, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
