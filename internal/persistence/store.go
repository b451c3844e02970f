// Package persistence holds the rotation audit store. The rotation manager
// records every failover, manual rotation and apply through the narrow
// EventRecorder interface; the gateway's status surface reads recent events
// back for operators.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/basket/clawgate/internal/config"
)

const (
	schemaVersion  = 1
	schemaChecksum = "cg-v1-rotation-events"
)

// Store is the sqlite-backed rotation audit store.
type Store struct {
	db *sql.DB
}

// DefaultDBPath returns the audit database path under the clawgate home.
func DefaultDBPath() string {
	return filepath.Join(config.HomeDir(), "clawgate.db")
}

// Open opens (and if needed creates) the audit database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		path = DefaultDBPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) init(ctx context.Context) error {
	stmts := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		`CREATE TABLE IF NOT EXISTS schema_info (
			version INTEGER NOT NULL,
			checksum TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS rotation_events (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			credential_name TEXT NOT NULL,
			credential_index INTEGER NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_rotation_events_created
			ON rotation_events(created_at DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}

	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_info").Scan(&count); err != nil {
		return fmt.Errorf("read schema info: %w", err)
	}
	if count == 0 {
		_, err := s.db.ExecContext(ctx,
			"INSERT INTO schema_info (version, checksum) VALUES (?, ?)",
			schemaVersion, schemaChecksum)
		if err != nil {
			return fmt.Errorf("write schema info: %w", err)
		}
		return nil
	}

	var version int
	var checksum string
	if err := s.db.QueryRowContext(ctx, "SELECT version, checksum FROM schema_info LIMIT 1").Scan(&version, &checksum); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("schema version mismatch: db has %d, binary expects %d", version, schemaVersion)
	}
	return nil
}

// RotationEvent is one audit row describing a pool state change.
type RotationEvent struct {
	ID              string    `json:"id"`
	Kind            string    `json:"kind"` // "failover", "manual_rotate", "apply"
	CredentialName  string    `json:"credential_name"`
	CredentialIndex int       `json:"credential_index"`
	Reason          string    `json:"reason,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// AppendRotationEvent inserts one audit row.
func (s *Store) AppendRotationEvent(ctx context.Context, ev RotationEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rotation_events (id, kind, credential_name, credential_index, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Kind, ev.CredentialName, ev.CredentialIndex, ev.Reason, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("append rotation event: %w", err)
	}
	return nil
}

// MaxEventLimit bounds how many audit rows one query may return.
const MaxEventLimit = 50

// RecentRotationEvents returns up to limit events, newest first. A
// non-positive or oversized limit falls back to MaxEventLimit.
func (s *Store) RecentRotationEvents(ctx context.Context, limit int) ([]RotationEvent, error) {
	if limit <= 0 || limit > MaxEventLimit {
		limit = MaxEventLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, credential_name, credential_index, reason, created_at
		 FROM rotation_events ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query rotation events: %w", err)
	}
	defer rows.Close()

	var events []RotationEvent
	for rows.Next() {
		var ev RotationEvent
		if err := rows.Scan(&ev.ID, &ev.Kind, &ev.CredentialName, &ev.CredentialIndex, &ev.Reason, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan rotation event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
