package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aretw0/goop/pkg/domain"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	session_id TEXT PRIMARY KEY,
	next_node  TEXT NOT NULL,
	status     TEXT NOT NULL,
	version    INTEGER NOT NULL,
	body       TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);
`

// Store implements ports.CheckpointStore on a SQLite database.
// The checkpoint is stored as JSON; node, status and version are mirrored
// in columns for ad-hoc inspection.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at path and ensures the schema.
// Use ":memory:" for a throwaway database.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases alive and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save upserts the checkpoint.
func (s *Store) Save(ctx context.Context, sessionID string, cp *domain.Checkpoint) error {
	body, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (session_id, next_node, status, version, body, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(session_id) DO UPDATE SET
			next_node = excluded.next_node,
			status = excluded.status,
			version = excluded.version,
			body = excluded.body,
			updated_at = excluded.updated_at
	`, sessionID, string(cp.Next), string(cp.Status), cp.Version, string(body))
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// Load retrieves the checkpoint.
func (s *Store) Load(ctx context.Context, sessionID string) (*domain.Checkpoint, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM checkpoints WHERE session_id = ?`, sessionID).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	var cp domain.Checkpoint
	if err := json.Unmarshal([]byte(body), &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}

// Delete removes the checkpoint.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// List returns all session IDs ordered by ID.
func (s *Store) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT session_id FROM checkpoints ORDER BY session_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
