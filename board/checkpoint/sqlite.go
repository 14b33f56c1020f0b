package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a Store backed by a single-file SQLite database.
//
// Zero-setup durable checkpointing for development and single-process
// deployments. WAL mode allows a resuming reader to load the latest
// snapshot while the orchestrator keeps writing for other sessions.
type SQLiteStore[S any] struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) a checkpoint database at path.
// Use ":memory:" for an ephemeral database in tests.
func NewSQLiteStore[S any](path string) (*SQLiteStore[S], error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("checkpoint pragma: %w", err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS session_checkpoints (
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			state TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (session_id, seq)
		)
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create session_checkpoints: %w", err)
	}

	return &SQLiteStore[S]{db: db}, nil
}

// Save implements Store. Re-saving an existing (session, seq) upserts, so
// an at-least-once writer repeating a save after a crash is harmless.
func (s *SQLiteStore[S]) Save(ctx context.Context, sessionID string, seq int64, state S) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	query := `
		INSERT INTO session_checkpoints (session_id, seq, state)
		VALUES (?, ?, ?)
		ON CONFLICT(session_id, seq) DO UPDATE SET state = excluded.state
	`
	if _, err := s.db.ExecContext(ctx, query, sessionID, seq, string(data)); err != nil {
		return fmt.Errorf("save checkpoint %s/%d: %w", sessionID, seq, err)
	}
	return nil
}

// LoadLatest implements Store.
func (s *SQLiteStore[S]) LoadLatest(ctx context.Context, sessionID string) (S, int64, error) {
	var zero S
	var seq int64
	var data string

	query := `
		SELECT seq, state FROM session_checkpoints
		WHERE session_id = ?
		ORDER BY seq DESC
		LIMIT 1
	`
	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(&seq, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, 0, ErrNotFound
	}
	if err != nil {
		return zero, 0, fmt.Errorf("load latest checkpoint %s: %w", sessionID, err)
	}

	var state S
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return zero, 0, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return state, seq, nil
}

// Load implements Store.
func (s *SQLiteStore[S]) Load(ctx context.Context, sessionID string, seq int64) (S, error) {
	var zero S
	var data string

	err := s.db.QueryRowContext(ctx,
		"SELECT state FROM session_checkpoints WHERE session_id = ? AND seq = ?",
		sessionID, seq).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, ErrNotFound
	}
	if err != nil {
		return zero, fmt.Errorf("load checkpoint %s/%d: %w", sessionID, seq, err)
	}

	var state S
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return zero, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return state, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore[S]) Close() error {
	return s.db.Close()
}
