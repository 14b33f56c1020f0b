package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a Store backed by MySQL/MariaDB.
//
// The production counterpart to SQLiteStore: multiple orchestrator
// processes can share it, sessions survive restarts, and the checkpoint
// table doubles as an audit trail. Interchangeable with the other backends
// through the Store interface.
type MySQLStore[S any] struct {
	db *sql.DB
}

// NewMySQLStore opens a MySQL-backed checkpoint store.
//
// The DSN follows go-sql-driver conventions, e.g.
//
//	user:pass@tcp(localhost:3306)/boardroom?parseTime=true
//
// Credentials should come from the environment, never source code.
func NewMySQLStore[S any](dsn string) (*MySQLStore[S], error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS session_checkpoints (
			session_id VARCHAR(64) NOT NULL,
			seq BIGINT NOT NULL,
			state JSON NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (session_id, seq),
			INDEX idx_session (session_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create session_checkpoints: %w", err)
	}

	return &MySQLStore[S]{db: db}, nil
}

// Save implements Store.
func (m *MySQLStore[S]) Save(ctx context.Context, sessionID string, seq int64, state S) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	query := `
		INSERT INTO session_checkpoints (session_id, seq, state)
		VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE state = VALUES(state)
	`
	if _, err := m.db.ExecContext(ctx, query, sessionID, seq, string(data)); err != nil {
		return fmt.Errorf("save checkpoint %s/%d: %w", sessionID, seq, err)
	}
	return nil
}

// LoadLatest implements Store.
func (m *MySQLStore[S]) LoadLatest(ctx context.Context, sessionID string) (S, int64, error) {
	var zero S
	var seq int64
	var data string

	query := `
		SELECT seq, state FROM session_checkpoints
		WHERE session_id = ?
		ORDER BY seq DESC
		LIMIT 1
	`
	err := m.db.QueryRowContext(ctx, query, sessionID).Scan(&seq, &data)
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
func (m *MySQLStore[S]) Load(ctx context.Context, sessionID string, seq int64) (S, error) {
	var zero S
	var data string

	err := m.db.QueryRowContext(ctx,
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

// Close releases the underlying connection pool.
func (m *MySQLStore[S]) Close() error {
	return m.db.Close()
}
