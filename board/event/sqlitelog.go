package event

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteLog is a durable Log backed by a single-file SQLite database.
//
// It gives a session's event stream crash-durable replay with zero external
// infrastructure: suitable for development, single-process deployments, and
// as the default durable log behind the publisher. WAL mode keeps replaying
// subscribers from blocking the publishing writer.
type SQLiteLog struct {
	db *sql.DB
}

// NewSQLiteLog opens (creating if needed) the event log at path.
// Use ":memory:" for an ephemeral database in tests.
func NewSQLiteLog(path string) (*SQLiteLog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
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
			return nil, fmt.Errorf("event log pragma: %w", err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS session_events (
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			event TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (session_id, seq)
		)
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create session_events: %w", err)
	}

	return &SQLiteLog{db: db}, nil
}

// Append implements Log. The (session_id, seq) primary key makes duplicate
// sequence numbers a constraint violation rather than silent overwrite.
func (l *SQLiteLog) Append(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = l.db.ExecContext(ctx,
		"INSERT INTO session_events (session_id, seq, event) VALUES (?, ?, ?)",
		e.SessionID, e.Seq, string(data))
	if err != nil {
		return fmt.Errorf("append event %s/%d: %w", e.SessionID, e.Seq, err)
	}
	return nil
}

// Replay implements Log.
func (l *SQLiteLog) Replay(ctx context.Context, sessionID string, from int64) ([]Event, error) {
	rows, err := l.db.QueryContext(ctx,
		"SELECT event FROM session_events WHERE session_id = ? AND seq >= ? ORDER BY seq ASC",
		sessionID, from)
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", sessionID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []Event
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("replay scan: %w", err)
		}
		var e Event
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return nil, fmt.Errorf("replay unmarshal: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LatestSeq implements Log.
func (l *SQLiteLog) LatestSeq(ctx context.Context, sessionID string) (int64, error) {
	var latest sql.NullInt64
	err := l.db.QueryRowContext(ctx,
		"SELECT MAX(seq) FROM session_events WHERE session_id = ?",
		sessionID).Scan(&latest)
	if err != nil {
		return 0, fmt.Errorf("latest seq %s: %w", sessionID, err)
	}
	if !latest.Valid {
		return 0, nil
	}
	return latest.Int64, nil
}

// Close releases the underlying database handle.
func (l *SQLiteLog) Close() error {
	return l.db.Close()
}
