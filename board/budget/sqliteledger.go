package budget

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteLedgerStore is a durable LedgerStore backed by SQLite.
//
// The cost_records table is append-only: rows are inserted in batches and
// never updated or deleted by the engine, preserving an auditable spend
// trail per session.
type SQLiteLedgerStore struct {
	db *sql.DB
}

// NewSQLiteLedgerStore opens (creating if needed) the ledger at path.
// Use ":memory:" for tests.
func NewSQLiteLedgerStore(path string) (*SQLiteLedgerStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
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
			return nil, fmt.Errorf("ledger pragma: %w", err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS cost_records (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			input_tokens INTEGER NOT NULL,
			output_tokens INTEGER NOT NULL,
			cost_usd REAL NOT NULL,
			at TIMESTAMP NOT NULL
		)
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create cost_records: %w", err)
	}
	if _, err := db.ExecContext(ctx,
		"CREATE INDEX IF NOT EXISTS idx_cost_session ON cost_records(session_id)"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create idx_cost_session: %w", err)
	}

	return &SQLiteLedgerStore{db: db}, nil
}

// AppendBatch implements LedgerStore. The batch is written in one
// transaction so a crash never records a partial flush.
func (s *SQLiteLedgerStore) AppendBatch(ctx context.Context, records []CostRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ledger tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cost_records (id, session_id, provider, model, input_tokens, output_tokens, cost_usd, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare ledger insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx,
			rec.ID, rec.SessionID, rec.Provider, rec.Model,
			rec.InputTokens, rec.OutputTokens, rec.CostUSD, rec.At); err != nil {
			return fmt.Errorf("insert cost record %s: %w", rec.ID, err)
		}
	}
	return tx.Commit()
}

// BySession implements LedgerStore.
func (s *SQLiteLedgerStore) BySession(ctx context.Context, sessionID string) ([]CostRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, provider, model, input_tokens, output_tokens, cost_usd, at
		FROM cost_records WHERE session_id = ? ORDER BY at ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query cost records %s: %w", sessionID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []CostRecord
	for rows.Next() {
		var rec CostRecord
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Provider, &rec.Model,
			&rec.InputTokens, &rec.OutputTokens, &rec.CostUSD, &rec.At); err != nil {
			return nil, fmt.Errorf("scan cost record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (s *SQLiteLedgerStore) Close() error {
	return s.db.Close()
}
