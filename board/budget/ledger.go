package budget

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/panelkit/boardroom/board/gateway"
)

// CostRecord is one append-only ledger entry for a single provider call.
// Records are never mutated after creation.
type CostRecord struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	CostUSD      float64   `json:"cost_usd"`
	At           time.Time `json:"at"`
}

// LedgerStore is the durable backend for cost records.
// Implementations must allow concurrent append/read across sessions;
// records partition naturally by session ID.
type LedgerStore interface {
	AppendBatch(ctx context.Context, records []CostRecord) error
	BySession(ctx context.Context, sessionID string) ([]CostRecord, error)
}

// defaultFlushSize is how many buffered records trigger an automatic flush.
const defaultFlushSize = 16

// Ledger buffers cost records and flushes them in batches to a durable
// store. It implements gateway.UsageRecorder, so wiring it as the
// gateway's Recorder makes every successful provider call billable.
//
// Totals are tracked in memory independently of flushing so the cost guard
// always sees spend including unflushed records.
type Ledger struct {
	store     LedgerStore
	flushSize int

	mu      sync.Mutex
	pending []CostRecord
	totals  map[string]float64
}

// NewLedger creates a Ledger over the given store. flushSize <= 0 uses the
// default batch size.
func NewLedger(store LedgerStore, flushSize int) *Ledger {
	if flushSize <= 0 {
		flushSize = defaultFlushSize
	}
	return &Ledger{
		store:     store,
		flushSize: flushSize,
		totals:    make(map[string]float64),
	}
}

// RecordUsage implements gateway.UsageRecorder.
func (l *Ledger) RecordUsage(sessionID, provider, model string, usage gateway.Usage, costUSD float64) {
	rec := CostRecord{
		ID:           uuid.NewString(),
		SessionID:    sessionID,
		Provider:     provider,
		Model:        model,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		CostUSD:      costUSD,
		At:           time.Now().UTC(),
	}

	l.mu.Lock()
	l.pending = append(l.pending, rec)
	l.totals[sessionID] += costUSD
	shouldFlush := len(l.pending) >= l.flushSize
	l.mu.Unlock()

	if shouldFlush {
		// Flush failures leave records pending for the next flush.
		_ = l.Flush(context.Background())
	}
}

// Flush writes all buffered records to the store. On failure the records
// stay buffered and the error is returned.
func (l *Ledger) Flush(ctx context.Context) error {
	l.mu.Lock()
	batch := l.pending
	l.pending = nil
	l.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	if err := l.store.AppendBatch(ctx, batch); err != nil {
		l.mu.Lock()
		l.pending = append(batch, l.pending...)
		l.mu.Unlock()
		return err
	}
	return nil
}

// SessionTotal returns the accumulated spend for a session, including
// records not yet flushed.
func (l *Ledger) SessionTotal(sessionID string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totals[sessionID]
}

// MemLedgerStore is an in-memory LedgerStore for tests and development.
type MemLedgerStore struct {
	mu      sync.RWMutex
	records map[string][]CostRecord
}

// NewMemLedgerStore creates an empty in-memory ledger store.
func NewMemLedgerStore() *MemLedgerStore {
	return &MemLedgerStore{records: make(map[string][]CostRecord)}
}

// AppendBatch implements LedgerStore.
func (m *MemLedgerStore) AppendBatch(_ context.Context, records []CostRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range records {
		m.records[rec.SessionID] = append(m.records[rec.SessionID], rec)
	}
	return nil
}

// BySession implements LedgerStore.
func (m *MemLedgerStore) BySession(_ context.Context, sessionID string) ([]CostRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]CostRecord, len(m.records[sessionID]))
	copy(out, m.records[sessionID])
	return out, nil
}
