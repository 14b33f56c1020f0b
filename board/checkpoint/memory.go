package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemStore is an in-memory Store implementation for tests and development.
//
// Snapshots are deep-copied through JSON on save and load so callers can
// never alias stored state. Safe for concurrent use.
type MemStore[S any] struct {
	mu    sync.RWMutex
	snaps map[string]map[int64][]byte
}

// NewMemStore creates an empty in-memory checkpoint store.
func NewMemStore[S any]() *MemStore[S] {
	return &MemStore[S]{snaps: make(map[string]map[int64][]byte)}
}

// Save implements Store.
func (m *MemStore[S]) Save(_ context.Context, sessionID string, seq int64, state S) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snaps[sessionID] == nil {
		m.snaps[sessionID] = make(map[int64][]byte)
	}
	m.snaps[sessionID][seq] = data
	return nil
}

// LoadLatest implements Store.
func (m *MemStore[S]) LoadLatest(_ context.Context, sessionID string) (S, int64, error) {
	var zero S

	m.mu.RLock()
	defer m.mu.RUnlock()

	seqs := m.snaps[sessionID]
	if len(seqs) == 0 {
		return zero, 0, ErrNotFound
	}
	var latest int64
	for seq := range seqs {
		if seq > latest {
			latest = seq
		}
	}

	var state S
	if err := json.Unmarshal(seqs[latest], &state); err != nil {
		return zero, 0, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return state, latest, nil
}

// Load implements Store.
func (m *MemStore[S]) Load(_ context.Context, sessionID string, seq int64) (S, error) {
	var zero S

	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.snaps[sessionID][seq]
	if !ok {
		return zero, ErrNotFound
	}

	var state S
	if err := json.Unmarshal(data, &state); err != nil {
		return zero, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return state, nil
}
