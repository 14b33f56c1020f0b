package event

import (
	"context"
	"fmt"
	"sync"
)

// MemLog is an in-memory Log implementation.
//
// Intended for tests and single-process development; events do not survive
// a restart. Safe for concurrent use, partitioned by session ID.
type MemLog struct {
	mu     sync.RWMutex
	events map[string][]Event
}

// NewMemLog creates an empty in-memory event log.
func NewMemLog() *MemLog {
	return &MemLog{events: make(map[string][]Event)}
}

// Append implements Log.
func (m *MemLog) Append(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := m.events[e.SessionID]
	if n := len(stored); n > 0 && stored[n-1].Seq >= e.Seq {
		return fmt.Errorf("memlog: duplicate seq %d for session %s", e.Seq, e.SessionID)
	}
	m.events[e.SessionID] = append(stored, e)
	return nil
}

// Replay implements Log.
func (m *MemLog) Replay(_ context.Context, sessionID string, from int64) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Event
	for _, e := range m.events[sessionID] {
		if e.Seq >= from {
			out = append(out, e)
		}
	}
	return out, nil
}

// LatestSeq implements Log.
func (m *MemLog) LatestSeq(_ context.Context, sessionID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored := m.events[sessionID]
	if len(stored) == 0 {
		return 0, nil
	}
	return stored[len(stored)-1].Seq, nil
}
