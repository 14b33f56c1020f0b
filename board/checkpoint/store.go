// Package checkpoint provides durable, versioned snapshots of deliberation
// state, keyed by session ID and a monotonic sequence number.
//
// The Store interface is a capability: the orchestrator saves a snapshot
// after every node transition and resumes a session from the latest one.
// Backends are interchangeable and selected at construction time, never by
// scattered conditionals. Durability is at-least-once: saving the same
// (session, seq) twice is tolerated and upserts, duplicates are detected by
// sequence number on load.
package checkpoint

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no checkpoint exists for the requested
// session (or session + sequence).
var ErrNotFound = errors.New("checkpoint not found")

// Store persists deliberation state snapshots.
//
// Type parameter S is the state type; it must be JSON-serializable.
// Implementations must support concurrent use across sessions without
// cross-session interference; data is naturally partitioned by session ID.
type Store[S any] interface {
	// Save durably records the state snapshot at the given sequence.
	// Saving an existing (sessionID, seq) pair overwrites it (at-least-once
	// writers may repeat a save after a crash).
	Save(ctx context.Context, sessionID string, seq int64, state S) error

	// LoadLatest returns the snapshot with the highest sequence number for
	// the session. Returns ErrNotFound when the session has no checkpoints.
	LoadLatest(ctx context.Context, sessionID string) (state S, seq int64, err error)

	// Load returns the snapshot at an exact sequence number.
	// Returns ErrNotFound when absent.
	Load(ctx context.Context, sessionID string, seq int64) (S, error)
}
