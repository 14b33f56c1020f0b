package checkpoint

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

type testState struct {
	Node  string   `json:"node"`
	Notes []string `json:"notes"`
	Spent float64  `json:"spent"`
}

// storeContract runs the behavior every Store implementation must share.
func storeContract(t *testing.T, store Store[testState]) {
	t.Helper()
	ctx := context.Background()

	if _, _, err := store.LoadLatest(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("LoadLatest(ghost) error = %v, want ErrNotFound", err)
	}

	s1 := testState{Node: "decompose", Notes: []string{"a"}, Spent: 0.1}
	if err := store.Save(ctx, "sess-1", 3, s1); err != nil {
		t.Fatalf("Save: %v", err)
	}
	s2 := testState{Node: "vote", Notes: []string{"a", "b"}, Spent: 0.5}
	if err := store.Save(ctx, "sess-1", 7, s2); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, seq, err := store.LoadLatest(ctx, "sess-1")
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if seq != 7 || got.Node != "vote" || len(got.Notes) != 2 {
		t.Errorf("LoadLatest = %+v at seq %d, want latest state at 7", got, seq)
	}

	old, err := store.Load(ctx, "sess-1", 3)
	if err != nil {
		t.Fatalf("Load(3): %v", err)
	}
	if old.Node != "decompose" {
		t.Errorf("Load(3).Node = %s, want decompose", old.Node)
	}

	if _, err := store.Load(ctx, "sess-1", 99); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load(99) error = %v, want ErrNotFound", err)
	}

	// Saving the same seq again overwrites: at-least-once delivery means
	// a retried step must not fail on the second save.
	s2b := s2
	s2b.Spent = 0.6
	if err := store.Save(ctx, "sess-1", 7, s2b); err != nil {
		t.Fatalf("re-Save same seq: %v", err)
	}
	got, _, err = store.LoadLatest(ctx, "sess-1")
	if err != nil {
		t.Fatalf("LoadLatest after upsert: %v", err)
	}
	if got.Spent != 0.6 {
		t.Errorf("upsert lost: Spent = %v, want 0.6", got.Spent)
	}

	// Sessions are isolated.
	if _, _, err := store.LoadLatest(ctx, "sess-2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("other session should be empty, got %v", err)
	}
}

func TestMemStoreContract(t *testing.T) {
	storeContract(t, NewMemStore[testState]())
}

func TestSQLiteStoreContract(t *testing.T) {
	store, err := NewSQLiteStore[testState](filepath.Join(t.TempDir(), "cp.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer store.Close()
	storeContract(t, store)
}

func TestMemStoreDeepCopies(t *testing.T) {
	store := NewMemStore[testState]()
	ctx := context.Background()

	s := testState{Node: "a", Notes: []string{"x"}}
	if err := store.Save(ctx, "sess-1", 1, s); err != nil {
		t.Fatalf("Save: %v", err)
	}
	s.Notes[0] = "mutated"

	got, _, err := store.LoadLatest(ctx, "sess-1")
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if got.Notes[0] != "x" {
		t.Error("store shared memory with the caller")
	}
}
