package event

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestSQLiteLogRoundTrip(t *testing.T) {
	log, err := NewSQLiteLog(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("NewSQLiteLog: %v", err)
	}
	defer log.Close()

	ctx := context.Background()
	for i := int64(1); i <= 3; i++ {
		e := Event{
			SessionID:  "sess-1",
			Seq:        i,
			Schema:     SchemaVersion,
			Type:       TypeContribution,
			SubProblem: 0,
			Round:      1,
			Payload:    map[string]any{"persona": "Alpha"},
			CostUSD:    0.01,
			At:         time.Now().UTC(),
		}
		if err := log.Append(ctx, e); err != nil {
			t.Fatalf("Append seq %d: %v", i, err)
		}
	}

	latest, err := log.LatestSeq(ctx, "sess-1")
	if err != nil {
		t.Fatalf("LatestSeq: %v", err)
	}
	if latest != 3 {
		t.Errorf("LatestSeq = %d, want 3", latest)
	}

	events, err := log.Replay(ctx, "sess-1", 2)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("replayed %d events, want 2", len(events))
	}
	if events[0].Seq != 2 || events[1].Seq != 3 {
		t.Errorf("replay seqs = %d/%d, want 2/3", events[0].Seq, events[1].Seq)
	}
	if events[0].Payload["persona"] != "Alpha" {
		t.Errorf("payload lost in round trip: %+v", events[0].Payload)
	}
	if events[0].Type != TypeContribution || events[0].CostUSD != 0.01 {
		t.Errorf("fields lost in round trip: %+v", events[0])
	}
}

func TestSQLiteLogRejectsDuplicateSeq(t *testing.T) {
	log, err := NewSQLiteLog(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("NewSQLiteLog: %v", err)
	}
	defer log.Close()

	ctx := context.Background()
	e := Event{SessionID: "sess-1", Seq: 1, Type: TypeSessionStarted, SubProblem: NoSubProblem, At: time.Now().UTC()}
	if err := log.Append(ctx, e); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := log.Append(ctx, e); err == nil {
		t.Error("duplicate (session, seq) should be rejected")
	}
}

func TestSQLiteLogUnknownSession(t *testing.T) {
	log, err := NewSQLiteLog(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("NewSQLiteLog: %v", err)
	}
	defer log.Close()

	ctx := context.Background()
	latest, err := log.LatestSeq(ctx, "ghost")
	if err != nil {
		t.Fatalf("LatestSeq: %v", err)
	}
	if latest != 0 {
		t.Errorf("LatestSeq(ghost) = %d, want 0", latest)
	}
	events, err := log.Replay(ctx, "ghost", 1)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("Replay(ghost) returned %d events, want 0", len(events))
	}
}
