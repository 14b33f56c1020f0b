package budget

import (
	"context"
	"testing"

	"github.com/panelkit/boardroom/board/gateway"
)

func usage(in, out int) gateway.Usage {
	return gateway.Usage{InputTokens: in, OutputTokens: out}
}

func TestGuardAssess(t *testing.T) {
	g := NewGuard(0.8)

	tests := []struct {
		name   string
		spent  float64
		budget float64
		want   Verdict
	}{
		{"nothing spent", 0, 10, VerdictOK},
		{"well under", 5, 10, VerdictOK},
		{"just below warn line", 7.99, 10, VerdictOK},
		{"at warn line", 8, 10, VerdictWarn},
		{"above warn line", 9.5, 10, VerdictWarn},
		{"exactly exhausted", 10, 10, VerdictExceeded},
		{"overspent", 12, 10, VerdictExceeded},
		{"zero budget is unmetered", 100, 0, VerdictOK},
		{"negative budget is unmetered", 100, -1, VerdictOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := g.Assess(tt.spent, tt.budget); got != tt.want {
				t.Errorf("Assess(%v, %v) = %v, want %v", tt.spent, tt.budget, got, tt.want)
			}
		})
	}
}

func TestGuardDefaultRatio(t *testing.T) {
	g := NewGuard(0)
	if got := g.Assess(0.81, 1); got != VerdictWarn {
		t.Errorf("default warn ratio: Assess(0.81, 1) = %v, want %v", got, VerdictWarn)
	}
	if got := g.Assess(0.79, 1); got != VerdictOK {
		t.Errorf("default warn ratio: Assess(0.79, 1) = %v, want %v", got, VerdictOK)
	}
}

func TestGuardRemaining(t *testing.T) {
	g := NewGuard(0.8)
	if got := g.Remaining(3, 10); got != 7 {
		t.Errorf("Remaining(3, 10) = %v, want 7", got)
	}
	if got := g.Remaining(12, 10); got != 0 {
		t.Errorf("Remaining past budget = %v, want 0", got)
	}
}

func TestLedgerRecordAndTotal(t *testing.T) {
	store := NewMemLedgerStore()
	l := NewLedger(store, 100)

	l.RecordUsage("sess-1", "anthropic", "model-a", usage(100, 50), 0.25)
	l.RecordUsage("sess-1", "openai", "model-b", usage(200, 80), 0.50)
	l.RecordUsage("sess-2", "anthropic", "model-a", usage(10, 5), 0.01)

	if got := l.SessionTotal("sess-1"); got != 0.75 {
		t.Errorf("SessionTotal(sess-1) = %v, want 0.75", got)
	}
	if got := l.SessionTotal("sess-2"); got != 0.01 {
		t.Errorf("SessionTotal(sess-2) = %v, want 0.01", got)
	}
}

func TestLedgerFlush(t *testing.T) {
	store := NewMemLedgerStore()
	l := NewLedger(store, 100)

	l.RecordUsage("sess-1", "anthropic", "model-a", usage(100, 50), 0.25)
	if recs, _ := store.BySession(context.Background(), "sess-1"); len(recs) != 0 {
		t.Fatalf("records flushed before Flush: %d", len(recs))
	}

	if err := l.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	recs, err := store.BySession(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("BySession: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	r := recs[0]
	if r.Provider != "anthropic" || r.Model != "model-a" || r.CostUSD != 0.25 {
		t.Errorf("unexpected record: %+v", r)
	}
	if r.ID == "" {
		t.Error("record should carry an ID")
	}

	// Total survives the flush.
	if got := l.SessionTotal("sess-1"); got != 0.25 {
		t.Errorf("SessionTotal after flush = %v, want 0.25", got)
	}
}

func TestLedgerAutoFlush(t *testing.T) {
	store := NewMemLedgerStore()
	l := NewLedger(store, 2)

	l.RecordUsage("sess-1", "p", "m", usage(1, 1), 0.1)
	l.RecordUsage("sess-1", "p", "m", usage(1, 1), 0.1)

	recs, _ := store.BySession(context.Background(), "sess-1")
	if len(recs) != 2 {
		t.Errorf("auto-flush at buffer size: got %d stored records, want 2", len(recs))
	}
}
