package vote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/panelkit/boardroom/board/gateway"
	"github.com/panelkit/boardroom/board/panel"
)

type scriptedCompleter struct {
	mu      sync.Mutex
	replies map[string][]string // keyed on substring of the system prompt
	calls   int
}

func (s *scriptedCompleter) Complete(_ context.Context, _ string, req gateway.Request) (gateway.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	for key, replies := range s.replies {
		if strings.Contains(req.System, key) {
			r := replies[0]
			if len(replies) > 1 {
				s.replies[key] = replies[1:]
			}
			return gateway.Response{Text: r, CostUSD: 0.02}, nil
		}
	}
	return gateway.Response{}, errors.New("no script for request")
}

func voteJSON(option, confidence string) string {
	return fmt.Sprintf(`{"option": %q, "rationale": "because", "confidence": %q}`, option, confidence)
}

func deliberation() []panel.Contribution {
	return []panel.Contribution{
		{ID: "c1", Persona: "Alpha", Round: 1, Content: "sqlite is enough", Summary: &panel.Summary{Stance: "sqlite"}},
		{ID: "c2", Persona: "Bravo", Round: 1, Content: "mysql scales", Summary: &panel.Summary{Stance: "mysql"}},
	}
}

func TestCollect(t *testing.T) {
	gw := &scriptedCompleter{replies: map[string][]string{
		"Alpha": {voteJSON("sqlite", "HIGH")},
		"Bravo": {voteJSON("mysql", "low")},
	}}

	e := New(gw)
	personas := []panel.PersonaAssignment{{Name: "Alpha"}, {Name: "Bravo"}}
	recs, cost, err := e.Collect(context.Background(), "sess-1", 0, panel.SubProblem{Goal: "storage"}, personas, deliberation())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d recommendations, want 2", len(recs))
	}
	if recs[0].Persona != "Alpha" || recs[0].Option != "sqlite" || recs[0].Confidence != panel.ConfidenceHigh {
		t.Errorf("unexpected first recommendation: %+v", recs[0])
	}
	if recs[1].Confidence != panel.ConfidenceLow {
		t.Errorf("confidence not normalized: %+v", recs[1])
	}
	if cost != 0.04 {
		t.Errorf("cost = %v, want 0.04", cost)
	}
}

func TestCollectMalformedVoteAbstains(t *testing.T) {
	gw := &scriptedCompleter{replies: map[string][]string{
		"Alpha": {"i pick sqlite", "still prose"},
	}}

	e := New(gw)
	recs, _, err := e.Collect(context.Background(), "sess-1", 0, panel.SubProblem{Goal: "g"}, []panel.PersonaAssignment{{Name: "Alpha"}}, nil)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if recs[0].Option != "abstain" || recs[0].Confidence != panel.ConfidenceLow {
		t.Errorf("malformed vote should abstain with low confidence: %+v", recs[0])
	}
	if gw.calls != 2 {
		t.Errorf("calls = %d, want 2 (one corrective retry, no guessing)", gw.calls)
	}
}

func TestSynthesizeValidatesCitations(t *testing.T) {
	gw := &scriptedCompleter{replies: map[string][]string{
		"secretary": {`{"narrative": "the panel chose sqlite", "citations": ["c1", "ghost", "c2", "c1"]}`},
	}}

	e := New(gw)
	sr, _, err := e.Synthesize(context.Background(), "sess-1", 0, panel.SubProblem{Goal: "g"}, deliberation(), nil, Outcome{Winner: "sqlite"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if sr.Narrative != "the panel chose sqlite" {
		t.Errorf("narrative = %q", sr.Narrative)
	}
	want := []string{"c1", "c2"}
	if len(sr.Citations) != 2 || sr.Citations[0] != want[0] || sr.Citations[1] != want[1] {
		t.Errorf("citations = %v, want %v (unknown and duplicate IDs dropped)", sr.Citations, want)
	}
}

func TestSynthesizeFallsBackToRawNarrative(t *testing.T) {
	gw := &scriptedCompleter{replies: map[string][]string{
		"secretary": {"The panel chose sqlite after a long debate.", "still plain prose"},
	}}

	e := New(gw)
	sr, _, err := e.Synthesize(context.Background(), "sess-1", 0, panel.SubProblem{Goal: "g"}, deliberation(), nil, Outcome{})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if sr.Narrative != "The panel chose sqlite after a long debate." {
		t.Errorf("fallback narrative = %q", sr.Narrative)
	}
	if len(sr.Citations) != 2 {
		t.Errorf("fallback should cite every real contribution, got %v", sr.Citations)
	}
}

func TestMetaSynthesize(t *testing.T) {
	gw := &scriptedCompleter{replies: map[string][]string{
		"integrated": {"Overall, do the migration in two phases."},
	}}

	e := New(gw)
	sections := []panel.SynthesisResult{
		{SubProblem: 0, Narrative: "phase one"},
		{SubProblem: 1, Narrative: "phase two"},
	}
	ms, _, err := e.MetaSynthesize(context.Background(), "sess-1", "how to migrate", sections)
	if err != nil {
		t.Fatalf("MetaSynthesize: %v", err)
	}
	if ms.Narrative == "" {
		t.Error("meta narrative empty")
	}
	if len(ms.Sections) != 2 || ms.Sections[1].SubProblem != 1 {
		t.Errorf("sections not preserved with their indexes: %+v", ms.Sections)
	}
}
