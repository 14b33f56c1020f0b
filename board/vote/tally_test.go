package vote

import (
	"testing"

	"github.com/panelkit/boardroom/board/panel"
)

func rec(persona, option string, c panel.Confidence) panel.Recommendation {
	return panel.Recommendation{Persona: persona, Option: option, Confidence: c}
}

func TestTally(t *testing.T) {
	tests := []struct {
		name          string
		recs          []panel.Recommendation
		wantWinner    string
		wantUnanimous bool
	}{
		{
			name: "majority wins",
			recs: []panel.Recommendation{
				rec("A", "sqlite", panel.ConfidenceMedium),
				rec("B", "sqlite", panel.ConfidenceMedium),
				rec("C", "mysql", panel.ConfidenceMedium),
			},
			wantWinner: "sqlite",
		},
		{
			name: "confidence outweighs headcount",
			recs: []panel.Recommendation{
				rec("A", "mysql", panel.ConfidenceHigh),
				rec("B", "sqlite", panel.ConfidenceLow),
				rec("C", "sqlite", panel.ConfidenceLow),
			},
			wantWinner: "mysql",
		},
		{
			name: "unanimous",
			recs: []panel.Recommendation{
				rec("A", "sqlite", panel.ConfidenceHigh),
				rec("B", "sqlite", panel.ConfidenceLow),
			},
			wantWinner:    "sqlite",
			wantUnanimous: true,
		},
		{
			name: "case and whitespace folded",
			recs: []panel.Recommendation{
				rec("A", "SQLite", panel.ConfidenceMedium),
				rec("B", " sqlite ", panel.ConfidenceMedium),
			},
			wantWinner:    "sqlite",
			wantUnanimous: true,
		},
		{
			name: "abstentions carry no weight",
			recs: []panel.Recommendation{
				rec("A", "abstain", panel.ConfidenceHigh),
				rec("B", "mysql", panel.ConfidenceLow),
			},
			wantWinner:    "mysql",
			wantUnanimous: true,
		},
		{
			name: "ties break lexicographically",
			recs: []panel.Recommendation{
				rec("A", "beta", panel.ConfidenceMedium),
				rec("B", "alpha", panel.ConfidenceMedium),
			},
			wantWinner: "alpha",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Tally(tt.recs)
			if out.Winner != tt.wantWinner {
				t.Errorf("Winner = %q, want %q", out.Winner, tt.wantWinner)
			}
			if out.Unanimous != tt.wantUnanimous {
				t.Errorf("Unanimous = %v, want %v", out.Unanimous, tt.wantUnanimous)
			}
		})
	}
}

func TestTallyAllAbstain(t *testing.T) {
	out := Tally([]panel.Recommendation{
		rec("A", "abstain", panel.ConfidenceLow),
		rec("B", "", panel.ConfidenceHigh),
	})
	if out.Winner != "" {
		t.Errorf("Winner = %q, want empty", out.Winner)
	}
}

func TestTallyWeights(t *testing.T) {
	out := Tally([]panel.Recommendation{
		rec("A", "x", panel.ConfidenceHigh),
		rec("B", "x", panel.ConfidenceLow),
		rec("C", "y", panel.ConfidenceMedium),
	})
	if out.Weights["x"] != 4 {
		t.Errorf("weight(x) = %v, want 4", out.Weights["x"])
	}
	if out.Weights["y"] != 2 {
		t.Errorf("weight(y) = %v, want 2", out.Weights["y"])
	}
}
