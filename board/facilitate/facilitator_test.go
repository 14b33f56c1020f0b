package facilitate

import (
	"reflect"
	"testing"

	"github.com/panelkit/boardroom/board/panel"
)

func metrics(round int, novelty, agreement, drift float64) panel.RoundMetrics {
	return panel.RoundMetrics{Round: round, Novelty: novelty, Agreement: agreement, Drift: drift}
}

func TestDecidePolicy(t *testing.T) {
	f := New(Thresholds{MinRounds: 2, MaxRounds: 5})
	personas := []panel.PersonaAssignment{{Name: "A"}, {Name: "B"}, {Name: "C"}}
	questions := []string{"what is the expected migration cost"}

	covered := []panel.Contribution{
		contrib("A", 1, "the expected migration cost is roughly two quarters", "costly"),
		contrib("B", 1, "agree on the expected migration cost estimate", "costly"),
	}

	tests := []struct {
		name    string
		history []panel.Contribution
		metrics []panel.RoundMetrics
		want    panel.Action
	}{
		{
			name:    "below minimum rounds continues",
			history: covered,
			metrics: []panel.RoundMetrics{metrics(1, 1, 0.2, 0)},
			want:    panel.ActionContinue,
		},
		{
			name:    "round cap forces vote",
			history: covered,
			metrics: []panel.RoundMetrics{metrics(5, 0.9, 0.1, 0)},
			want:    panel.ActionVote,
		},
		{
			name:    "two stale rounds force vote",
			history: covered,
			metrics: []panel.RoundMetrics{metrics(2, 0.1, 0.4, 0), metrics(3, 0.2, 0.4, 0)},
			want:    panel.ActionVote,
		},
		{
			name:    "one stale round is not enough",
			history: covered,
			metrics: []panel.RoundMetrics{metrics(2, 0.8, 0.4, 0), metrics(3, 0.2, 0.4, 0)},
			want:    panel.ActionContinue,
		},
		{
			name:    "agreement with coverage votes",
			history: covered,
			metrics: []panel.RoundMetrics{metrics(2, 0.9, 0.5, 0), metrics(3, 0.6, 0.9, 0)},
			want:    panel.ActionVote,
		},
		{
			name: "agreement without coverage researches",
			history: []panel.Contribution{
				contrib("A", 1, "something entirely unrelated to any question", "s"),
			},
			metrics: []panel.RoundMetrics{metrics(2, 0.9, 0.5, 0), metrics(3, 0.6, 0.9, 0)},
			want:    panel.ActionResearch,
		},
		{
			name:    "high drift moderates",
			history: covered,
			metrics: []panel.RoundMetrics{metrics(2, 0.9, 0.5, 0), metrics(3, 0.6, 0.4, 0.9)},
			want:    panel.ActionModerate,
		},
		{
			name:    "no signal continues",
			history: covered,
			metrics: []panel.RoundMetrics{metrics(2, 0.9, 0.4, 0), metrics(3, 0.6, 0.4, 0.1)},
			want:    panel.ActionContinue,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := f.Decide(tt.history, tt.metrics, personas, questions)
			if d.Action != tt.want {
				t.Errorf("Decide() action = %v (%s), want %v", d.Action, d.Justification, tt.want)
			}
			if d.Justification == "" {
				t.Error("decision must carry a justification")
			}
		})
	}
}

func TestDecideClarifyOnPlaceholderRound(t *testing.T) {
	f := New(Thresholds{MinRounds: 2, MaxRounds: 5})
	history := []panel.Contribution{
		contrib("A", 2, "real content here", "s"),
		{Persona: "B", Round: 2, Placeholder: true},
		{Persona: "C", Round: 2, Placeholder: true},
	}
	d := f.Decide(history, []panel.RoundMetrics{metrics(1, 1, 0.5, 0), metrics(2, 0.8, 0.5, 0)}, nil, nil)
	if d.Action != panel.ActionClarify {
		t.Errorf("placeholder-heavy round: action = %v, want %v", d.Action, panel.ActionClarify)
	}
}

func TestDecideIsDeterministic(t *testing.T) {
	f := New(Thresholds{})
	personas := []panel.PersonaAssignment{{Name: "A"}, {Name: "B"}}
	history := []panel.Contribution{contrib("A", 1, "alpha beta gamma", "s")}
	ms := []panel.RoundMetrics{metrics(1, 1, 0.5, 0)}

	first := f.Decide(history, ms, personas, nil)
	for i := 0; i < 10; i++ {
		if got := f.Decide(history, ms, personas, nil); !reflect.DeepEqual(got, first) {
			t.Fatalf("decision varied across identical inputs: %+v vs %+v", got, first)
		}
	}
}

func TestLeastSpokenFocus(t *testing.T) {
	f := New(Thresholds{MinRounds: 3, MaxRounds: 6})
	personas := []panel.PersonaAssignment{{Name: "A"}, {Name: "B"}, {Name: "C"}}
	history := []panel.Contribution{
		contrib("A", 1, "x", "s"), contrib("A", 2, "y", "s"),
		contrib("B", 1, "z", "s"),
	}

	d := f.Decide(history, []panel.RoundMetrics{metrics(2, 0.9, 0.3, 0)}, personas, nil)
	if d.Action != panel.ActionContinue {
		t.Fatalf("action = %v, want continue", d.Action)
	}
	want := []string{"C", "B"}
	if !reflect.DeepEqual(d.FocusPersonas, want) {
		t.Errorf("FocusPersonas = %v, want %v", d.FocusPersonas, want)
	}
}
