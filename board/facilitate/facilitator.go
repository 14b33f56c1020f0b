package facilitate

import (
	"fmt"
	"sort"

	"github.com/panelkit/boardroom/board/panel"
)

// Facilitator applies the deterministic round policy. It never calls a
// model: every decision is a pure function of metric history, contribution
// history, and thresholds, so replaying a session reproduces the same
// decisions.
type Facilitator struct {
	thresholds Thresholds
}

// New returns a Facilitator. Zero-valued thresholds fields fall back to
// the defaults.
func New(t Thresholds) *Facilitator {
	d := DefaultThresholds()
	if t.MinRounds <= 0 {
		t.MinRounds = d.MinRounds
	}
	if t.MaxRounds <= 0 {
		t.MaxRounds = d.MaxRounds
	}
	if t.LowNovelty <= 0 {
		t.LowNovelty = d.LowNovelty
	}
	if t.HighAgreement <= 0 {
		t.HighAgreement = d.HighAgreement
	}
	if t.HighDrift <= 0 {
		t.HighDrift = d.HighDrift
	}
	if t.MinCoverage <= 0 {
		t.MinCoverage = d.MinCoverage
	}
	return &Facilitator{thresholds: t}
}

// Thresholds returns the effective tuning.
func (f *Facilitator) Thresholds() Thresholds { return f.thresholds }

// Decide picks the next action after a completed round.
//
// Policy, in priority order:
//
//  1. Round cap reached: stop deliberation and vote.
//  2. Below the minimum round count: continue.
//  3. Half or more of the round came back as placeholders: clarify.
//  4. Drift above threshold: moderate, so the panel is reframed.
//  5. Novelty below threshold for two consecutive rounds: vote.
//  6. Agreement above threshold with sufficient question coverage: vote.
//  7. Agreement above threshold but questions uncovered: research.
//  8. Otherwise continue, focusing the personas that have spoken least.
//
// Ties and ambiguity always resolve toward continuing.
func (f *Facilitator) Decide(
	history []panel.Contribution,
	metrics []panel.RoundMetrics,
	personas []panel.PersonaAssignment,
	questions []string,
) panel.FacilitatorDecision {
	t := f.thresholds
	round := 0
	var cur panel.RoundMetrics
	if len(metrics) > 0 {
		cur = metrics[len(metrics)-1]
		round = cur.Round
	}

	if round >= t.MaxRounds {
		return decision(round, panel.ActionVote,
			fmt.Sprintf("round cap of %d reached", t.MaxRounds), nil)
	}
	if round < t.MinRounds {
		return decision(round, panel.ActionContinue,
			fmt.Sprintf("minimum of %d rounds not yet reached", t.MinRounds),
			leastSpoken(history, personas))
	}

	if ratio := placeholderRatio(history, round); ratio >= 0.5 {
		return decision(round, panel.ActionClarify,
			fmt.Sprintf("%.0f%% of the round produced no usable contribution", ratio*100), nil)
	}

	if cur.Drift > t.HighDrift {
		return decision(round, panel.ActionModerate,
			fmt.Sprintf("drift %.2f exceeds %.2f, panel has left the framing", cur.Drift, t.HighDrift), nil)
	}

	if len(metrics) >= 2 {
		prev := metrics[len(metrics)-2]
		if cur.Novelty <= t.LowNovelty && prev.Novelty <= t.LowNovelty {
			return decision(round, panel.ActionVote,
				fmt.Sprintf("novelty below %.2f for two consecutive rounds", t.LowNovelty), nil)
		}
	}

	if cur.Agreement >= t.HighAgreement {
		if Coverage(history, questions) >= t.MinCoverage {
			return decision(round, panel.ActionVote,
				fmt.Sprintf("agreement %.2f with sufficient coverage", cur.Agreement), nil)
		}
		return decision(round, panel.ActionResearch,
			fmt.Sprintf("agreement %.2f but key questions remain uncovered", cur.Agreement), nil)
	}

	return decision(round, panel.ActionContinue,
		"no convergence signal, deliberation continues",
		leastSpoken(history, personas))
}

func decision(round int, a panel.Action, why string, focus []string) panel.FacilitatorDecision {
	return panel.FacilitatorDecision{
		Round:         round,
		Action:        a,
		Justification: why,
		FocusPersonas: focus,
	}
}

func placeholderRatio(history []panel.Contribution, round int) float64 {
	total, ph := 0, 0
	for _, c := range history {
		if c.Round != round {
			continue
		}
		total++
		if c.Placeholder {
			ph++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(ph) / float64(total)
}

// leastSpoken returns up to two persona names with the fewest real
// contributions so far, sorted by count then name for determinism.
func leastSpoken(history []panel.Contribution, personas []panel.PersonaAssignment) []string {
	if len(personas) == 0 {
		return nil
	}

	counts := make(map[string]int, len(personas))
	for _, pa := range personas {
		counts[pa.Name] = 0
	}
	for _, c := range history {
		if c.Placeholder {
			continue
		}
		if _, ok := counts[c.Persona]; ok {
			counts[c.Persona]++
		}
	}

	names := make([]string, 0, len(counts))
	for n := range counts {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] < counts[names[j]]
		}
		return names[i] < names[j]
	})

	if len(names) > 2 {
		names = names[:2]
	}
	return names
}
