// Package facilitate decides, round over round, whether a panel keeps
// deliberating, and measures how the discussion is converging.
//
// The metric functions are pure over round history: no gateway, no state,
// no randomness. The facilitator policy is deterministic; given the same
// history it always picks the same action.
package facilitate

import (
	"math"
	"strings"

	"github.com/panelkit/boardroom/board/panel"
)

// Thresholds configures convergence detection.
type Thresholds struct {
	// MinRounds is the minimum round count before convergence or a vote
	// can be declared.
	MinRounds int

	// MaxRounds caps deliberation regardless of convergence.
	MaxRounds int

	// LowNovelty is the ceiling below which a round adds nothing new.
	LowNovelty float64

	// HighAgreement is the floor above which the panel effectively
	// agrees.
	HighAgreement float64

	// HighDrift is the ceiling above which the panel has wandered from
	// the framing and needs moderation.
	HighDrift float64

	// MinCoverage is the fraction of key questions that must be touched
	// before agreement alone justifies a vote.
	MinCoverage float64
}

// DefaultThresholds returns the standard tuning.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinRounds:     2,
		MaxRounds:     6,
		LowNovelty:    0.25,
		HighAgreement: 0.7,
		HighDrift:     0.75,
		MinCoverage:   0.5,
	}
}

// Metrics computes the derived metrics for the given round from the full
// contribution history of one sub-problem. framing is the sub-problem goal
// plus key questions; personas is the assigned panel.
func Metrics(history []panel.Contribution, round int, framing string, personas []panel.PersonaAssignment) panel.RoundMetrics {
	var current, prior []panel.Contribution
	for _, c := range history {
		switch {
		case c.Round == round:
			current = append(current, c)
		case c.Round < round:
			prior = append(prior, c)
		}
	}

	return panel.RoundMetrics{
		Round:          round,
		Novelty:        Novelty(current, prior),
		Agreement:      Agreement(current),
		Drift:          Drift(current, framing),
		RotationSpread: RotationSpread(history, personas),
	}
}

// Novelty measures how far the round's contributions sit from the
// cumulative prior discussion, in [0,1]. The first round is maximally
// novel by definition.
func Novelty(current, prior []panel.Contribution) float64 {
	real := nonPlaceholder(current)
	if len(real) == 0 {
		return 0
	}
	if len(nonPlaceholder(prior)) == 0 {
		return 1
	}

	var sum float64
	for _, c := range real {
		best := 0.0
		for _, p := range nonPlaceholder(prior) {
			if s := similarity(c, p); s > best {
				best = s
			}
		}
		sum += 1 - best
	}
	return sum / float64(len(real))
}

// Agreement is the mean pairwise stance similarity within a round, in
// [0,1]. A round with fewer than two real contributions scores full
// agreement: there is nothing left to disagree.
func Agreement(current []panel.Contribution) float64 {
	real := nonPlaceholder(current)
	if len(real) < 2 {
		return 1
	}

	var sum float64
	var pairs int
	for i := 0; i < len(real); i++ {
		for j := i + 1; j < len(real); j++ {
			sum += stanceSimilarity(real[i], real[j])
			pairs++
		}
	}
	return sum / float64(pairs)
}

// Drift measures divergence from the original framing, in [0,1].
func Drift(current []panel.Contribution, framing string) float64 {
	real := nonPlaceholder(current)
	if len(real) == 0 || framing == "" {
		return 0
	}

	frame := tokens(framing)
	var sum float64
	for _, c := range real {
		sum += 1 - jaccard(tokens(c.Content), frame)
	}
	return sum / float64(len(real))
}

// RotationSpread measures how evenly personas have contributed across all
// rounds so far: 1 means perfectly even, approaching 0 means one voice
// dominates.
func RotationSpread(history []panel.Contribution, personas []panel.PersonaAssignment) float64 {
	if len(personas) == 0 {
		return 1
	}

	counts := make(map[string]int, len(personas))
	for _, pa := range personas {
		counts[pa.Name] = 0
	}
	total := 0
	for _, c := range history {
		if c.Placeholder {
			continue
		}
		counts[c.Persona]++
		total++
	}
	if total == 0 {
		return 1
	}

	// Normalized inverse of the max deviation from a fair share.
	fair := float64(total) / float64(len(personas))
	var maxDev float64
	for _, n := range counts {
		if dev := math.Abs(float64(n) - fair); dev > maxDev {
			maxDev = dev
		}
	}
	return 1 - maxDev/float64(total)
}

// Coverage is the fraction of key questions with at least one contribution
// sharing vocabulary with the question.
func Coverage(history []panel.Contribution, questions []string) float64 {
	if len(questions) == 0 {
		return 1
	}

	covered := 0
	for _, q := range questions {
		qt := tokens(q)
		for _, c := range history {
			if c.Placeholder {
				continue
			}
			if jaccard(qt, tokens(c.Content)) > 0.1 {
				covered++
				break
			}
		}
	}
	return float64(covered) / float64(len(questions))
}

// Converged reports whether the sub-problem has converged under the given
// thresholds: agreement at or above the floor, novelty at or below the
// ceiling, and the minimum round count satisfied.
func Converged(m panel.RoundMetrics, t Thresholds) bool {
	return m.Round >= t.MinRounds &&
		m.Agreement >= t.HighAgreement &&
		m.Novelty <= t.LowNovelty
}

// similarity compares two contributions, preferring embeddings when both
// carry one and falling back to token overlap.
func similarity(a, b panel.Contribution) float64 {
	if len(a.Embedding) > 0 && len(a.Embedding) == len(b.Embedding) {
		return cosine(a.Embedding, b.Embedding)
	}
	return jaccard(tokens(a.Content), tokens(b.Content))
}

// stanceSimilarity compares the structured stances when present, falling
// back to full-content similarity.
func stanceSimilarity(a, b panel.Contribution) float64 {
	if a.Summary != nil && b.Summary != nil && a.Summary.Stance != "" && b.Summary.Stance != "" {
		return jaccard(tokens(a.Summary.Stance), tokens(b.Summary.Stance))
	}
	return similarity(a, b)
}

func nonPlaceholder(cs []panel.Contribution) []panel.Contribution {
	var out []panel.Contribution
	for _, c := range cs {
		if !c.Placeholder {
			out = append(out, c)
		}
	}
	return out
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func tokens(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ".,;:!?()[]{}\"'")
		if len(w) > 2 {
			out[w] = struct{}{}
		}
	}
	return out
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
