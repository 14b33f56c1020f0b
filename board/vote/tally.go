package vote

import (
	"sort"
	"strings"

	"github.com/panelkit/boardroom/board/panel"
)

// Confidence weights for the tally. Abstentions carry no weight.
const (
	weightHigh   = 3.0
	weightMedium = 2.0
	weightLow    = 1.0
)

// Outcome is the result of a confidence-weighted tally.
type Outcome struct {
	// Winner is the option with the highest total weight. Empty when
	// every persona abstained.
	Winner string

	// Weights maps each canonical option to its accumulated weight.
	Weights map[string]float64

	// Unanimous reports whether every non-abstaining persona picked the
	// winner.
	Unanimous bool
}

// Tally computes the weighted outcome. Options are canonicalized by
// trimming and lowercasing so cosmetic variance does not split a vote.
// Ties break lexicographically on the canonical option, keeping the
// tally deterministic.
func Tally(recs []panel.Recommendation) Outcome {
	out := Outcome{Weights: make(map[string]float64)}

	voters := 0
	for _, r := range recs {
		opt := canonical(r.Option)
		if opt == "" || opt == "abstain" {
			continue
		}
		voters++
		out.Weights[opt] += weightOf(r.Confidence)
	}
	if voters == 0 {
		return out
	}

	options := make([]string, 0, len(out.Weights))
	for opt := range out.Weights {
		options = append(options, opt)
	}
	sort.Slice(options, func(i, j int) bool {
		if out.Weights[options[i]] != out.Weights[options[j]] {
			return out.Weights[options[i]] > out.Weights[options[j]]
		}
		return options[i] < options[j]
	})
	out.Winner = options[0]

	winners := 0
	for _, r := range recs {
		if canonical(r.Option) == out.Winner {
			winners++
		}
	}
	out.Unanimous = winners == voters
	return out
}

func weightOf(c panel.Confidence) float64 {
	switch c {
	case panel.ConfidenceHigh:
		return weightHigh
	case panel.ConfidenceLow:
		return weightLow
	default:
		return weightMedium
	}
}

func canonical(opt string) string {
	return strings.ToLower(strings.TrimSpace(opt))
}
