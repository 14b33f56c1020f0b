package vote

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/panelkit/boardroom/board/gateway"
	"github.com/panelkit/boardroom/board/panel"
)

type synthesisReply struct {
	Narrative string   `json:"narrative"`
	Citations []string `json:"citations"`
}

// Synthesize writes the closing narrative for one sub-problem, grounded in
// the tally outcome and citing contribution IDs. A malformed reply is
// retried once; if it still cannot be parsed the raw text becomes the
// narrative and every real contribution is cited, so the session never
// loses a synthesis to formatting.
func (e *Engine) Synthesize(
	ctx context.Context,
	sessionID string,
	subIdx int,
	sub panel.SubProblem,
	history []panel.Contribution,
	recs []panel.Recommendation,
	outcome Outcome,
) (panel.SynthesisResult, float64, error) {
	req := gateway.Request{
		System: "You are the panel secretary. Write the decision record for a completed deliberation.\n" +
			"Reply with ONLY a JSON object: {\"narrative\": string, \"citations\": [contribution-id]}.\n" +
			"Cite only contribution IDs that appear in the transcript.",
		Prompt:    synthesisPrompt(sub, history, recs, outcome),
		Tier:      gateway.TierStrong,
		MaxTokens: e.maxTokens,
	}

	var cost float64
	raw, c, err := e.completeOnce(ctx, sessionID, req)
	cost += c
	if err != nil {
		return panel.SynthesisResult{}, cost, fmt.Errorf("synthesize sub-problem %d: %w", subIdx, err)
	}

	sr, perr := parseSynthesis(raw)
	if perr != nil {
		retry := req
		retry.Prompt = req.Prompt + "\n\nYour previous reply was not valid JSON. Respond again with ONLY the JSON object."
		raw2, c2, err := e.completeOnce(ctx, sessionID, retry)
		cost += c2
		if err != nil {
			return panel.SynthesisResult{}, cost, fmt.Errorf("synthesize sub-problem %d: %w", subIdx, err)
		}
		if sr, perr = parseSynthesis(raw2); perr != nil {
			sr = synthesisReply{Narrative: strings.TrimSpace(raw), Citations: allContributionIDs(history)}
		}
	}

	return panel.SynthesisResult{
		SubProblem: subIdx,
		Narrative:  sr.Narrative,
		Citations:  validCitations(sr.Citations, history),
	}, cost, nil
}

// MetaSynthesize composes the cross-sub-problem final answer. Sections are
// attributed by sub-problem index; the narrative ties them back to the
// original problem statement.
func (e *Engine) MetaSynthesize(
	ctx context.Context,
	sessionID string,
	problem string,
	sections []panel.SynthesisResult,
) (panel.MetaSynthesis, float64, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Original problem: %s\n\nPer-sub-problem decisions:\n", problem)
	for _, s := range sections {
		fmt.Fprintf(&b, "\n[sub-problem %d]\n%s\n", s.SubProblem, s.Narrative)
	}
	b.WriteString("\nWrite a single coherent answer to the original problem that draws on each decision above, referencing sub-problems by index where relevant.")

	req := gateway.Request{
		System:    "You are the panel secretary. Compose the final integrated answer. Reply in plain prose.",
		Prompt:    b.String(),
		Tier:      gateway.TierStrong,
		MaxTokens: e.maxTokens,
	}

	raw, cost, err := e.completeOnce(ctx, sessionID, req)
	if err != nil {
		return panel.MetaSynthesis{}, cost, fmt.Errorf("meta-synthesis: %w", err)
	}
	return panel.MetaSynthesis{
		Narrative: strings.TrimSpace(raw),
		Sections:  sections,
	}, cost, nil
}

func parseSynthesis(raw string) (synthesisReply, error) {
	body := panel.ExtractJSON(raw)
	if body == "" {
		return synthesisReply{}, fmt.Errorf("%w: no JSON object found", ErrMalformed)
	}
	var sr synthesisReply
	if err := json.Unmarshal([]byte(body), &sr); err != nil {
		return synthesisReply{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if strings.TrimSpace(sr.Narrative) == "" {
		return synthesisReply{}, fmt.Errorf("%w: missing narrative", ErrMalformed)
	}
	return sr, nil
}

func synthesisPrompt(sub panel.SubProblem, history []panel.Contribution, recs []panel.Recommendation, outcome Outcome) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sub-problem: %s\n", sub.Goal)
	fmt.Fprintf(&b, "Winning option: %s (unanimous: %v)\n\nVotes:\n", outcome.Winner, outcome.Unanimous)
	for _, r := range recs {
		fmt.Fprintf(&b, "- %s: %s (%s) — %s\n", r.Persona, r.Option, r.Confidence, r.Rationale)
	}
	b.WriteString("\nTranscript:\n")
	for _, c := range history {
		if c.Placeholder {
			continue
		}
		fmt.Fprintf(&b, "[%s] %s (round %d): %s\n", c.ID, c.Persona, c.Round, c.Content)
	}
	b.WriteString("\nWrite the narrative: the decision, the strongest arguments for and against, and the dissent if any.")
	return b.String()
}

// validCitations keeps only citations present in the transcript,
// preserving order and dropping duplicates.
func validCitations(cites []string, history []panel.Contribution) []string {
	known := make(map[string]struct{}, len(history))
	for _, c := range history {
		if !c.Placeholder {
			known[c.ID] = struct{}{}
		}
	}
	var out []string
	seen := make(map[string]struct{})
	for _, id := range cites {
		if _, ok := known[id]; !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func allContributionIDs(history []panel.Contribution) []string {
	var out []string
	for _, c := range history {
		if !c.Placeholder {
			out = append(out, c.ID)
		}
	}
	return out
}
