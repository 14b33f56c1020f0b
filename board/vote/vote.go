// Package vote closes out deliberation: it collects one recommendation
// per persona, tallies them with confidence weighting, and produces the
// per-sub-problem synthesis and the final meta-synthesis.
package vote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/panelkit/boardroom/board/gateway"
	"github.com/panelkit/boardroom/board/panel"
)

// ErrMalformed reports a vote or synthesis reply that could not be parsed.
var ErrMalformed = errors.New("vote: malformed reply")

// Completer is the slice of the model gateway the vote engine needs.
type Completer interface {
	Complete(ctx context.Context, sessionID string, req gateway.Request) (gateway.Response, error)
}

// Engine drives voting and synthesis via the gateway.
type Engine struct {
	gw          Completer
	callTimeout time.Duration
	maxTokens   int
}

// Option configures an Engine.
type Option func(*Engine)

// WithCallTimeout bounds each model call. Default 90s.
func WithCallTimeout(d time.Duration) Option {
	return func(e *Engine) { e.callTimeout = d }
}

// WithMaxTokens caps synthesis length. Default 2048.
func WithMaxTokens(n int) Option {
	return func(e *Engine) { e.maxTokens = n }
}

// New returns a vote engine backed by the given gateway.
func New(gw Completer, opts ...Option) *Engine {
	e := &Engine{gw: gw, callTimeout: 90 * time.Second, maxTokens: 2048}
	for _, o := range opts {
		o(e)
	}
	return e
}

type voteReply struct {
	Option     string `json:"option"`
	Rationale  string `json:"rationale"`
	Confidence string `json:"confidence"`
}

// Collect gathers one recommendation per persona concurrently. A persona
// whose reply cannot be parsed after one corrective retry is recorded as
// abstaining with low confidence rather than dropped, so the tally always
// covers the full panel. Results are in persona assignment order.
func (e *Engine) Collect(
	ctx context.Context,
	sessionID string,
	subIdx int,
	sub panel.SubProblem,
	personas []panel.PersonaAssignment,
	history []panel.Contribution,
) ([]panel.Recommendation, float64, error) {
	if len(personas) == 0 {
		return nil, 0, fmt.Errorf("vote: no personas for sub-problem %d", subIdx)
	}

	recs := make([]panel.Recommendation, len(personas))
	costs := make([]float64, len(personas))
	var wg sync.WaitGroup
	for i, pa := range personas {
		wg.Add(1)
		go func(i int, pa panel.PersonaAssignment) {
			defer wg.Done()
			recs[i], costs[i] = e.collectOne(ctx, sessionID, subIdx, sub, pa, history)
		}(i, pa)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	var total float64
	for _, c := range costs {
		total += c
	}
	return recs, total, nil
}

func (e *Engine) collectOne(
	ctx context.Context,
	sessionID string,
	subIdx int,
	sub panel.SubProblem,
	pa panel.PersonaAssignment,
	history []panel.Contribution,
) (panel.Recommendation, float64) {
	rec := panel.Recommendation{
		Persona:    pa.Name,
		SubProblem: subIdx,
		Option:     "abstain",
		Confidence: panel.ConfidenceLow,
	}

	req := gateway.Request{
		System: fmt.Sprintf(
			"You are %s, a %s. Deliberation is over; cast your final recommendation.\nReply with ONLY a JSON object: {\"option\": string, \"rationale\": string, \"confidence\": \"HIGH\"|\"MEDIUM\"|\"LOW\"}.",
			pa.Name, pa.Archetype),
		Prompt:    votePrompt(sub, pa.Name, history),
		Tier:      gateway.TierStrong,
		MaxTokens: 512,
	}

	var cost float64
	raw, c, err := e.completeOnce(ctx, sessionID, req)
	cost += c
	if err != nil {
		rec.Rationale = fmt.Sprintf("no vote recorded: %v", err)
		return rec, cost
	}

	vr, perr := parseVote(raw)
	if perr != nil {
		retry := req
		retry.Prompt = req.Prompt + "\n\nYour previous reply was not valid JSON. Respond again with ONLY the JSON object."
		raw, c, err = e.completeOnce(ctx, sessionID, retry)
		cost += c
		if err != nil {
			rec.Rationale = fmt.Sprintf("no vote recorded: %v", err)
			return rec, cost
		}
		if vr, perr = parseVote(raw); perr != nil {
			rec.Rationale = fmt.Sprintf("no vote recorded: %v", perr)
			return rec, cost
		}
	}

	rec.Option = strings.TrimSpace(vr.Option)
	rec.Rationale = vr.Rationale
	rec.Confidence = panel.ParseConfidence(vr.Confidence)
	return rec, cost
}

func (e *Engine) completeOnce(ctx context.Context, sessionID string, req gateway.Request) (string, float64, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()
	resp, err := e.gw.Complete(callCtx, sessionID, req)
	if err != nil {
		return "", 0, err
	}
	return resp.Text, resp.CostUSD, nil
}

func parseVote(raw string) (voteReply, error) {
	body := panel.ExtractJSON(raw)
	if body == "" {
		return voteReply{}, fmt.Errorf("%w: no JSON object found", ErrMalformed)
	}
	var vr voteReply
	if err := json.Unmarshal([]byte(body), &vr); err != nil {
		return voteReply{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if strings.TrimSpace(vr.Option) == "" {
		return voteReply{}, fmt.Errorf("%w: missing option", ErrMalformed)
	}
	return vr, nil
}

func votePrompt(sub panel.SubProblem, self string, history []panel.Contribution) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sub-problem: %s\n\nFinal positions on the table:\n", sub.Goal)
	for _, c := range history {
		if c.Placeholder || c.Summary == nil {
			continue
		}
		fmt.Fprintf(&b, "- %s (round %d): %s\n", c.Persona, c.Round, c.Summary.Stance)
	}
	fmt.Fprintf(&b, "\nAs %s, name the option you recommend and your confidence in it.", self)
	return b.String()
}
