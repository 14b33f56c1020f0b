// Package round runs a single deliberation round: it fans a prompt out to
// the assigned personas concurrently, parses the structured replies, and
// flags near-duplicate contributions.
package round

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/panelkit/boardroom/board/gateway"
	"github.com/panelkit/boardroom/board/panel"
)

// Completer is the slice of the model gateway the round engine needs.
type Completer interface {
	Complete(ctx context.Context, sessionID string, req gateway.Request) (gateway.Response, error)
}

// Engine produces contributions for one round.
type Engine struct {
	gw           Completer
	embedder     Embedder
	callTimeout  time.Duration
	maxTokens    int
	dupThreshold float64
}

// Option configures an Engine.
type Option func(*Engine)

// WithCallTimeout bounds each persona call. Default 90s.
func WithCallTimeout(d time.Duration) Option {
	return func(e *Engine) { e.callTimeout = d }
}

// WithMaxTokens caps each persona reply. Default 1024.
func WithMaxTokens(n int) Option {
	return func(e *Engine) { e.maxTokens = n }
}

// WithEmbedder replaces the default token-hash embedder.
func WithEmbedder(emb Embedder) Option {
	return func(e *Engine) { e.embedder = emb }
}

// WithDuplicateThreshold sets the cosine similarity above which a
// contribution is flagged as a near-duplicate. Default 0.9.
func WithDuplicateThreshold(t float64) Option {
	return func(e *Engine) { e.dupThreshold = t }
}

// New returns a round engine backed by the given gateway.
func New(gw Completer, opts ...Option) *Engine {
	e := &Engine{
		gw:           gw,
		embedder:     NewHashEmbedder(),
		callTimeout:  90 * time.Second,
		maxTokens:    1024,
		dupThreshold: 0.9,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Input describes one round to run.
type Input struct {
	SessionID  string
	SubProblem panel.SubProblem
	SubIndex   int
	Round      int
	Phase      panel.Phase
	Personas   []panel.PersonaAssignment

	// Focus narrows the round to the named personas. Empty means all.
	Focus []string

	// History holds all prior contributions for this sub-problem, used
	// both as prompt context and for duplicate detection.
	History []panel.Contribution

	// Guidance carries an optional facilitator note (moderation reframe,
	// research direction, clarification answer) injected into prompts.
	Guidance string
}

// Run executes the round. Personas are called concurrently; a persona
// whose reply cannot be parsed is retried once with a corrective
// instruction, and failing that contributes a placeholder so the round
// completes with the panel at full width. The returned slice is ordered
// by persona assignment order regardless of completion order.
func (e *Engine) Run(ctx context.Context, in Input) ([]panel.Contribution, error) {
	active := e.activePersonas(in)
	if len(active) == 0 {
		return nil, fmt.Errorf("round %d: no personas to dispatch", in.Round)
	}

	results := make([]panel.Contribution, len(active))
	var wg sync.WaitGroup
	for i, pa := range active {
		wg.Add(1)
		go func(i int, pa panel.PersonaAssignment) {
			defer wg.Done()
			results[i] = e.contribute(ctx, in, pa)
		}(i, pa)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.flagDuplicates(results, in.History)
	return results, nil
}

func (e *Engine) activePersonas(in Input) []panel.PersonaAssignment {
	if len(in.Focus) == 0 {
		return in.Personas
	}
	focus := make(map[string]struct{}, len(in.Focus))
	for _, n := range in.Focus {
		focus[n] = struct{}{}
	}
	var out []panel.PersonaAssignment
	for _, pa := range in.Personas {
		if _, ok := focus[pa.Name]; ok {
			out = append(out, pa)
		}
	}
	if len(out) == 0 {
		return in.Personas
	}
	return out
}

// contribute calls one persona and always returns a contribution; parse
// and transport failures degrade to a placeholder rather than sinking the
// round.
func (e *Engine) contribute(ctx context.Context, in Input, pa panel.PersonaAssignment) panel.Contribution {
	c := panel.Contribution{
		ID:         uuid.NewString(),
		Persona:    pa.Name,
		SubProblem: in.SubIndex,
		Round:      in.Round,
		Phase:      in.Phase,
	}

	req := gateway.Request{
		System:    personaSystem(pa),
		Prompt:    roundPrompt(in, pa),
		Tier:      tierFor(in.Phase),
		MaxTokens: e.maxTokens,
	}

	resp, reply, err := e.completeParsed(ctx, in.SessionID, req)
	if err != nil {
		c.Placeholder = true
		c.Content = fmt.Sprintf("(%s did not contribute this round: %v)", pa.Name, err)
		return c
	}

	c.Content = reply.Argument
	c.Summary = &panel.Summary{Stance: reply.Stance, KeyPoints: reply.KeyPoints}
	c.Embedding = e.embedder.Embed(reply.Argument)
	c.CostUSD = resp.CostUSD
	c.InputTokens = resp.Usage.InputTokens
	c.OutputTokens = resp.Usage.OutputTokens
	return c
}

// completeParsed performs the call-parse cycle with exactly one corrective
// retry on a malformed reply.
func (e *Engine) completeParsed(ctx context.Context, sessionID string, req gateway.Request) (gateway.Response, contributionReply, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()

	resp, err := e.gw.Complete(callCtx, sessionID, req)
	if err != nil {
		return gateway.Response{}, contributionReply{}, err
	}
	reply, perr := parseReply(resp.Text)
	if perr == nil {
		return resp, reply, nil
	}

	retry := req
	retry.Prompt = req.Prompt + "\n\nYour previous reply was not valid JSON. Respond again with ONLY the JSON object, no prose."
	retryCtx, cancel2 := context.WithTimeout(ctx, e.callTimeout)
	defer cancel2()

	resp2, err := e.gw.Complete(retryCtx, sessionID, retry)
	if err != nil {
		return gateway.Response{}, contributionReply{}, err
	}
	reply, perr = parseReply(resp2.Text)
	if perr != nil {
		return gateway.Response{}, contributionReply{}, perr
	}
	// Charge both calls to the contribution.
	resp2.CostUSD += resp.CostUSD
	resp2.Usage.InputTokens += resp.Usage.InputTokens
	resp2.Usage.OutputTokens += resp.Usage.OutputTokens
	return resp2, reply, nil
}

// flagDuplicates marks contributions whose embedding sits too close to an
// earlier contribution, scanning history first and then earlier peers in
// the same round so exactly one of a duplicate pair keeps priority.
func (e *Engine) flagDuplicates(results []panel.Contribution, history []panel.Contribution) {
	for i := range results {
		if results[i].Placeholder {
			continue
		}
		if id := e.closestOver(results[i], history); id != "" {
			results[i].DuplicateOf = id
			continue
		}
		if id := e.closestOver(results[i], results[:i]); id != "" {
			results[i].DuplicateOf = id
		}
	}
}

func (e *Engine) closestOver(c panel.Contribution, pool []panel.Contribution) string {
	bestID := ""
	best := e.dupThreshold
	for _, p := range pool {
		if p.Placeholder || len(p.Embedding) == 0 {
			continue
		}
		if s := Cosine(c.Embedding, p.Embedding); s >= best {
			best = s
			bestID = p.ID
		}
	}
	return bestID
}

func tierFor(phase panel.Phase) gateway.Tier {
	if phase == panel.PhaseConvergent {
		return gateway.TierStrong
	}
	return gateway.TierFast
}

func personaSystem(pa panel.PersonaAssignment) string {
	return fmt.Sprintf(
		"You are %s, a %s with expertise in %s. %s\nAlways reply with a single JSON object: {\"stance\": string, \"key_points\": [string], \"argument\": string}.",
		pa.Name, pa.Archetype, pa.Expertise, pa.Directive)
}

func roundPrompt(in Input, pa panel.PersonaAssignment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sub-problem: %s\n", in.SubProblem.Goal)
	if len(in.SubProblem.KeyQuestions) > 0 {
		b.WriteString("Key questions:\n")
		for _, q := range in.SubProblem.KeyQuestions {
			fmt.Fprintf(&b, "- %s\n", q)
		}
	}
	fmt.Fprintf(&b, "\nRound %d (%s phase).\n", in.Round, in.Phase)
	if in.Guidance != "" {
		fmt.Fprintf(&b, "Facilitator guidance: %s\n", in.Guidance)
	}

	if recent := recentContext(in.History, pa.Name); recent != "" {
		b.WriteString("\nDiscussion so far:\n")
		b.WriteString(recent)
	}

	switch in.Phase {
	case panel.PhaseDivergent:
		b.WriteString("\nOffer your strongest independent position. Challenge assumptions other panelists may share.")
	case panel.PhaseConvergent:
		b.WriteString("\nWork toward a defensible joint position. Address the strongest opposing argument directly.")
	case panel.PhaseResearch:
		b.WriteString("\nFocus on the key questions that remain unanswered. Bring concrete evidence or analysis.")
	case panel.PhaseClarify:
		b.WriteString("\nThe framing was ambiguous. Restate your position under the clarified framing.")
	}
	return b.String()
}

// recentContext renders the last two rounds of others' contributions,
// keeping prompt size bounded.
func recentContext(history []panel.Contribution, self string) string {
	if len(history) == 0 {
		return ""
	}
	lastRound := 0
	for _, c := range history {
		if c.Round > lastRound {
			lastRound = c.Round
		}
	}
	var b strings.Builder
	for _, c := range history {
		if c.Placeholder || c.Persona == self || c.Round < lastRound-1 {
			continue
		}
		stance := ""
		if c.Summary != nil {
			stance = c.Summary.Stance
		}
		fmt.Fprintf(&b, "[round %d] %s: %s\n", c.Round, c.Persona, stance)
	}
	return b.String()
}
