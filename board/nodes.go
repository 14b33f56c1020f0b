package board

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/panelkit/boardroom/board/budget"
	"github.com/panelkit/boardroom/board/event"
	"github.com/panelkit/boardroom/board/facilitate"
	"github.com/panelkit/boardroom/board/gateway"
	"github.com/panelkit/boardroom/board/panel"
	"github.com/panelkit/boardroom/board/round"
	"github.com/panelkit/boardroom/board/vote"
)

// nodeResult is what a handler hands back to the run loop: events to
// publish (the loop is the only publisher) and the next node.
type nodeResult struct {
	intents []event.Intent
	next    Node
}

// runNode dispatches on the current node. Handlers mutate st in place;
// the loop owns publication and checkpointing.
func (e *Engine) runNode(ctx context.Context, st *State) (nodeResult, error) {
	switch st.Node {
	case NodeContextCollection:
		return e.nodeContextCollection(ctx, st)
	case NodeDecompose:
		return e.nodeDecompose(ctx, st)
	case NodeIdentifyGaps:
		return e.nodeIdentifyGaps(ctx, st)
	case NodeAnalyzeDependencies:
		return e.nodeAnalyzeDependencies(ctx, st)
	case NodeSelectPersonas:
		return e.nodeSelectPersonas(ctx, st)
	case NodeInitialRound:
		return e.nodeRound(ctx, st, true)
	case NodeParallelRound:
		return e.nodeRound(ctx, st, false)
	case NodeCostGuard:
		return e.nodeCostGuard(st)
	case NodeCheckConvergence:
		return e.nodeCheckConvergence(st)
	case NodeFacilitatorDecide:
		return e.nodeFacilitatorDecide(st)
	case NodeVote:
		return e.nodeVote(ctx, st)
	case NodeSynthesize:
		return e.nodeSynthesize(ctx, st)
	case NodeNextSubProblem:
		return e.nodeNextSubProblem(st)
	case NodeMetaSynthesis:
		return e.nodeMetaSynthesis(ctx, st)
	default:
		return nodeResult{}, fmt.Errorf("%w: %q", ErrUnknownNode, st.Node)
	}
}

// nodeContextCollection gathers background the panels will deliberate
// against. A failed call is tolerated; deliberation proceeds on the raw
// problem statement.
func (e *Engine) nodeContextCollection(ctx context.Context, st *State) (nodeResult, error) {
	resp, err := e.gw.Complete(ctx, st.SessionID, gateway.Request{
		System:    "You prepare briefing notes for an expert panel.",
		Prompt:    fmt.Sprintf("Problem:\n%s\n\nList the key background facts, constraints, and success criteria implied by this problem. Plain prose, under 300 words.", st.Problem),
		Tier:      gateway.TierFast,
		MaxTokens: 512,
	})
	if err == nil {
		st.Context = strings.TrimSpace(resp.Text)
		st.SpentUSD += resp.CostUSD
	}
	return nodeResult{next: NodeDecompose}, nil
}

type decomposeReply struct {
	SubProblems []struct {
		Goal         string   `json:"goal"`
		KeyQuestions []string `json:"key_questions"`
	} `json:"sub_problems"`
}

// nodeDecompose splits the problem into sub-problems. A reply that cannot
// be parsed after one retry collapses to a single sub-problem covering
// the whole statement, so decomposition failure never sinks a session.
func (e *Engine) nodeDecompose(ctx context.Context, st *State) (nodeResult, error) {
	req := gateway.Request{
		System: "You structure problems for expert panels.\n" +
			"Reply with ONLY a JSON object: {\"sub_problems\": [{\"goal\": string, \"key_questions\": [string]}]}. At most 4 sub-problems.",
		Prompt:    fmt.Sprintf("Problem:\n%s\n\nContext:\n%s", st.Problem, st.Context),
		Tier:      gateway.TierStrong,
		MaxTokens: 1024,
	}

	var dr decomposeReply
	ok := e.completeJSON(ctx, st, req, &dr) && len(dr.SubProblems) > 0
	if ok {
		for _, sp := range dr.SubProblems {
			st.SubProblems = append(st.SubProblems, panel.SubProblem{
				Goal:         sp.Goal,
				KeyQuestions: sp.KeyQuestions,
			})
		}
	} else {
		st.SubProblems = []panel.SubProblem{{Goal: st.Problem}}
	}

	goals := make([]string, len(st.SubProblems))
	for i, sp := range st.SubProblems {
		goals[i] = sp.Goal
	}
	return nodeResult{
		intents: []event.Intent{event.NewIntent(event.TypeDecompositionComplete, map[string]any{
			"count": len(st.SubProblems),
			"goals": goals,
		})},
		next: NodeIdentifyGaps,
	}, nil
}

type gapsReply struct {
	Gaps []struct {
		Description string `json:"description"`
		Blocking    bool   `json:"blocking"`
	} `json:"gaps"`
}

// nodeIdentifyGaps finds missing information. Each gap is published; a
// blocking gap parks the session awaiting an operator clarification.
func (e *Engine) nodeIdentifyGaps(ctx context.Context, st *State) (nodeResult, error) {
	req := gateway.Request{
		System: "You review problem framings for missing information.\n" +
			"Reply with ONLY a JSON object: {\"gaps\": [{\"description\": string, \"blocking\": bool}]}. Mark a gap blocking only if deliberation cannot sensibly start without the answer.",
		Prompt:    fmt.Sprintf("Problem:\n%s\n\nContext:\n%s", st.Problem, st.Context),
		Tier:      gateway.TierFast,
		MaxTokens: 512,
	}

	var gr gapsReply
	e.completeJSON(ctx, st, req, &gr)

	var intents []event.Intent
	for _, g := range gr.Gaps {
		st.Gaps = append(st.Gaps, g.Description)
		intents = append(intents, event.NewIntent(event.TypeGapDetected, map[string]any{
			"description": g.Description,
			"blocking":    g.Blocking,
		}))
		if g.Blocking && st.PendingClarification == "" {
			st.PendingClarification = g.Description
		}
	}
	if st.PendingClarification != "" {
		st.Status = StatusAwaiting
		intents = append(intents, event.NewIntent(event.TypeClarificationRequest, map[string]any{
			"question": st.PendingClarification,
		}))
	}

	next := NodeAnalyzeDependencies
	if e.topology == TopologySequential {
		next = NodeSelectPersonas
	}
	return nodeResult{intents: intents, next: next}, nil
}

type depsReply struct {
	Batches [][]int `json:"batches"`
}

// nodeAnalyzeDependencies orders sub-problems into batches; sub-problems
// in the same batch are independent of each other. An unparseable reply
// puts everything in batch zero.
func (e *Engine) nodeAnalyzeDependencies(ctx context.Context, st *State) (nodeResult, error) {
	if ans := st.Clarification; ans != "" {
		st.Context += "\n\nClarification: " + ans
		st.Clarification = ""
	}

	if len(st.SubProblems) > 1 {
		goals := make([]string, len(st.SubProblems))
		for i, sp := range st.SubProblems {
			goals[i] = fmt.Sprintf("%d: %s", i, sp.Goal)
		}
		req := gateway.Request{
			System: "You order work by dependency.\n" +
				"Reply with ONLY a JSON object: {\"batches\": [[index]]}. Earlier batches must not depend on later ones; every index appears exactly once.",
			Prompt:    "Sub-problems:\n" + strings.Join(goals, "\n"),
			Tier:      gateway.TierFast,
			MaxTokens: 256,
		}
		var dr depsReply
		if e.completeJSON(ctx, st, req, &dr) && coversAll(dr.Batches, len(st.SubProblems)) {
			for b, batch := range dr.Batches {
				for _, idx := range batch {
					st.SubProblems[idx].Batch = b
				}
			}
		}
	}

	batches := make([]int, len(st.SubProblems))
	for i, sp := range st.SubProblems {
		batches[i] = sp.Batch
	}
	st.Order = executionOrder(st.SubProblems)
	st.Cursor = 0
	st.Current = st.Order[0]
	return nodeResult{
		intents: []event.Intent{event.NewIntent(event.TypeDependenciesAnalyzed, map[string]any{
			"batches": batches,
			"order":   st.Order,
		})},
		next: NodeSelectPersonas,
	}, nil
}

// executionOrder flattens batch assignments into the order sub-problems
// are worked: earlier batches first, decomposition order within a batch.
func executionOrder(subs []panel.SubProblem) []int {
	order := make([]int, len(subs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return subs[order[a]].Batch < subs[order[b]].Batch
	})
	return order
}

// coversAll reports whether batches form a permutation of 0..n-1.
func coversAll(batches [][]int, n int) bool {
	seen := make(map[int]bool, n)
	for _, b := range batches {
		for _, idx := range b {
			if idx < 0 || idx >= n || seen[idx] {
				return false
			}
			seen[idx] = true
		}
	}
	return len(seen) == n
}

type personasReply struct {
	Personas []struct {
		Name      string `json:"name"`
		Archetype string `json:"archetype"`
		Expertise string `json:"expertise"`
		Directive string `json:"directive"`
	} `json:"personas"`
}

// defaultPanel is the fallback when persona selection cannot be parsed.
func defaultPanel() []panel.PersonaAssignment {
	return []panel.PersonaAssignment{
		{Name: "Pragmatist", Archetype: "practitioner", Expertise: "delivery and operations", Directive: "Keep the panel grounded in what can actually be executed."},
		{Name: "Skeptic", Archetype: "critic", Expertise: "risk and failure modes", Directive: "Attack weak assumptions and name the risks others skip."},
		{Name: "Visionary", Archetype: "strategist", Expertise: "long-range positioning", Directive: "Argue for the option with the best long-term payoff."},
	}
}

// nodeSelectPersonas convenes the panel for the current sub-problem.
func (e *Engine) nodeSelectPersonas(ctx context.Context, st *State) (nodeResult, error) {
	sp := st.currentProblem()
	req := gateway.Request{
		System: fmt.Sprintf(
			"You staff expert panels. Pick between %d and %d personas with genuinely distinct perspectives.\n"+
				"Reply with ONLY a JSON object: {\"personas\": [{\"name\": string, \"archetype\": string, \"expertise\": string, \"directive\": string}]}.",
			e.minPanel, e.maxPanel),
		Prompt:    fmt.Sprintf("Sub-problem: %s\nKey questions: %s", sp.Goal, strings.Join(sp.KeyQuestions, "; ")),
		Tier:      gateway.TierStrong,
		MaxTokens: 1024,
	}

	var pr personasReply
	var personas []panel.PersonaAssignment
	if e.completeJSON(ctx, st, req, &pr) {
		for _, p := range pr.Personas {
			if p.Name == "" {
				continue
			}
			personas = append(personas, panel.PersonaAssignment{
				Name: p.Name, Archetype: p.Archetype,
				Expertise: p.Expertise, Directive: p.Directive,
			})
		}
	}
	if len(personas) < e.minPanel {
		personas = defaultPanel()
	}
	if len(personas) > e.maxPanel {
		personas = personas[:e.maxPanel]
	}

	sub := st.sub()
	sub.Personas = personas
	sub.Phase = panel.PhaseDivergent
	sub.Round = 0

	intents := make([]event.Intent, 0, len(personas))
	for _, p := range personas {
		intents = append(intents, event.ScopedIntent(event.TypePersonaSelected, st.Current, map[string]any{
			"name":      p.Name,
			"archetype": p.Archetype,
			"expertise": p.Expertise,
		}))
	}
	return nodeResult{intents: intents, next: NodeInitialRound}, nil
}

// nodeRound runs one deliberation round and publishes each contribution.
func (e *Engine) nodeRound(ctx context.Context, st *State, initial bool) (nodeResult, error) {
	sub := st.sub()
	sub.Round++
	sub.RoundPending = false

	// An operator answer that arrived at the boundary feeds this round
	// as facilitator guidance.
	if ans := st.Clarification; ans != "" {
		if sub.Guidance != "" {
			sub.Guidance += "\n"
		}
		sub.Guidance += "Clarification from the operator: " + ans
		st.Clarification = ""
	}

	in := round.Input{
		SessionID:  st.SessionID,
		SubProblem: st.currentProblem(),
		SubIndex:   st.Current,
		Round:      sub.Round,
		Phase:      sub.Phase,
		Personas:   sub.Personas,
		History:    sub.Contributions,
		Guidance:   sub.Guidance,
	}
	if !initial {
		in.Focus = sub.Focus
	}

	contribs, err := e.rounds.Run(ctx, in)
	if err != nil {
		return nodeResult{}, fmt.Errorf("round %d of sub-problem %d: %w", sub.Round, st.Current, err)
	}
	sub.Guidance = ""
	sub.Focus = nil

	intents := make([]event.Intent, 0, len(contribs))
	for _, c := range contribs {
		st.SpentUSD += c.CostUSD
		sub.Contributions = append(sub.Contributions, c)
		it := event.ScopedIntent(event.TypeContribution, st.Current, map[string]any{
			"id":           c.ID,
			"persona":      c.Persona,
			"placeholder":  c.Placeholder,
			"duplicate_of": c.DuplicateOf,
			"stance":       stanceOf(c),
		})
		it.Round = c.Round
		it.CostUSD = c.CostUSD
		intents = append(intents, it)
	}
	return nodeResult{intents: intents, next: NodeCostGuard}, nil
}

func stanceOf(c panel.Contribution) string {
	if c.Summary != nil {
		return c.Summary.Stance
	}
	return ""
}

// nodeCostGuard assesses spend against budget. Exhaustion short-circuits
// straight to voting so the session always ends with a decision instead
// of an overdraft. Otherwise it forwards to the pending round when the
// facilitator queued one, or on to convergence analysis.
func (e *Engine) nodeCostGuard(st *State) (nodeResult, error) {
	sub := st.sub()
	var intents []event.Intent

	switch e.guard.Assess(st.SpentUSD, st.BudgetUSD) {
	case budget.VerdictExceeded:
		it := event.ScopedIntent(event.TypeBudgetExceeded, st.Current, map[string]any{
			"spent_usd":  st.SpentUSD,
			"budget_usd": st.BudgetUSD,
		})
		return nodeResult{intents: []event.Intent{it}, next: NodeVote}, nil
	case budget.VerdictWarn:
		if !st.BudgetWarned {
			st.BudgetWarned = true
			intents = append(intents, event.ScopedIntent(event.TypeBudgetWarning, st.Current, map[string]any{
				"spent_usd":  st.SpentUSD,
				"budget_usd": st.BudgetUSD,
			}))
		}
	}

	if sub.RoundPending {
		return nodeResult{intents: intents, next: NodeParallelRound}, nil
	}
	return nodeResult{intents: intents, next: NodeCheckConvergence}, nil
}

// nodeCheckConvergence computes round metrics and routes converged
// sub-problems straight to voting.
func (e *Engine) nodeCheckConvergence(st *State) (nodeResult, error) {
	sub := st.sub()
	sp := st.currentProblem()
	framing := sp.Goal + " " + strings.Join(sp.KeyQuestions, " ")

	m := facilitate.Metrics(sub.Contributions, sub.Round, framing, sub.Personas)
	sub.Metrics = append(sub.Metrics, m)

	it := event.ScopedIntent(event.TypeConvergence, st.Current, map[string]any{
		"novelty":         m.Novelty,
		"agreement":       m.Agreement,
		"drift":           m.Drift,
		"rotation_spread": m.RotationSpread,
	})
	it.Round = m.Round

	next := NodeFacilitatorDecide
	if facilitate.Converged(m, e.fac.Thresholds()) {
		next = NodeVote
	}
	return nodeResult{intents: []event.Intent{it}, next: next}, nil
}

// nodeFacilitatorDecide applies the deterministic round policy and routes
// on the chosen action.
func (e *Engine) nodeFacilitatorDecide(st *State) (nodeResult, error) {
	sub := st.sub()
	sp := st.currentProblem()

	d := e.fac.Decide(sub.Contributions, sub.Metrics, sub.Personas, sp.KeyQuestions)
	sub.Decisions = append(sub.Decisions, d)

	it := event.ScopedIntent(event.TypeFacilitatorDecision, st.Current, map[string]any{
		"action":        string(d.Action),
		"justification": d.Justification,
		"focus":         d.FocusPersonas,
	})
	it.Round = d.Round

	var next Node
	switch d.Action {
	case panel.ActionVote, panel.ActionStop:
		next = NodeVote
	case panel.ActionContinue:
		if sub.Round >= e.fac.Thresholds().MinRounds {
			sub.Phase = panel.PhaseConvergent
		}
		sub.Focus = d.FocusPersonas
		next = NodeParallelRound
	case panel.ActionResearch:
		sub.Phase = panel.PhaseResearch
		sub.Guidance = d.Justification
		next = NodeParallelRound
	case panel.ActionModerate:
		sub.Phase = panel.PhaseConvergent
		sub.Guidance = "The discussion drifted from the framing. Return to: " + sp.Goal
		sub.RoundPending = true
		next = NodeCostGuard
	case panel.ActionClarify:
		sub.Phase = panel.PhaseClarify
		st.Status = StatusAwaiting
		st.PendingClarification = d.Justification
		next = NodeParallelRound
		return nodeResult{
			intents: []event.Intent{it, event.ScopedIntent(event.TypeClarificationRequest, st.Current, map[string]any{
				"question": d.Justification,
			})},
			next: next,
		}, nil
	default:
		return nodeResult{}, fmt.Errorf("facilitator returned unknown action %q", d.Action)
	}
	return nodeResult{intents: []event.Intent{it}, next: next}, nil
}

// nodeVote collects recommendations and tallies them.
func (e *Engine) nodeVote(ctx context.Context, st *State) (nodeResult, error) {
	sub := st.sub()
	recs, cost, err := e.votes.Collect(ctx, st.SessionID, st.Current, st.currentProblem(), sub.Personas, sub.Contributions)
	if err != nil {
		return nodeResult{}, fmt.Errorf("vote on sub-problem %d: %w", st.Current, err)
	}
	st.SpentUSD += cost
	sub.Recommendations = recs
	outcome := vote.Tally(recs)
	sub.Outcome = &outcome

	votes := make(map[string]string, len(recs))
	for _, r := range recs {
		votes[r.Persona] = r.Option
	}
	it := event.ScopedIntent(event.TypeVotingComplete, st.Current, map[string]any{
		"winner":    outcome.Winner,
		"unanimous": outcome.Unanimous,
		"votes":     votes,
	})
	it.CostUSD = cost
	return nodeResult{intents: []event.Intent{it}, next: NodeSynthesize}, nil
}

// nodeSynthesize writes the decision record for the current sub-problem.
func (e *Engine) nodeSynthesize(ctx context.Context, st *State) (nodeResult, error) {
	sub := st.sub()
	outcome := vote.Outcome{}
	if sub.Outcome != nil {
		outcome = *sub.Outcome
	}

	sr, cost, err := e.votes.Synthesize(ctx, st.SessionID, st.Current, st.currentProblem(), sub.Contributions, sub.Recommendations, outcome)
	if err != nil {
		return nodeResult{}, err
	}
	st.SpentUSD += cost
	sub.Synthesis = &sr
	st.Sections = append(st.Sections, sr)

	it := event.ScopedIntent(event.TypeSynthesisComplete, st.Current, map[string]any{
		"narrative": sr.Narrative,
		"citations": sr.Citations,
	})
	it.CostUSD = cost
	return nodeResult{intents: []event.Intent{it}, next: NodeNextSubProblem}, nil
}

// nodeNextSubProblem advances to the next sub-problem or, when all are
// decided, to meta-synthesis.
func (e *Engine) nodeNextSubProblem(st *State) (nodeResult, error) {
	if len(st.Order) > 0 {
		if st.Cursor+1 < len(st.Order) {
			st.Cursor++
			st.Current = st.Order[st.Cursor]
			return nodeResult{next: NodeSelectPersonas}, nil
		}
		return nodeResult{next: NodeMetaSynthesis}, nil
	}
	if st.Current+1 < len(st.SubProblems) {
		st.Current++
		return nodeResult{next: NodeSelectPersonas}, nil
	}
	return nodeResult{next: NodeMetaSynthesis}, nil
}

// nodeMetaSynthesis composes the final cross-sub-problem answer.
func (e *Engine) nodeMetaSynthesis(ctx context.Context, st *State) (nodeResult, error) {
	ms, cost, err := e.votes.MetaSynthesize(ctx, st.SessionID, st.Problem, st.Sections)
	if err != nil {
		return nodeResult{}, err
	}
	st.SpentUSD += cost
	st.Meta = &ms

	it := event.NewIntent(event.TypeMetaSynthesisComplete, map[string]any{
		"narrative": ms.Narrative,
		"sections":  len(ms.Sections),
	})
	it.CostUSD = cost
	return nodeResult{intents: []event.Intent{it}, next: NodeTerminal}, nil
}

// completeJSON performs a gateway call expecting a JSON reply, retrying
// once on a malformed response. It returns false when no parseable reply
// could be obtained; callers fall back to their degraded paths. Cost is
// always charged to the session.
func (e *Engine) completeJSON(ctx context.Context, st *State, req gateway.Request, out any) bool {
	for attempt := 0; attempt < 2; attempt++ {
		resp, err := e.gw.Complete(ctx, st.SessionID, req)
		if err != nil {
			return false
		}
		st.SpentUSD += resp.CostUSD
		body := panel.ExtractJSON(resp.Text)
		if body != "" && json.Unmarshal([]byte(body), out) == nil {
			return true
		}
		req.Prompt += "\n\nYour previous reply was not valid JSON. Respond again with ONLY the JSON object."
	}
	return false
}
