// Package board orchestrates expert-panel deliberation sessions: a
// cyclic state machine that decomposes a problem, convenes persona
// panels round by round, guards spend, and closes with voting and
// synthesis. The orchestrator is the single writer of session events and
// checkpoints state at every node boundary so any session can be resumed
// or replayed.
package board

import (
	"github.com/panelkit/boardroom/board/panel"
	"github.com/panelkit/boardroom/board/vote"
)

// Node identifies a position in the deliberation state machine. The node
// set is closed; routing only ever targets one of these.
type Node string

const (
	NodeContextCollection   Node = "context_collection"
	NodeDecompose           Node = "decompose"
	NodeIdentifyGaps        Node = "identify_gaps"
	NodeAnalyzeDependencies Node = "analyze_dependencies"
	NodeSelectPersonas      Node = "select_personas"
	NodeInitialRound        Node = "initial_round"
	NodeFacilitatorDecide   Node = "facilitator_decide"
	NodeParallelRound       Node = "parallel_round"
	NodeCostGuard           Node = "cost_guard"
	NodeCheckConvergence    Node = "check_convergence"
	NodeVote                Node = "vote"
	NodeSynthesize          Node = "synthesize"
	NodeNextSubProblem      Node = "next_subproblem"
	NodeMetaSynthesis       Node = "meta_synthesis"
	NodeTerminal            Node = "terminal"
)

// knownNodes is the closed node set used to validate routing targets.
var knownNodes = map[Node]struct{}{
	NodeContextCollection: {}, NodeDecompose: {}, NodeIdentifyGaps: {},
	NodeAnalyzeDependencies: {}, NodeSelectPersonas: {}, NodeInitialRound: {},
	NodeFacilitatorDecide: {}, NodeParallelRound: {}, NodeCostGuard: {},
	NodeCheckConvergence: {}, NodeVote: {}, NodeSynthesize: {},
	NodeNextSubProblem: {}, NodeMetaSynthesis: {}, NodeTerminal: {},
}

// Status is the lifecycle state of a session.
type Status string

const (
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusAwaiting  Status = "awaiting_clarification"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusKilled    Status = "killed"
)

// Terminal reports whether the status admits no further work.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusKilled
}

// SubState is the per-sub-problem slice of session state.
type SubState struct {
	Personas        []panel.PersonaAssignment  `json:"personas,omitempty"`
	Contributions   []panel.Contribution       `json:"contributions,omitempty"`
	Metrics         []panel.RoundMetrics       `json:"metrics,omitempty"`
	Decisions       []panel.FacilitatorDecision `json:"decisions,omitempty"`
	Recommendations []panel.Recommendation     `json:"recommendations,omitempty"`
	Outcome         *vote.Outcome              `json:"outcome,omitempty"`
	Synthesis       *panel.SynthesisResult     `json:"synthesis,omitempty"`

	// Round is the index of the most recently completed round.
	Round int `json:"round"`

	// Phase the next round will run in.
	Phase panel.Phase `json:"phase"`

	// Guidance carries facilitator direction (moderation reframe,
	// research focus, or a clarification answer) into the next round.
	Guidance string `json:"guidance,omitempty"`

	// Focus narrows the next round to these personas. Empty means all.
	Focus []string `json:"focus,omitempty"`

	// RoundPending marks a facilitator-queued round that must clear the
	// cost guard before it runs.
	RoundPending bool `json:"round_pending,omitempty"`
}

// State is the full, JSON-serializable session state. A checkpoint is a
// snapshot of this struct keyed by the sequence number of the last event
// published before the save, which is what makes replay and resume line
// up.
type State struct {
	SessionID string  `json:"session_id"`
	Problem   string  `json:"problem"`
	Context   string  `json:"context,omitempty"`
	BudgetUSD float64 `json:"budget_usd"`
	SpentUSD  float64 `json:"spent_usd"`

	Node   Node   `json:"node"`
	Step   int    `json:"step"`
	Status Status `json:"status"`

	// LastSeq is the sequence number of the last event published before
	// this state was checkpointed.
	LastSeq int64 `json:"last_seq"`

	SubProblems []panel.SubProblem `json:"sub_problems,omitempty"`
	Gaps        []string           `json:"gaps,omitempty"`

	// PendingClarification is the question the session is blocked on
	// when Status is StatusAwaiting.
	PendingClarification string `json:"pending_clarification,omitempty"`

	// Clarification is the operator's answer, consumed by the next node.
	Clarification string `json:"clarification,omitempty"`

	// Current indexes SubProblems; Subs is parallel to SubProblems.
	Current int        `json:"current"`
	Subs    []SubState `json:"subs,omitempty"`

	// Order is the batch-driven execution order over SubProblems indices;
	// Cursor is the position in it. Empty when sequencing is positional.
	Order  []int `json:"order,omitempty"`
	Cursor int   `json:"cursor,omitempty"`

	Sections []panel.SynthesisResult `json:"sections,omitempty"`
	Meta     *panel.MetaSynthesis    `json:"meta,omitempty"`

	// BudgetWarned dedups the budget warning event.
	BudgetWarned bool `json:"budget_warned,omitempty"`

	LastError string `json:"last_error,omitempty"`
}

// sub returns the current sub-problem's state, growing Subs as needed.
func (s *State) sub() *SubState {
	for len(s.Subs) <= s.Current {
		s.Subs = append(s.Subs, SubState{})
	}
	return &s.Subs[s.Current]
}

// currentProblem returns the active sub-problem definition.
func (s *State) currentProblem() panel.SubProblem {
	if s.Current < len(s.SubProblems) {
		return s.SubProblems[s.Current]
	}
	return panel.SubProblem{Goal: s.Problem}
}
