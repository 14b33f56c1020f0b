// Package event provides the ordered, replayable event stream for panel
// deliberation sessions.
//
// Every state-machine transition and node output is translated into exactly
// one Event by the orchestrator (single-writer principle). Events carry a
// per-session sequence number that increases by exactly 1; consumers detect
// gaps by sequence arithmetic and the publisher signals any forced gap with
// an explicit TypeGapDetected event before normal delivery resumes.
package event

import "time"

// SchemaVersion is stamped onto every published Event so consumers can
// detect incompatible payload changes.
const SchemaVersion = 1

// Type identifies the kind of an Event. The set is closed: consumers may
// switch exhaustively over these values.
type Type string

// Event types emitted during a deliberation session.
const (
	TypeSessionStarted        Type = "session_started"
	TypeDecompositionComplete Type = "decomposition_complete"
	TypeGapDetected           Type = "gap_detected"
	TypeClarificationRequest  Type = "clarification_requested"
	TypeDependenciesAnalyzed  Type = "dependencies_analyzed"
	TypePersonaSelected       Type = "persona_selected"
	TypeContribution          Type = "contribution"
	TypeFacilitatorDecision   Type = "facilitator_decision"
	TypeConvergence           Type = "convergence"
	TypeBudgetWarning         Type = "budget_warning"
	TypeBudgetExceeded        Type = "budget_exceeded"
	TypeVotingComplete        Type = "voting_complete"
	TypeSynthesisComplete     Type = "synthesis_complete"
	TypeMetaSynthesisComplete Type = "meta_synthesis_complete"
	TypeSessionPaused         Type = "session_paused"
	TypeSessionResumed        Type = "session_resumed"
	TypeComplete              Type = "complete"
	TypeError                 Type = "error"
	TypeKilled                Type = "killed"
)

// NoSubProblem is the SubProblem value for events not scoped to a single
// sub-problem (session-level events, meta-synthesis).
const NoSubProblem = -1

// Event is one ordered record in a session's event stream.
type Event struct {
	// SessionID identifies the deliberation session this event belongs to.
	SessionID string `json:"session_id"`

	// Seq is the per-session sequence number, assigned by the publisher.
	// Strictly increasing by 1; never reused.
	Seq int64 `json:"seq"`

	// Schema is the payload schema version (see SchemaVersion).
	Schema int `json:"schema"`

	// Type is the event kind from the closed Type set.
	Type Type `json:"type"`

	// SubProblem is the index of the sub-problem this event is scoped to,
	// or NoSubProblem for session-level events.
	SubProblem int `json:"sub_problem"`

	// Round is the deliberation round this event belongs to, zero when the
	// event is not round-scoped.
	Round int `json:"round,omitempty"`

	// Payload carries type-specific structured data.
	Payload map[string]any `json:"payload,omitempty"`

	// CostUSD is the spend attributable to this event, if any. Strippable
	// for unprivileged consumers via StripCost.
	CostUSD float64 `json:"cost_usd,omitempty"`

	// At records when the event was published.
	At time.Time `json:"at"`
}

// Intent is a request by a node to emit an event. Nodes never publish
// directly: they return Intents and the orchestrator assigns sequence
// numbers and publishes, eliminating duplicate-publish races.
type Intent struct {
	Type       Type
	SubProblem int
	Round      int
	Payload    map[string]any
	CostUSD    float64
}

// NewIntent builds a session-level intent with no sub-problem scope.
func NewIntent(t Type, payload map[string]any) Intent {
	return Intent{Type: t, SubProblem: NoSubProblem, Payload: payload}
}

// ScopedIntent builds an intent scoped to a sub-problem index.
func ScopedIntent(t Type, sub int, payload map[string]any) Intent {
	return Intent{Type: t, SubProblem: sub, Payload: payload}
}

// costPayloadKeys are payload fields removed by StripCost in addition to
// the top-level CostUSD field.
var costPayloadKeys = []string{"cost_usd", "spent_usd", "budget_usd", "input_tokens", "output_tokens"}

// StripCost returns a copy of e with all cost-bearing fields removed.
// The sequence number and every non-cost field are preserved, so stripped
// streams remain gapless for unprivileged consumers.
func StripCost(e Event) Event {
	e.CostUSD = 0
	if len(e.Payload) == 0 {
		return e
	}
	payload := make(map[string]any, len(e.Payload))
	for k, v := range e.Payload {
		payload[k] = v
	}
	for _, k := range costPayloadKeys {
		delete(payload, k)
	}
	e.Payload = payload
	return e
}
