// Package panel defines the data model of a deliberation: sub-problems,
// persona assignments, contributions, round metrics, facilitator decisions,
// recommendations and synthesis results.
//
// Everything here is plain data, JSON-serializable for checkpointing.
// Contributions and recommendations are immutable once created.
package panel

import "strings"

// SubProblem is one decomposition unit of a session's problem.
type SubProblem struct {
	// Goal is what this sub-problem must answer.
	Goal string `json:"goal"`

	// KeyQuestions are the ordered questions framing the deliberation.
	KeyQuestions []string `json:"key_questions"`

	// Batch is the execution-batch index assigned by dependency analysis.
	// Sub-problems sharing a batch are mutually independent.
	Batch int `json:"batch"`
}

// PersonaAssignment binds a selected expert persona to a sub-problem.
type PersonaAssignment struct {
	// Name is the persona's display name ("CFO", "Head of Growth").
	Name string `json:"name"`

	// Archetype is the persona's role archetype ("skeptic", "visionary",
	// "operator").
	Archetype string `json:"archetype"`

	// Expertise is the persona's domain expertise.
	Expertise string `json:"expertise"`

	// Directive is the standing instruction shaping the persona's stance.
	Directive string `json:"directive"`
}

// Phase is the deliberation phase a round runs under.
type Phase string

const (
	// PhaseDivergent is the early exploration phase; breadth over depth.
	PhaseDivergent Phase = "divergent"
	// PhaseConvergent is the narrowing phase once positions have formed.
	PhaseConvergent Phase = "convergent"
	// PhaseResearch is a facilitator-ordered fact-finding round.
	PhaseResearch Phase = "research"
	// PhaseClarify is a facilitator-ordered round focused on a specific
	// ambiguity.
	PhaseClarify Phase = "clarify"
)

// Summary is the structured portion of a contribution.
type Summary struct {
	// Stance is the persona's position in one line.
	Stance string `json:"stance"`

	// KeyPoints are the supporting points, strongest first.
	KeyPoints []string `json:"key_points"`
}

// Contribution is one persona's output for one round. Immutable once
// created; near-duplicates are flagged via DuplicateOf, never discarded.
type Contribution struct {
	ID         string   `json:"id"`
	Persona    string   `json:"persona"`
	SubProblem int      `json:"sub_problem"`
	Round      int      `json:"round"`
	Phase      Phase    `json:"phase"`
	Content    string   `json:"content"`
	Summary    *Summary `json:"summary,omitempty"`

	// Placeholder marks a degraded contribution: the persona's response
	// failed structural validation twice and the round proceeded without
	// it.
	Placeholder bool `json:"placeholder,omitempty"`

	// DuplicateOf names the earlier contribution this one nearly
	// duplicates (embedding similarity above threshold), empty otherwise.
	DuplicateOf string `json:"duplicate_of,omitempty"`

	// Embedding is the content vector used for near-duplicate detection.
	Embedding []float32 `json:"embedding,omitempty"`

	CostUSD      float64 `json:"cost_usd"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
}

// RoundMetrics are derived per round from the contribution history.
type RoundMetrics struct {
	Round int `json:"round"`

	// Novelty is the mean distance of the round's contributions from the
	// cumulative prior discussion, in [0,1]. High = new ground.
	Novelty float64 `json:"novelty"`

	// Agreement is the mean pairwise stance similarity within the round,
	// in [0,1].
	Agreement float64 `json:"agreement"`

	// Drift is the divergence of the round from the original framing,
	// in [0,1]. High = the panel has wandered.
	Drift float64 `json:"drift"`

	// RotationSpread measures how evenly personas have spoken so far,
	// in [0,1]. 1 = perfectly even.
	RotationSpread float64 `json:"rotation_spread"`
}

// Action is a facilitator control action. The set is closed.
type Action string

const (
	ActionContinue Action = "continue"
	ActionVote     Action = "vote"
	ActionResearch Action = "research"
	ActionModerate Action = "moderate"
	ActionClarify  Action = "clarify"
	ActionStop     Action = "stop"
)

// FacilitatorDecision is the facilitator's chosen action for one round.
type FacilitatorDecision struct {
	Round         int    `json:"round"`
	Action        Action `json:"action"`
	Justification string `json:"justification"`

	// FocusPersonas are the personas the next round should prioritize,
	// least-spoken first. Empty when rotation is already fair.
	FocusPersonas []string `json:"focus_personas,omitempty"`
}

// Confidence is the enumerated confidence of a recommendation.
// Never free text: out-of-set values are normalized by ParseConfidence.
type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
)

// ParseConfidence normalizes a raw confidence value into the closed set.
// Recognized spellings (any case, surrounding noise tolerated) map to
// their value; anything else degrades to MEDIUM rather than passing
// through raw.
func ParseConfidence(raw string) Confidence {
	s := strings.ToUpper(strings.TrimSpace(raw))
	switch {
	case strings.Contains(s, "HIGH"), s == "H":
		return ConfidenceHigh
	case strings.Contains(s, "LOW"), s == "L":
		return ConfidenceLow
	case strings.Contains(s, "MED"), s == "M":
		return ConfidenceMedium
	default:
		return ConfidenceMedium
	}
}

// Valid reports whether c is a member of the closed confidence set.
func (c Confidence) Valid() bool {
	switch c {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		return true
	}
	return false
}

// Recommendation is one persona's vote for one sub-problem.
type Recommendation struct {
	Persona    string     `json:"persona"`
	SubProblem int        `json:"sub_problem"`
	Option     string     `json:"option"`
	Rationale  string     `json:"rationale"`
	Confidence Confidence `json:"confidence"`
}

// SynthesisResult is the final narrative for one sub-problem.
type SynthesisResult struct {
	SubProblem int    `json:"sub_problem"`
	Narrative  string `json:"narrative"`

	// Citations are IDs of the contributions the narrative draws on,
	// preserving attribution back to the discussion.
	Citations []string `json:"citations"`
}

// MetaSynthesis aggregates all per-sub-problem syntheses into the
// session's terminal output.
type MetaSynthesis struct {
	Narrative string            `json:"narrative"`
	Sections  []SynthesisResult `json:"sections"`
}
