// Package budget enforces the spend ceiling of a deliberation session and
// keeps the append-only cost ledger.
//
// The guard never raises an error for an exhausted budget: budget
// exhaustion is a designed control-flow branch, interpreted by the
// orchestrator as "skip to voting". This is the sole mechanism that
// guarantees termination under runaway cost.
package budget

// Verdict is the guard's judgement of accumulated spend against budget.
type Verdict int

const (
	// VerdictOK means spend is below the warning threshold.
	VerdictOK Verdict = iota
	// VerdictWarn means spend has crossed the warning threshold but the
	// budget still has headroom; deliberation continues.
	VerdictWarn
	// VerdictExceeded means the budget is exhausted; the orchestrator
	// must skip further rounds and proceed to voting.
	VerdictExceeded
)

func (v Verdict) String() string {
	switch v {
	case VerdictWarn:
		return "warn"
	case VerdictExceeded:
		return "exceeded"
	default:
		return "ok"
	}
}

// defaultWarnRatio is the spend/budget ratio that triggers a warning.
const defaultWarnRatio = 0.8

// Guard assesses accumulated spend against a session budget.
type Guard struct {
	warnRatio float64
}

// NewGuard creates a Guard warning at warnRatio of the budget. A
// non-positive ratio uses the default of 0.8.
func NewGuard(warnRatio float64) *Guard {
	if warnRatio <= 0 || warnRatio >= 1 {
		warnRatio = defaultWarnRatio
	}
	return &Guard{warnRatio: warnRatio}
}

// Assess returns the verdict for spentUSD against budgetUSD.
// A non-positive budget means no ceiling and always yields VerdictOK.
func (g *Guard) Assess(spentUSD, budgetUSD float64) Verdict {
	if budgetUSD <= 0 {
		return VerdictOK
	}
	switch {
	case spentUSD >= budgetUSD:
		return VerdictExceeded
	case spentUSD >= budgetUSD*g.warnRatio:
		return VerdictWarn
	default:
		return VerdictOK
	}
}

// Remaining returns the budget headroom, clamped at zero.
func (g *Guard) Remaining(spentUSD, budgetUSD float64) float64 {
	if budgetUSD <= 0 {
		return 0
	}
	if r := budgetUSD - spentUSD; r > 0 {
		return r
	}
	return 0
}
