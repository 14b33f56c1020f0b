package board

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/panelkit/boardroom/board/budget"
	"github.com/panelkit/boardroom/board/checkpoint"
	"github.com/panelkit/boardroom/board/event"
	"github.com/panelkit/boardroom/board/facilitate"
	"github.com/panelkit/boardroom/board/gateway"
	"github.com/panelkit/boardroom/board/round"
	"github.com/panelkit/boardroom/board/vote"
)

// Completer is the slice of the model gateway the orchestrator itself
// uses for planning calls (context, decomposition, gaps, dependencies,
// persona selection).
type Completer interface {
	Complete(ctx context.Context, sessionID string, req gateway.Request) (gateway.Response, error)
}

// Engine runs deliberation sessions. It is the single writer of session
// events: node handlers return intents, and only the run loop publishes
// them, which is what keeps sequence numbers gapless.
type Engine struct {
	gw     Completer
	rounds *round.Engine
	votes  *vote.Engine
	fac    *facilitate.Facilitator
	guard  *budget.Guard
	pub    *event.Publisher
	store  checkpoint.Store[State]
	ledger *budget.Ledger
	mets   *Metrics

	maxSteps int
	minPanel int
	maxPanel int
	topology Topology
}

// Topology selects how sub-problems are sequenced for deliberation.
type Topology int

const (
	// TopologyBatched analyzes dependencies between sub-problems and
	// works through them batch by batch; sub-problems in the same batch
	// are independent and keep decomposition order.
	TopologyBatched Topology = iota

	// TopologySequential skips dependency analysis and takes
	// sub-problems in decomposition order.
	TopologySequential
)

// Option configures an Engine.
type Option func(*Engine)

// WithTopology selects the sub-problem sequencing mode. Default
// TopologyBatched.
func WithTopology(t Topology) Option {
	return func(e *Engine) { e.topology = t }
}

// WithMaxSteps caps total node executions per session. Default 200.
func WithMaxSteps(n int) Option {
	return func(e *Engine) { e.maxSteps = n }
}

// WithPanelSize bounds how many personas a panel may seat. Default 3..5.
func WithPanelSize(min, max int) Option {
	return func(e *Engine) { e.minPanel, e.maxPanel = min, max }
}

// WithFacilitator replaces the default facilitator tuning.
func WithFacilitator(f *facilitate.Facilitator) Option {
	return func(e *Engine) { e.fac = f }
}

// WithGuard replaces the default budget guard.
func WithGuard(g *budget.Guard) Option {
	return func(e *Engine) { e.guard = g }
}

// WithLedger attaches a cost ledger, flushed at session end.
func WithLedger(l *budget.Ledger) Option {
	return func(e *Engine) { e.ledger = l }
}

// WithMetrics attaches a Prometheus collector.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.mets = m }
}

// WithRoundEngine replaces the default round engine.
func WithRoundEngine(r *round.Engine) Option {
	return func(e *Engine) { e.rounds = r }
}

// WithVoteEngine replaces the default vote engine.
func WithVoteEngine(v *vote.Engine) Option {
	return func(e *Engine) { e.votes = v }
}

// NewEngine builds an engine on the given gateway, event publisher, and
// checkpoint store.
func NewEngine(gw Completer, pub *event.Publisher, store checkpoint.Store[State], opts ...Option) *Engine {
	e := &Engine{
		gw:       gw,
		pub:      pub,
		store:    store,
		fac:      facilitate.New(facilitate.Thresholds{}),
		guard:    budget.NewGuard(0),
		maxSteps: 200,
		minPanel: 3,
		maxPanel: 5,
	}
	for _, o := range opts {
		o(e)
	}
	if e.rounds == nil {
		e.rounds = round.New(gw)
	}
	if e.votes == nil {
		e.votes = vote.New(gw)
	}
	return e
}

// Control carries operator signals into a running session. All methods
// are safe for concurrent use; the run loop consumes signals only at
// node boundaries.
type Control struct {
	mu   sync.Mutex
	cond *sync.Cond

	pause    bool
	kill     bool
	awaiting bool
	answer   string
	answered bool
}

// NewControl returns a ready Control.
func NewControl() *Control {
	c := &Control{}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Pause requests a pause at the next node boundary.
func (c *Control) Pause() {
	c.mu.Lock()
	c.pause = true
	c.mu.Unlock()
	c.cond.Broadcast()
}

// Resume clears a pause.
func (c *Control) Resume() {
	c.mu.Lock()
	c.pause = false
	c.mu.Unlock()
	c.cond.Broadcast()
}

// Kill requests termination at the next node boundary.
func (c *Control) Kill() {
	c.mu.Lock()
	c.kill = true
	c.mu.Unlock()
	c.cond.Broadcast()
}

// Clarify supplies the answer a blocked session is waiting on. It
// returns ErrNotAwaiting when the session has not asked a question.
func (c *Control) Clarify(answer string) error {
	c.mu.Lock()
	if !c.awaiting {
		c.mu.Unlock()
		return ErrNotAwaiting
	}
	c.answer = answer
	c.answered = true
	c.mu.Unlock()
	c.cond.Broadcast()
	return nil
}

func (c *Control) setAwaiting(v bool) {
	c.mu.Lock()
	c.awaiting = v
	c.mu.Unlock()
}

// Run drives a session to a terminal status. The state must carry a
// session ID and problem; a fresh session starts at context collection.
// Returns the final state; the error is non-nil only for infrastructure
// failures (publish or checkpoint), never for a session that merely
// failed, which is reported in the state itself.
func (e *Engine) Run(ctx context.Context, st State, ctrl *Control) (State, error) {
	if ctrl == nil {
		ctrl = NewControl()
	}
	if st.Node == "" {
		st.Node = NodeContextCollection
	}
	if st.Status == "" || st.Status == StatusPaused {
		st.Status = StatusRunning
	}
	ctrl.setAwaiting(st.Status == StatusAwaiting)

	if err := e.pub.Attach(ctx, st.SessionID); err != nil {
		return st, fmt.Errorf("attach event log: %w", err)
	}
	if st.Step == 0 {
		if err := e.publishAll(ctx, &st, []event.Intent{
			event.NewIntent(event.TypeSessionStarted, map[string]any{
				"problem":    st.Problem,
				"budget_usd": st.BudgetUSD,
			}),
		}); err != nil {
			return st, err
		}
	}
	if e.mets != nil {
		e.mets.SessionStarted()
		defer func() { e.mets.SessionEnded(string(st.Status)) }()
	}

	for st.Node != NodeTerminal {
		stop, err := e.boundary(ctx, &st, ctrl)
		if err != nil {
			return st, err
		}
		if stop {
			return st, nil
		}

		st.Step++
		if st.Step > e.maxSteps {
			return st, e.fail(ctx, &st, fmt.Errorf("%w: %d", ErrStepLimit, e.maxSteps))
		}

		began := time.Now()
		res, err := e.runNode(ctx, &st)
		if e.mets != nil {
			e.mets.NodeDone(string(st.Node), time.Since(began), err)
		}
		if err != nil {
			return st, e.fail(ctx, &st, err)
		}
		if _, ok := knownNodes[res.next]; !ok {
			return st, e.fail(ctx, &st, fmt.Errorf("%w: %q", ErrUnknownNode, res.next))
		}
		if st.Status == StatusAwaiting {
			ctrl.setAwaiting(true)
		}

		if err := e.publishAll(ctx, &st, res.intents); err != nil {
			return st, err
		}
		st.Node = res.next
		if err := e.save(ctx, &st); err != nil {
			return st, err
		}
	}

	st.Status = StatusCompleted
	if err := e.publishAll(ctx, &st, []event.Intent{
		event.NewIntent(event.TypeComplete, map[string]any{
			"spent_usd": st.SpentUSD,
		}),
	}); err != nil {
		return st, err
	}
	if err := e.save(ctx, &st); err != nil {
		return st, err
	}
	e.flushLedger(ctx)
	return st, nil
}

// Resume loads the latest checkpoint for a session and continues it.
func (e *Engine) Resume(ctx context.Context, sessionID string, ctrl *Control) (State, error) {
	st, _, err := e.store.LoadLatest(ctx, sessionID)
	if err != nil {
		return State{}, fmt.Errorf("resume %s: %w", sessionID, err)
	}
	if st.Status.Terminal() {
		return st, ErrSessionTerminal
	}
	return e.Run(ctx, st, ctrl)
}

// boundary handles operator signals between nodes. It returns stop=true
// when the session was killed.
func (e *Engine) boundary(ctx context.Context, st *State, ctrl *Control) (bool, error) {
	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()

	paused := false
	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if ctrl.kill {
			ctrl.mu.Unlock()
			err := e.killed(ctx, st)
			ctrl.mu.Lock()
			return true, err
		}

		awaiting := st.Status == StatusAwaiting
		if awaiting && ctrl.answered {
			st.Clarification = ctrl.answer
			st.PendingClarification = ""
			ctrl.answer, ctrl.answered = "", false
			ctrl.awaiting = false
			st.Status = StatusRunning
			awaiting = false
			ctrl.mu.Unlock()
			err := e.publishAll(ctx, st, []event.Intent{
				event.NewIntent(event.TypeSessionResumed, map[string]any{"reason": "clarified"}),
			})
			ctrl.mu.Lock()
			if err != nil {
				return false, err
			}
		}

		if !ctrl.pause && !awaiting {
			if paused {
				st.Status = StatusRunning
				ctrl.mu.Unlock()
				err := e.publishAll(ctx, st, []event.Intent{
					event.NewIntent(event.TypeSessionResumed, map[string]any{"reason": "resumed"}),
				})
				ctrl.mu.Lock()
				if err != nil {
					return false, err
				}
			}
			return false, nil
		}

		if ctrl.pause && !paused {
			paused = true
			st.Status = StatusPaused
			ctrl.mu.Unlock()
			err := e.publishAll(ctx, st, []event.Intent{
				event.NewIntent(event.TypeSessionPaused, nil),
			})
			if err == nil {
				err = e.save(ctx, st)
			}
			ctrl.mu.Lock()
			if err != nil {
				return false, err
			}
		}
		ctrl.cond.Wait()
	}
}

func (e *Engine) killed(ctx context.Context, st *State) error {
	st.Status = StatusKilled
	if err := e.publishAll(ctx, st, []event.Intent{event.NewIntent(event.TypeKilled, nil)}); err != nil {
		return err
	}
	if err := e.save(ctx, st); err != nil {
		return err
	}
	e.flushLedger(ctx)
	return nil
}

// fail is the backstop: it marks the session failed, publishes the error,
// and checkpoints, so the failure itself is durable and replayable.
func (e *Engine) fail(ctx context.Context, st *State, cause error) error {
	st.Status = StatusFailed
	st.LastError = cause.Error()
	if err := e.publishAll(ctx, st, []event.Intent{
		event.NewIntent(event.TypeError, map[string]any{"error": cause.Error()}),
	}); err != nil {
		return fmt.Errorf("%v (publish failed: %w)", cause, err)
	}
	if err := e.save(ctx, st); err != nil {
		return fmt.Errorf("%v (checkpoint failed: %w)", cause, err)
	}
	e.flushLedger(ctx)
	return nil
}

func (e *Engine) publishAll(ctx context.Context, st *State, intents []event.Intent) error {
	for _, it := range intents {
		ev, err := e.pub.Publish(ctx, st.SessionID, it)
		if err != nil {
			return fmt.Errorf("publish %s: %w", it.Type, err)
		}
		st.LastSeq = ev.Seq
		if e.mets != nil {
			e.mets.EventPublished(string(it.Type))
			if it.CostUSD > 0 {
				e.mets.SpendAdded(it.CostUSD)
			}
		}
	}
	return nil
}

// save checkpoints the state keyed by the last published sequence, so a
// resume knows exactly which events precede it.
func (e *Engine) save(ctx context.Context, st *State) error {
	if err := e.store.Save(ctx, st.SessionID, st.LastSeq, *st); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	return nil
}

func (e *Engine) flushLedger(ctx context.Context) {
	if e.ledger != nil {
		_ = e.ledger.Flush(ctx)
	}
}
