package board

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// session is a Manager-tracked run.
type session struct {
	id      string
	ctrl    *Control
	cancel  context.CancelFunc
	started time.Time

	mu    sync.Mutex
	state State
	done  chan struct{}
}

// Manager owns session lifecycles: it starts sessions on goroutines,
// routes operator control to them, and enforces a concurrency ceiling.
type Manager struct {
	engine *Engine

	maxSessions int
	evictGrace  time.Duration

	mu       sync.Mutex
	sessions map[string]*session
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithMaxSessions caps concurrently tracked sessions. Default 32.
func WithMaxSessions(n int) ManagerOption {
	return func(m *Manager) { m.maxSessions = n }
}

// WithEvictGrace sets how old a session must be before it can be
// evicted to make room. Default 10 minutes.
func WithEvictGrace(d time.Duration) ManagerOption {
	return func(m *Manager) { m.evictGrace = d }
}

// NewManager returns a Manager driving sessions through the engine.
func NewManager(engine *Engine, opts ...ManagerOption) *Manager {
	m := &Manager{
		engine:      engine,
		maxSessions: 32,
		evictGrace:  10 * time.Minute,
		sessions:    make(map[string]*session),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Start begins a new session for the given problem and returns its ID.
// The session runs on its own goroutine until terminal; budgetUSD of
// zero means unmetered.
func (m *Manager) Start(ctx context.Context, problem string, budgetUSD float64) (string, error) {
	m.mu.Lock()
	if len(m.sessions) >= m.maxSessions && !m.evictLocked() {
		m.mu.Unlock()
		return "", ErrCapacity
	}

	id := uuid.NewString()
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &session{
		id:      id,
		ctrl:    NewControl(),
		cancel:  cancel,
		started: time.Now(),
		done:    make(chan struct{}),
		state: State{
			SessionID: id,
			Problem:   problem,
			BudgetUSD: budgetUSD,
			Status:    StatusRunning,
		},
	}
	m.sessions[id] = s
	m.mu.Unlock()

	go m.run(runCtx, s)
	return id, nil
}

// ResumeSession restarts a checkpointed session that is not currently
// tracked, for example after a process restart.
func (m *Manager) ResumeSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	if _, tracked := m.sessions[sessionID]; tracked {
		m.mu.Unlock()
		return nil
	}
	if len(m.sessions) >= m.maxSessions && !m.evictLocked() {
		m.mu.Unlock()
		return ErrCapacity
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &session{
		id:      sessionID,
		ctrl:    NewControl(),
		cancel:  cancel,
		started: time.Now(),
		done:    make(chan struct{}),
	}
	m.sessions[sessionID] = s
	m.mu.Unlock()

	go func() {
		defer close(s.done)
		final, err := m.engine.Resume(runCtx, sessionID, s.ctrl)
		if err != nil {
			final.Status = StatusFailed
			if final.LastError == "" {
				final.LastError = err.Error()
			}
		}
		s.mu.Lock()
		s.state = final
		s.mu.Unlock()
	}()
	return nil
}

func (m *Manager) run(ctx context.Context, s *session) {
	defer close(s.done)
	s.mu.Lock()
	initial := s.state
	s.mu.Unlock()

	final, err := m.engine.Run(ctx, initial, s.ctrl)
	if err != nil {
		final.Status = StatusFailed
		if final.LastError == "" {
			final.LastError = err.Error()
		}
	}
	s.mu.Lock()
	s.state = final
	s.mu.Unlock()
}

// Pause requests a pause at the next node boundary.
func (m *Manager) Pause(id string) error {
	s, err := m.lookup(id)
	if err != nil {
		return err
	}
	s.ctrl.Pause()
	return nil
}

// Resume clears a pause.
func (m *Manager) Resume(id string) error {
	s, err := m.lookup(id)
	if err != nil {
		return err
	}
	s.ctrl.Resume()
	return nil
}

// Kill terminates the session at the next node boundary.
func (m *Manager) Kill(id string) error {
	s, err := m.lookup(id)
	if err != nil {
		return err
	}
	s.ctrl.Kill()
	return nil
}

// Clarify answers a session blocked on a clarification request. It
// returns ErrNotAwaiting when the session has not asked a question.
func (m *Manager) Clarify(id, answer string) error {
	s, err := m.lookup(id)
	if err != nil {
		return err
	}
	return s.ctrl.Clarify(answer)
}

// Status returns a snapshot of the session state. For a running session
// the snapshot may lag the live state by up to one node.
func (m *Manager) Status(id string) (State, error) {
	s, err := m.lookup(id)
	if err != nil {
		return State{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, nil
}

// Wait blocks until the session reaches a terminal status or ctx ends.
func (m *Manager) Wait(ctx context.Context, id string) (State, error) {
	s, err := m.lookup(id)
	if err != nil {
		return State{}, err
	}
	select {
	case <-s.done:
		return m.Status(id)
	case <-ctx.Done():
		return State{}, ctx.Err()
	}
}

func (m *Manager) lookup(id string) (*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// evictLocked drops the oldest session past the grace period to make
// room, preferring terminal sessions. A live session is evicted with a
// boundary kill, which checkpoints it so it stays resumable; only then
// is it untracked. Caller holds m.mu.
func (m *Manager) evictLocked() bool {
	var terminal, live []*session
	for _, s := range m.sessions {
		if time.Since(s.started) < m.evictGrace {
			continue
		}
		select {
		case <-s.done:
			terminal = append(terminal, s)
		default:
			live = append(live, s)
		}
	}
	byAge := func(ss []*session) {
		sort.Slice(ss, func(i, j int) bool {
			return ss[i].started.Before(ss[j].started)
		})
	}
	byAge(terminal)
	byAge(live)

	if len(terminal) > 0 {
		s := terminal[0]
		s.cancel()
		delete(m.sessions, s.id)
		return true
	}
	if len(live) > 0 {
		s := live[0]
		s.ctrl.Kill()
		delete(m.sessions, s.id)
		return true
	}
	return false
}
