package board

import (
	"context"
	"fmt"

	"github.com/panelkit/boardroom/board/event"
)

// Transcript replays a session's durable event log from the given
// sequence. With stripCosts set, cost fields are removed from each event
// while sequence numbers are preserved, for sharing a deliberation
// without exposing spend.
func (e *Engine) Transcript(ctx context.Context, sessionID string, from int64, stripCosts bool) ([]event.Event, error) {
	events, err := e.pub.Log().Replay(ctx, sessionID, from)
	if err != nil {
		return nil, fmt.Errorf("transcript %s: %w", sessionID, err)
	}
	if stripCosts {
		for i := range events {
			events[i] = event.StripCost(events[i])
		}
	}
	return events, nil
}

// Subscribe streams a session's events live, replaying from the given
// sequence first. The channel closes when the context ends or the
// subscriber falls too far behind; re-subscribe with the last seen
// sequence to continue.
func (e *Engine) Subscribe(ctx context.Context, sessionID string, from int64) (<-chan event.Event, error) {
	return e.pub.Subscribe(ctx, sessionID, from)
}

// Transcript forwards to the engine for a tracked or historical session.
func (m *Manager) Transcript(ctx context.Context, sessionID string, from int64, stripCosts bool) ([]event.Event, error) {
	return m.engine.Transcript(ctx, sessionID, from, stripCosts)
}

// Subscribe forwards to the engine's live event stream.
func (m *Manager) Subscribe(ctx context.Context, sessionID string, from int64) (<-chan event.Event, error) {
	return m.engine.Subscribe(ctx, sessionID, from)
}
