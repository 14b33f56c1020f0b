package event

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Log is the durable backend for published events. It must support append
// and replay-from-sequence so reconnecting subscribers never depend on
// in-memory buffering.
type Log interface {
	// Append durably stores the event. Appending the same (session, seq)
	// twice is an error: sequence numbers are never reused.
	Append(ctx context.Context, e Event) error

	// Replay returns all stored events for the session with Seq >= from,
	// in sequence order. An unknown session yields an empty slice.
	Replay(ctx context.Context, sessionID string, from int64) ([]Event, error)

	// LatestSeq returns the highest stored sequence number for the
	// session, or 0 when the session has no events.
	LatestSeq(ctx context.Context, sessionID string) (int64, error)
}

// Sink receives every published event for fire-and-forget observability
// (logging, tracing). Sinks must not block and must not panic.
type Sink interface {
	Write(e Event)
}

// subscriberBuffer is the live channel capacity per subscriber. A consumer
// that falls further behind than this is disconnected and must re-subscribe
// with replay; the durable log is the source of truth, not the buffer.
const subscriberBuffer = 256

type subscription struct {
	ch     chan Event
	closed bool
}

// Publisher assigns per-session sequence numbers and delivers events to the
// durable log, to sinks, and to live subscribers.
//
// The orchestrator is the only caller of Publish for a given session, which
// makes sequence assignment single-writer by construction. Publish and
// Subscribe serialize on one mutex so a subscriber's replay can never miss
// an event published concurrently with its registration.
type Publisher struct {
	log   Log
	sinks []Sink

	mu   sync.Mutex
	seqs map[string]int64
	subs map[string][]*subscription
}

// NewPublisher creates a Publisher backed by the given durable log.
// Sinks are optional observability fan-outs.
func NewPublisher(log Log, sinks ...Sink) *Publisher {
	return &Publisher{
		log:   log,
		sinks: sinks,
		seqs:  make(map[string]int64),
		subs:  make(map[string][]*subscription),
	}
}

// Log returns the durable backend, for read-side replay.
func (p *Publisher) Log() Log { return p.log }

// Attach initializes the in-memory sequence counter for a session from the
// durable log. Call it before publishing for a resumed session so newly
// assigned sequence numbers continue where the log left off.
func (p *Publisher) Attach(ctx context.Context, sessionID string) error {
	latest, err := p.log.LatestSeq(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("attach %s: %w", sessionID, err)
	}
	p.mu.Lock()
	p.seqs[sessionID] = latest
	p.mu.Unlock()
	return nil
}

// Publish stamps the intent with the next sequence number for the session,
// appends it durably, and fans it out to sinks and live subscribers.
//
// If the durable log is ahead of the in-memory counter (a forced gap, e.g.
// after a crash where Attach was skipped), Publish first emits an explicit
// gap_detected event covering the jump so consumers never observe a silent
// gap.
func (p *Publisher) Publish(ctx context.Context, sessionID string, in Intent) (Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	next := p.seqs[sessionID] + 1

	latest, err := p.log.LatestSeq(ctx, sessionID)
	if err != nil {
		return Event{}, fmt.Errorf("publish %s: %w", sessionID, err)
	}
	if latest >= next {
		// The counter lost track of the log. Signal the gap explicitly,
		// then continue from the log's head.
		gap := Event{
			SessionID:  sessionID,
			Seq:        latest + 1,
			Schema:     SchemaVersion,
			Type:       TypeGapDetected,
			SubProblem: NoSubProblem,
			Payload: map[string]any{
				"expected_seq": next,
				"log_seq":      latest,
			},
			At: time.Now().UTC(),
		}
		if err := p.log.Append(ctx, gap); err != nil {
			return Event{}, fmt.Errorf("publish gap %s: %w", sessionID, err)
		}
		p.deliverLocked(gap)
		next = latest + 2
	}

	e := Event{
		SessionID:  sessionID,
		Seq:        next,
		Schema:     SchemaVersion,
		Type:       in.Type,
		SubProblem: in.SubProblem,
		Round:      in.Round,
		Payload:    in.Payload,
		CostUSD:    in.CostUSD,
		At:         time.Now().UTC(),
	}
	if err := p.log.Append(ctx, e); err != nil {
		return Event{}, fmt.Errorf("publish %s: %w", sessionID, err)
	}

	p.seqs[sessionID] = e.Seq
	p.deliverLocked(e)
	return e, nil
}

// deliverLocked fans an event out to sinks and live subscribers. A
// subscriber whose buffer is full is disconnected; it recovers by
// re-subscribing with replay from its last seen sequence number.
// Callers must hold p.mu.
func (p *Publisher) deliverLocked(e Event) {
	for _, s := range p.sinks {
		s.Write(e)
	}

	subs := p.subs[e.SessionID]
	kept := subs[:0]
	for _, sub := range subs {
		if sub.closed {
			continue
		}
		select {
		case sub.ch <- e:
			kept = append(kept, sub)
		default:
			sub.closed = true
			close(sub.ch)
		}
	}
	p.subs[e.SessionID] = kept
}

// Subscribe returns a channel of events for the session starting at
// sequence from. Stored events are replayed from the durable log first,
// then the subscription goes live; the replay and registration happen
// atomically with respect to Publish, so no event is skipped. The channel
// is closed when the consumer falls too far behind or Close is called for
// the session; re-subscribe with the last seen sequence + 1 to continue
// without loss.
func (p *Publisher) Subscribe(ctx context.Context, sessionID string, from int64) (<-chan Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	replayed, err := p.log.Replay(ctx, sessionID, from)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", sessionID, err)
	}

	sub := &subscription{ch: make(chan Event, subscriberBuffer+len(replayed))}
	for _, e := range replayed {
		sub.ch <- e
	}
	p.subs[sessionID] = append(p.subs[sessionID], sub)
	return sub.ch, nil
}

// Close disconnects all live subscribers for the session. Durable events
// remain replayable.
func (p *Publisher) Close(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, sub := range p.subs[sessionID] {
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
	}
	delete(p.subs, sessionID)
}

// CheckContinuity verifies that a slice of events (as returned by Replay)
// is gapless: sequence numbers increase by exactly 1. It returns the first
// missing sequence number and false on a violation.
func CheckContinuity(events []Event) (int64, bool) {
	for i := 1; i < len(events); i++ {
		if events[i].Seq != events[i-1].Seq+1 {
			return events[i-1].Seq + 1, false
		}
	}
	return 0, true
}
