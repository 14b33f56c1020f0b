package event

import (
	"context"
	"testing"
)

func TestPublishAssignsGaplessSequence(t *testing.T) {
	p := NewPublisher(NewMemLog())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ev, err := p.Publish(ctx, "sess-1", NewIntent(TypeContribution, map[string]any{"i": i}))
		if err != nil {
			t.Fatalf("Publish: %v", err)
		}
		if ev.Seq != int64(i+1) {
			t.Errorf("seq = %d, want %d", ev.Seq, i+1)
		}
		if ev.Schema != SchemaVersion {
			t.Errorf("schema = %d, want %d", ev.Schema, SchemaVersion)
		}
	}

	events, err := p.Log().Replay(ctx, "sess-1", 1)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(events) != 5 {
		t.Fatalf("replayed %d events, want 5", len(events))
	}
	if missing, ok := CheckContinuity(events); !ok {
		t.Errorf("sequence has a gap at %d", missing)
	}
}

func TestSequencesAreIndependentPerSession(t *testing.T) {
	p := NewPublisher(NewMemLog())
	ctx := context.Background()

	a, _ := p.Publish(ctx, "sess-a", NewIntent(TypeSessionStarted, nil))
	b, _ := p.Publish(ctx, "sess-b", NewIntent(TypeSessionStarted, nil))
	a2, _ := p.Publish(ctx, "sess-a", NewIntent(TypeComplete, nil))

	if a.Seq != 1 || b.Seq != 1 || a2.Seq != 2 {
		t.Errorf("seqs = %d/%d/%d, want 1/1/2", a.Seq, b.Seq, a2.Seq)
	}
}

func TestAttachContinuesFromLog(t *testing.T) {
	log := NewMemLog()
	ctx := context.Background()

	p1 := NewPublisher(log)
	for i := 0; i < 3; i++ {
		if _, err := p1.Publish(ctx, "sess-1", NewIntent(TypeContribution, nil)); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	// A fresh publisher over the same log, as after a process restart.
	p2 := NewPublisher(log)
	if err := p2.Attach(ctx, "sess-1"); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	ev, err := p2.Publish(ctx, "sess-1", NewIntent(TypeSessionResumed, nil))
	if err != nil {
		t.Fatalf("Publish after Attach: %v", err)
	}
	if ev.Seq != 4 {
		t.Errorf("seq after attach = %d, want 4", ev.Seq)
	}
}

func TestForcedGapIsExplicit(t *testing.T) {
	log := NewMemLog()
	ctx := context.Background()

	p1 := NewPublisher(log)
	for i := 0; i < 3; i++ {
		if _, err := p1.Publish(ctx, "sess-1", NewIntent(TypeContribution, nil)); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	// Fresh publisher that skipped Attach: its counter says 0 while the
	// log is at 3.
	p2 := NewPublisher(log)
	ev, err := p2.Publish(ctx, "sess-1", NewIntent(TypeSessionResumed, nil))
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if ev.Seq != 5 {
		t.Errorf("event seq = %d, want 5 (after the gap marker)", ev.Seq)
	}

	events, _ := log.Replay(ctx, "sess-1", 1)
	if missing, ok := CheckContinuity(events); !ok {
		t.Fatalf("log has a silent gap at %d", missing)
	}
	if events[3].Type != TypeGapDetected {
		t.Errorf("seq 4 type = %s, want %s", events[3].Type, TypeGapDetected)
	}
}

func TestSubscribeReplaysThenGoesLive(t *testing.T) {
	p := NewPublisher(NewMemLog())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := p.Publish(ctx, "sess-1", NewIntent(TypeContribution, map[string]any{"i": i})); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	ch, err := p.Subscribe(ctx, "sess-1", 2)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	// Replayed portion.
	first := <-ch
	second := <-ch
	if first.Seq != 2 || second.Seq != 3 {
		t.Fatalf("replayed seqs = %d/%d, want 2/3", first.Seq, second.Seq)
	}

	// Live portion.
	if _, err := p.Publish(ctx, "sess-1", NewIntent(TypeComplete, nil)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	live := <-ch
	if live.Seq != 4 || live.Type != TypeComplete {
		t.Errorf("live event = seq %d type %s, want 4/%s", live.Seq, live.Type, TypeComplete)
	}
}

func TestSlowSubscriberIsDisconnected(t *testing.T) {
	p := NewPublisher(NewMemLog())
	ctx := context.Background()

	ch, err := p.Subscribe(ctx, "sess-1", 1)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	// Never drain: overflow the buffer.
	for i := 0; i < subscriberBuffer+10; i++ {
		if _, err := p.Publish(ctx, "sess-1", NewIntent(TypeContribution, nil)); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	received := 0
	for range ch {
		received++
	}
	if received != subscriberBuffer {
		t.Errorf("received %d buffered events, want %d then close", received, subscriberBuffer)
	}

	// The log kept everything; a re-subscribe recovers the rest.
	ch2, err := p.Subscribe(ctx, "sess-1", int64(received+1))
	if err != nil {
		t.Fatalf("re-subscribe: %v", err)
	}
	ev := <-ch2
	if ev.Seq != int64(received+1) {
		t.Errorf("recovery starts at %d, want %d", ev.Seq, received+1)
	}
}

func TestCloseDisconnectsSubscribers(t *testing.T) {
	p := NewPublisher(NewMemLog())
	ch, err := p.Subscribe(context.Background(), "sess-1", 1)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	p.Close("sess-1")
	if _, open := <-ch; open {
		t.Error("channel should be closed")
	}
}

func TestStripCostPreservesSequence(t *testing.T) {
	p := NewPublisher(NewMemLog())
	ev, err := p.Publish(context.Background(), "sess-1", Intent{
		Type: TypeContribution,
		Payload: map[string]any{
			"persona":       "Alpha",
			"cost_usd":      0.12,
			"input_tokens":  100,
			"output_tokens": 40,
		},
		CostUSD: 0.12,
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	stripped := StripCost(ev)
	if stripped.Seq != ev.Seq {
		t.Errorf("strip changed seq: %d -> %d", ev.Seq, stripped.Seq)
	}
	if stripped.CostUSD != 0 {
		t.Errorf("CostUSD survived strip: %v", stripped.CostUSD)
	}
	for _, key := range []string{"cost_usd", "input_tokens", "output_tokens"} {
		if _, ok := stripped.Payload[key]; ok {
			t.Errorf("payload key %q survived strip", key)
		}
	}
	if stripped.Payload["persona"] != "Alpha" {
		t.Error("non-cost payload should survive strip")
	}
	// Original event untouched.
	if ev.Payload["cost_usd"] == nil || ev.CostUSD != 0.12 {
		t.Error("strip must not mutate the original event")
	}
}

func TestCheckContinuity(t *testing.T) {
	ok := []Event{{Seq: 1}, {Seq: 2}, {Seq: 3}}
	if missing, cont := CheckContinuity(ok); !cont {
		t.Errorf("continuous slice reported gap at %d", missing)
	}

	gap := []Event{{Seq: 1}, {Seq: 3}}
	if missing, cont := CheckContinuity(gap); cont || missing != 2 {
		t.Errorf("CheckContinuity(gap) = %d/%v, want 2/false", missing, cont)
	}
}

func TestMemLogRejectsDuplicateSeq(t *testing.T) {
	log := NewMemLog()
	ctx := context.Background()

	if err := log.Append(ctx, Event{SessionID: "s", Seq: 1, Type: TypeSessionStarted}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := log.Append(ctx, Event{SessionID: "s", Seq: 1, Type: TypeComplete}); err == nil {
		t.Error("duplicate seq should be rejected")
	}
	if err := log.Append(ctx, Event{SessionID: "s", Seq: 0, Type: TypeComplete}); err == nil {
		t.Error("stale seq should be rejected")
	}
}
