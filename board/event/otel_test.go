package event

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestSink(t *testing.T) (*OTelSink, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	})
	return NewOTelSink(tp.Tracer("test")), exporter
}

func TestOTelSinkSpanPerEvent(t *testing.T) {
	sink, exporter := newTestSink(t)

	sink.Write(Event{
		SessionID:  "sess-1",
		Seq:        7,
		Schema:     SchemaVersion,
		Type:       TypeContribution,
		SubProblem: 2,
		Round:      3,
		CostUSD:    0.05,
		Payload:    map[string]any{"persona": "Ada", "placeholder": false},
		At:         time.Now(),
	})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	s := spans[0]
	if s.Name != string(TypeContribution) {
		t.Errorf("span name = %q, want %q", s.Name, TypeContribution)
	}

	attrs := make(map[attribute.Key]attribute.Value)
	for _, kv := range s.Attributes {
		attrs[kv.Key] = kv.Value
	}
	if got := attrs["session.id"].AsString(); got != "sess-1" {
		t.Errorf("session.id = %q", got)
	}
	if got := attrs["event.seq"].AsInt64(); got != 7 {
		t.Errorf("event.seq = %d", got)
	}
	if got := attrs["subproblem.index"].AsInt64(); got != 2 {
		t.Errorf("subproblem.index = %d", got)
	}
	if got := attrs["round"].AsInt64(); got != 3 {
		t.Errorf("round = %d", got)
	}
	if got := attrs["cost.usd"].AsFloat64(); got != 0.05 {
		t.Errorf("cost.usd = %v", got)
	}
	if got := attrs["payload.persona"].AsString(); got != "Ada" {
		t.Errorf("payload.persona = %q", got)
	}
	if s.Status.Code == codes.Error {
		t.Error("non-error event should not mark the span as error")
	}
}

func TestOTelSinkSessionLevelEvent(t *testing.T) {
	sink, exporter := newTestSink(t)

	sink.Write(Event{
		SessionID:  "sess-1",
		Seq:        1,
		Type:       TypeSessionStarted,
		SubProblem: NoSubProblem,
	})

	s := exporter.GetSpans()[0]
	for _, kv := range s.Attributes {
		if kv.Key == "subproblem.index" {
			t.Error("session-level event must not carry a sub-problem attribute")
		}
	}
}

func TestOTelSinkErrorStatus(t *testing.T) {
	sink, exporter := newTestSink(t)

	sink.Write(Event{
		SessionID:  "sess-1",
		Seq:        9,
		Type:       TypeError,
		SubProblem: NoSubProblem,
		Payload:    map[string]any{"error": "step limit exceeded"},
	})

	s := exporter.GetSpans()[0]
	if s.Status.Code != codes.Error {
		t.Errorf("status = %v, want Error", s.Status.Code)
	}
}
