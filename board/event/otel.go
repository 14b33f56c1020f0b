package event

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelSink translates published events into OpenTelemetry spans.
//
// Each event becomes an immediately-ended span named after the event type,
// with the session ID, sequence number, sub-problem index and payload
// scalars attached as attributes. Error events set the span status to
// Error so traces surface failed sessions.
//
// Usage:
//
//	tracer := otel.Tracer("boardroom")
//	pub := event.NewPublisher(log, event.NewOTelSink(tracer))
type OTelSink struct {
	tracer trace.Tracer
}

// NewOTelSink creates a sink emitting spans through the given tracer.
func NewOTelSink(tracer trace.Tracer) *OTelSink {
	return &OTelSink{tracer: tracer}
}

// Write implements Sink.
func (o *OTelSink) Write(e Event) {
	_, span := o.tracer.Start(context.Background(), string(e.Type))
	defer span.End()

	span.SetAttributes(
		attribute.String("session.id", e.SessionID),
		attribute.Int64("event.seq", e.Seq),
		attribute.Int("event.schema", e.Schema),
	)
	if e.SubProblem != NoSubProblem {
		span.SetAttributes(attribute.Int("subproblem.index", e.SubProblem))
	}
	if e.Round > 0 {
		span.SetAttributes(attribute.Int("round", e.Round))
	}
	if e.CostUSD > 0 {
		span.SetAttributes(attribute.Float64("cost.usd", e.CostUSD))
	}

	for k, v := range e.Payload {
		switch val := v.(type) {
		case string:
			span.SetAttributes(attribute.String("payload."+k, val))
		case bool:
			span.SetAttributes(attribute.Bool("payload."+k, val))
		case int:
			span.SetAttributes(attribute.Int("payload."+k, val))
		case int64:
			span.SetAttributes(attribute.Int64("payload."+k, val))
		case float64:
			span.SetAttributes(attribute.Float64("payload."+k, val))
		}
	}

	if e.Type == TypeError {
		span.SetStatus(codes.Error, "session error")
	}
}
