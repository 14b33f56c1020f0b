package event

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// LogSink writes every event as structured log output.
//
// Two modes:
//   - text: one human-readable line per event, key=value style
//   - JSONL: one JSON object per line for machine consumption
//
// Example text output:
//
//	[contribution] session=s-01 seq=14 sub=0 round=2
type LogSink struct {
	mu       sync.Mutex
	w        io.Writer
	jsonMode bool
}

// NewLogSink creates a LogSink writing to w (os.Stdout if nil).
func NewLogSink(w io.Writer, jsonMode bool) *LogSink {
	if w == nil {
		w = os.Stdout
	}
	return &LogSink{w: w, jsonMode: jsonMode}
}

// Write implements Sink.
func (l *LogSink) Write(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.jsonMode {
		data, err := json.Marshal(e)
		if err != nil {
			fmt.Fprintf(l.w, "{\"error\":\"marshal event: %v\"}\n", err)
			return
		}
		fmt.Fprintf(l.w, "%s\n", data)
		return
	}

	fmt.Fprintf(l.w, "[%s] session=%s seq=%d", e.Type, e.SessionID, e.Seq)
	if e.SubProblem != NoSubProblem {
		fmt.Fprintf(l.w, " sub=%d", e.SubProblem)
	}
	if e.Round > 0 {
		fmt.Fprintf(l.w, " round=%d", e.Round)
	}
	if len(e.Payload) > 0 {
		if meta, err := json.Marshal(e.Payload); err == nil {
			fmt.Fprintf(l.w, " payload=%s", meta)
		}
	}
	fmt.Fprint(l.w, "\n")
}

// BufferSink captures events in memory for inspection.
//
// Test helper: run a session, then assert on the captured stream.
type BufferSink struct {
	mu     sync.RWMutex
	events []Event
}

// NewBufferSink creates an empty BufferSink.
func NewBufferSink() *BufferSink {
	return &BufferSink{}
}

// Write implements Sink.
func (b *BufferSink) Write(e Event) {
	b.mu.Lock()
	b.events = append(b.events, e)
	b.mu.Unlock()
}

// Events returns a copy of all captured events in publish order.
func (b *BufferSink) Events() []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}

// ByType returns captured events matching the given type.
func (b *BufferSink) ByType(t Type) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Event
	for _, e := range b.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
