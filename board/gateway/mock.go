package gateway

import (
	"context"
	"sync"
)

// MockProvider is a scripted Provider for tests.
//
// Each Complete call returns the next configured response; when responses
// run out the last one repeats. Errors can be injected globally (Err) or
// per call position (Errs). Every call is recorded for assertions.
//
// Example:
//
//	mock := &MockProvider{
//	    ProviderName: "mock",
//	    Responses:    []Response{{Text: `{"stance":"agree"}`}},
//	}
type MockProvider struct {
	// ProviderName is returned by Name(); defaults to "mock".
	ProviderName string

	// Responses is the scripted response sequence.
	Responses []Response

	// Err, when set, is returned by every call.
	Err error

	// Errs maps a zero-based call index to an error for that call only.
	Errs map[int]error

	// Usage applied to responses that carry none, so cost accounting has
	// something to bill.
	Usage Usage

	mu    sync.Mutex
	calls []MockCall
	index int
}

// MockCall records one Complete invocation.
type MockCall struct {
	Model   string
	Request Request
}

// Name implements Provider.
func (m *MockProvider) Name() string {
	if m.ProviderName == "" {
		return "mock"
	}
	return m.ProviderName
}

// Complete implements Provider.
func (m *MockProvider) Complete(ctx context.Context, model string, req Request) (Response, error) {
	if ctx.Err() != nil {
		return Response{}, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	call := len(m.calls)
	m.calls = append(m.calls, MockCall{Model: model, Request: req})

	if m.Err != nil {
		return Response{}, m.Err
	}
	if err, ok := m.Errs[call]; ok {
		return Response{}, err
	}
	if len(m.Responses) == 0 {
		return Response{Usage: m.Usage}, nil
	}

	idx := m.index
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	} else {
		m.index++
	}
	resp := m.Responses[idx]
	if resp.Usage == (Usage{}) {
		resp.Usage = m.Usage
	}
	return resp, nil
}

// Calls returns a copy of the recorded calls.
func (m *MockProvider) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times Complete was invoked.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Reset clears recorded calls and rewinds the response script.
func (m *MockProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.index = 0
}
