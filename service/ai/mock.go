package ai

import (
	"context"
	"sync"
)

// MockProvider is a scripted backend for tests and offline runs. Responses
// are returned in order; Err (if set) is returned before the first response
// is consumed, Fails injects that many leading failures.
type MockProvider struct {
	mu        sync.Mutex
	Responses []string
	Err       error
	Fails     int

	// Fn, when set, overrides Responses and decides the reply per request.
	// Needed when calls arrive concurrently and order is not fixed.
	Fn func(msgs []Message) (string, error)

	calls int
	opts  []GenerateOptions
}

func (m *MockProvider) Name() string { return "mock" }

func (m *MockProvider) GenerateContent(_ context.Context, msgs []Message, opts GenerateOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	m.opts = append(m.opts, opts)

	if m.Fn != nil {
		return m.Fn(msgs)
	}
	if m.Fails > 0 {
		m.Fails--
		if m.Err != nil {
			return "", m.Err
		}
		return "", errEmptyResponse
	}
	if m.Err != nil {
		return "", m.Err
	}
	if len(m.Responses) == 0 {
		return "", errEmptyResponse
	}
	resp := m.Responses[0]
	if len(m.Responses) > 1 {
		m.Responses = m.Responses[1:]
	}
	return resp, nil
}

// Calls reports how many times GenerateContent ran.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Opts returns the per-call generation options observed so far.
func (m *MockProvider) Opts() []GenerateOptions {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]GenerateOptions, len(m.opts))
	copy(out, m.opts)
	return out
}
