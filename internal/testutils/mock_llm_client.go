// Package testutils provides shared test doubles for the analysis and
// pipeline packages.
package testutils

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/fixadev/callwatch/internal/ports"
)

// MockLLMClient implements the LLMClient interface with deterministic
// responses keyed by prompt substring. It records every prompt it sees
// so tests can assert whether and how the model was called.
type MockLLMClient struct {
	mu sync.Mutex

	model     string
	responses []MockResponse
	err       error
	prompts   []string
}

var _ ports.LLMClient = (*MockLLMClient)(nil)

// MockResponse maps a prompt substring to a canned response. Patterns
// are tried in registration order; an empty pattern matches anything.
type MockResponse struct {
	Pattern  string
	Response string
}

// NewMockLLMClient creates a mock with no configured responses. A call
// that matches nothing returns an error, which keeps tests honest about
// the prompts they expect.
func NewMockLLMClient(model string) *MockLLMClient {
	return &MockLLMClient{model: model}
}

// AddResponse registers a response pattern.
func (m *MockLLMClient) AddResponse(response MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, response)
}

// FailWith makes every subsequent Complete call return err.
func (m *MockLLMClient) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Prompts returns a copy of every prompt passed to Complete.
func (m *MockLLMClient) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.prompts))
	copy(out, m.prompts)
	return out
}

// CallCount returns the number of Complete calls made.
func (m *MockLLMClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

// Complete implements LLMClient.Complete with substring matching against
// the registered patterns.
func (m *MockLLMClient) Complete(ctx context.Context, prompt string, options map[string]any) (string, error) {
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)

	if m.err != nil {
		return "", m.err
	}
	for _, r := range m.responses {
		if r.Pattern == "" || strings.Contains(prompt, r.Pattern) {
			return r.Response, nil
		}
	}
	return "", fmt.Errorf("mock llm: no response configured for prompt %q", truncate(prompt, 80))
}

// GetModel implements LLMClient.GetModel.
func (m *MockLLMClient) GetModel() string { return m.model }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
