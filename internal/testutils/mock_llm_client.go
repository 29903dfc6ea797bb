// Package testutils provides deterministic test doubles for the QA Lab
// pipeline: a scripted chat client, a static client resolver, canned
// generator and judge payloads, and a quiet logger.
package testutils

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ahrav/go-qalab/internal/ports"
)

// ErrNoScriptedResponse is returned when a call matches no queued response,
// pattern or handler.
var ErrNoScriptedResponse = errors.New("mock llm: no scripted response")

var _ ports.LLMClient = (*MockLLMClient)(nil)

// MockResponse is one canned reply.
type MockResponse struct {
	// Pattern selects the response for AddResponse rules. It is matched as
	// a case-insensitive substring of the concatenated message contents.
	// An empty pattern matches every call.
	Pattern string

	Content      string
	FinishReason string
	Usage        ports.Usage

	// Err makes the call fail instead of returning Content.
	Err error
}

// Call records one Chat invocation.
type Call struct {
	Messages []ports.ChatMessage
	Options  map[string]any
}

// Prompt returns the concatenated message contents of the call.
func (c Call) Prompt() string {
	parts := make([]string, len(c.Messages))
	for i, m := range c.Messages {
		parts[i] = m.Content
	}
	return strings.Join(parts, "\n")
}

// MockLLMClient implements ports.LLMClient with scripted responses.
//
// Responses are chosen in this order: the next queued response (Enqueue),
// the first matching pattern rule (AddResponse), then the handler
// (OnChat). Every call is recorded. It is safe for concurrent use.
type MockLLMClient struct {
	mu       sync.Mutex
	model    string
	queue    []MockResponse
	rules    []MockResponse
	handler  func(Call) (ports.Completion, error)
	calls    []Call
	estimate func(string) (int, error)
}

// NewMockLLMClient creates a client that reports model from GetModel.
func NewMockLLMClient(model string) *MockLLMClient {
	return &MockLLMClient{model: model}
}

// Enqueue appends responses that are returned once each, in order.
func (m *MockLLMClient) Enqueue(responses ...MockResponse) *MockLLMClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, responses...)
	return m
}

// AddResponse adds a persistent pattern rule.
func (m *MockLLMClient) AddResponse(response MockResponse) *MockLLMClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, response)
	return m
}

// OnChat sets the fallback handler used when no queued response or rule
// applies.
func (m *MockLLMClient) OnChat(handler func(Call) (ports.Completion, error)) *MockLLMClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = handler
	return m
}

// OnEstimate overrides EstimateTokens.
func (m *MockLLMClient) OnEstimate(fn func(string) (int, error)) *MockLLMClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.estimate = fn
	return m
}

// Chat implements ports.LLMClient.
func (m *MockLLMClient) Chat(ctx context.Context, messages []ports.ChatMessage, options map[string]any) (ports.Completion, error) {
	if err := ctx.Err(); err != nil {
		return ports.Completion{}, err
	}

	call := Call{
		Messages: append([]ports.ChatMessage(nil), messages...),
		Options:  copyOptions(options),
	}

	m.mu.Lock()
	m.calls = append(m.calls, call)
	resp, ok := m.next(call)
	handler := m.handler
	m.mu.Unlock()

	if !ok {
		if handler == nil {
			return ports.Completion{}, fmt.Errorf("%w (call %d)", ErrNoScriptedResponse, len(m.Calls()))
		}
		return handler(call)
	}
	if resp.Err != nil {
		return ports.Completion{}, resp.Err
	}
	finish := resp.FinishReason
	if finish == "" {
		finish = "stop"
	}
	return ports.Completion{
		Content:      resp.Content,
		FinishReason: finish,
		Model:        m.model,
		Usage:        resp.Usage,
	}, nil
}

// next picks the scripted response for call. The caller holds m.mu.
func (m *MockLLMClient) next(call Call) (MockResponse, bool) {
	if len(m.queue) > 0 {
		resp := m.queue[0]
		m.queue = m.queue[1:]
		return resp, true
	}
	prompt := strings.ToLower(call.Prompt())
	for _, rule := range m.rules {
		if strings.Contains(prompt, strings.ToLower(rule.Pattern)) {
			return rule, true
		}
	}
	return MockResponse{}, false
}

// EstimateTokens returns ceil(len(text)/4) unless overridden.
func (m *MockLLMClient) EstimateTokens(text string) (int, error) {
	m.mu.Lock()
	fn := m.estimate
	m.mu.Unlock()
	if fn != nil {
		return fn(text)
	}
	return (len(text) + 3) / 4, nil
}

// GetModel implements ports.LLMClient.
func (m *MockLLMClient) GetModel() string { return m.model }

// Calls returns a copy of every recorded call.
func (m *MockLLMClient) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// CallCount returns the number of Chat calls made.
func (m *MockLLMClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Pending returns how many queued responses are unused.
func (m *MockLLMClient) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

func copyOptions(opts map[string]any) map[string]any {
	if opts == nil {
		return nil
	}
	out := make(map[string]any, len(opts))
	for k, v := range opts {
		out[k] = v
	}
	return out
}
