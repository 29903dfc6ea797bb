package llm

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ahrav/go-qalab/internal/ports"
)

// MockCoreLLM is a scriptable CoreLLM for middleware and client tests.
// The zero-config value from NewMockCoreLLM answers every call with a
// 10+20 token completion.
type MockCoreLLM struct {
	mu sync.Mutex

	Response      string
	Model         string
	Error         error
	ResponseDelay time.Duration
	// FailUntilAttempt makes the first N calls fail with Error, or a
	// generic failure when Error is nil.
	FailUntilAttempt int

	calls        int
	LastMessages []ports.ChatMessage
	LastOpts     map[string]any
}

var errScriptedFailure = errors.New("scripted failure")

func NewMockCoreLLM() *MockCoreLLM {
	return &MockCoreLLM{Response: "test response", Model: "test-model"}
}

func (m *MockCoreLLM) DoRequest(ctx context.Context, messages []ports.ChatMessage, opts map[string]any) (ports.Completion, error) {
	m.mu.Lock()
	m.calls++
	call := m.calls
	m.LastMessages, m.LastOpts = messages, opts
	delay, failing, err := m.ResponseDelay, call <= m.FailUntilAttempt, m.Error
	content, model := m.Response, m.Model
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ports.Completion{}, ctx.Err()
		}
	}
	if failing && err == nil {
		err = errScriptedFailure
	}
	if err != nil {
		return ports.Completion{}, err
	}
	return ports.Completion{
		Content:      content,
		FinishReason: "stop",
		Model:        model,
		Usage:        ports.Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
	}, nil
}

func (m *MockCoreLLM) GetModel() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Model
}

func (m *MockCoreLLM) SetModel(model string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Model = model
}

func (m *MockCoreLLM) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
