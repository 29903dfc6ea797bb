// Package llm adapts the OpenAI, Anthropic and Google chat APIs to
// ports.LLMClient. Each provider is a CoreLLM; NewClient wraps it in a
// Middleware chain (rate limit, circuit breaker, metrics, tracing,
// timeout). Registry resolves "provider/model" specs to cached clients.
//
// Providers report usage exactly as the API returned it. Callers that need
// a number when the provider omits one use EstimateUsage.
package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ahrav/go-qalab/internal/ports"
)

// CoreLLM is what a provider implements and what Middleware wraps.
type CoreLLM interface {
	// DoRequest returns the first choice for the conversation. Usage fields
	// the provider did not report are zero.
	DoRequest(ctx context.Context, messages []ports.ChatMessage, opts map[string]any) (ports.Completion, error)
	GetModel() string
	SetModel(model string)
}

type TokenEstimator interface {
	EstimateTokens(text string) int
}

type ClientConfig struct {
	APIKey string
	Model  string
	// BaseURL overrides the provider endpoint, e.g. for a proxy.
	BaseURL string
	// Timeout is the HTTP client timeout, clamped by ValidateTimeout. Zero
	// means none.
	Timeout time.Duration
	// TokenEstimator defaults to CharacterTokenEstimator.
	TokenEstimator TokenEstimator
	// Middleware is listed outermost first.
	Middleware []Middleware
}

type Middleware func(CoreLLM) CoreLLM

// Client is a ports.LLMClient over a middleware-wrapped CoreLLM.
type Client struct {
	core      CoreLLM
	estimator TokenEstimator
}

var _ ports.LLMClient = (*Client)(nil)

// NewClient builds the named provider from config and wraps it.
func NewClient(providerType string, config ClientConfig) (*Client, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}
	if config.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	factory, ok := GetProviderFactory(providerType)
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", providerType)
	}
	core, err := factory(config)
	if err != nil {
		return nil, fmt.Errorf("create %s provider: %w", providerType, err)
	}

	return NewClientFromCore(core, config.TokenEstimator, config.Middleware...), nil
}

// NewClientFromCore wraps an existing CoreLLM.
func NewClientFromCore(core CoreLLM, estimator TokenEstimator, middleware ...Middleware) *Client {
	for i := len(middleware) - 1; i >= 0; i-- {
		core = middleware[i](core)
	}
	if estimator == nil {
		estimator = CharacterTokenEstimator{}
	}
	return &Client{core: core, estimator: estimator}
}

// Chat sends the conversation to the model. Provider failures are returned
// as *ports.LLMError so callers can inspect the model and classification.
func (c *Client) Chat(ctx context.Context, messages []ports.ChatMessage, options map[string]any) (ports.Completion, error) {
	if len(messages) == 0 {
		return ports.Completion{}, errors.New("at least one message is required")
	}
	completion, err := c.core.DoRequest(ctx, messages, options)
	if err != nil {
		return ports.Completion{}, ports.NewLLMError(c.core.GetModel(), "Chat", err)
	}
	if completion.Model == "" {
		completion.Model = c.core.GetModel()
	}
	return completion, nil
}

func (c *Client) EstimateTokens(text string) (int, error) {
	return c.estimator.EstimateTokens(text), nil
}

func (c *Client) GetModel() string { return c.core.GetModel() }

type ProviderFactory func(ClientConfig) (CoreLLM, error)

var (
	factoriesMu       sync.RWMutex
	providerFactories = map[string]ProviderFactory{}
)

// RegisterProviderFactory makes a provider available to NewClient. The
// built-in providers register in init.
func RegisterProviderFactory(providerType string, factory ProviderFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	providerFactories[providerType] = factory
}

func GetProviderFactory(name string) (ProviderFactory, bool) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	factory, ok := providerFactories[name]
	return factory, ok
}
