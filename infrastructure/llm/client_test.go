package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-qalab/internal/ports"
)

func TestNewClient_Validation(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		config   ClientConfig
		wantErr  string
	}{
		{name: "missing api key", provider: "openai", config: ClientConfig{Model: "gpt-4o"}, wantErr: ErrEmptyAPIKey.Error()},
		{name: "missing model", provider: "openai", config: ClientConfig{APIKey: "k"}, wantErr: "model is required"},
		{name: "unknown provider", provider: "acme", config: ClientConfig{APIKey: "k", Model: "m"}, wantErr: "unknown provider: acme"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(tt.provider, tt.config)
			require.Error(t, err)
			assert.Nil(t, client)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewClient_BuiltInProviders(t *testing.T) {
	for _, provider := range []string{"openai", "anthropic", "google"} {
		t.Run(provider, func(t *testing.T) {
			client, err := NewClient(provider, ClientConfig{APIKey: "test-key", Model: "some-model"})
			require.NoError(t, err)
			assert.Equal(t, "some-model", client.GetModel())
		})
	}
}

func TestClient_Chat(t *testing.T) {
	t.Run("returns completion from core", func(t *testing.T) {
		mock := NewMockCoreLLM()
		client := NewClientFromCore(mock, nil)

		completion, err := client.Chat(context.Background(), testMessages, map[string]any{"temperature": 0.2})
		require.NoError(t, err)
		assert.Equal(t, "test response", completion.Content)
		assert.Equal(t, 30, completion.Usage.TotalTokens)
		assert.Equal(t, testMessages, mock.LastMessages)
		assert.Equal(t, 0.2, mock.LastOpts["temperature"])
	})

	t.Run("fills model when provider omits it", func(t *testing.T) {
		mock := NewMockCoreLLM()
		client := NewClientFromCore(&blankModelLLM{MockCoreLLM: mock}, nil)

		completion, err := client.Chat(context.Background(), testMessages, nil)
		require.NoError(t, err)
		assert.Equal(t, "test-model", completion.Model)
	})

	t.Run("rejects empty conversation", func(t *testing.T) {
		client := NewClientFromCore(NewMockCoreLLM(), nil)
		_, err := client.Chat(context.Background(), nil, nil)
		require.Error(t, err)
	})

	t.Run("wraps provider errors", func(t *testing.T) {
		mock := NewMockCoreLLM()
		mock.Error = NewProviderError("openai", ErrorTypeRateLimit, 429, "slow down", nil)
		client := NewClientFromCore(mock, nil)

		_, err := client.Chat(context.Background(), testMessages, nil)
		require.Error(t, err)

		var llmErr *ports.LLMError
		require.ErrorAs(t, err, &llmErr)
		assert.Equal(t, "test-model", llmErr.Model)
		assert.ErrorIs(t, err, ports.ErrRateLimited)
		assert.True(t, llmErr.IsRetryable())
	})
}

func TestClient_EstimateTokens(t *testing.T) {
	client := NewClientFromCore(NewMockCoreLLM(), nil)
	n, err := client.EstimateTokens("abcdefgh")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	custom := NewClientFromCore(NewMockCoreLLM(), fixedEstimator(7))
	n, err = custom.EstimateTokens("anything")
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestProviderError_Is(t *testing.T) {
	tests := []struct {
		errType ErrorType
		target  error
		want    bool
	}{
		{ErrorTypeRateLimit, ports.ErrRateLimited, true},
		{ErrorTypeServerError, ports.ErrServiceUnavailable, true},
		{ErrorTypeNetwork, ports.ErrServiceUnavailable, true},
		{ErrorTypeTimeout, ports.ErrTimeout, true},
		{ErrorTypeAuthentication, ports.ErrAuthenticationFailed, true},
		{ErrorTypeBadRequest, ports.ErrRateLimited, false},
	}
	for _, tt := range tests {
		err := error(NewProviderError("p", tt.errType, 0, "", nil))
		assert.Equal(t, tt.want, errors.Is(err, tt.target), "type %d target %v", tt.errType, tt.target)
	}
}

func TestErrorClassifier_ClassifyHTTPError(t *testing.T) {
	ec := &ErrorClassifier{Provider: "openai"}
	tests := []struct {
		status int
		want   ErrorType
	}{
		{401, ErrorTypeAuthentication},
		{403, ErrorTypeAuthentication},
		{429, ErrorTypeRateLimit},
		{400, ErrorTypeBadRequest},
		{404, ErrorTypeNotFound},
		{503, ErrorTypeServerError},
		{418, ErrorTypeBadRequest},
		{599, ErrorTypeServerError},
		{0, ErrorTypeUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ec.ClassifyHTTPError(tt.status, "m", nil).Type, "status %d", tt.status)
	}
}

func TestErrorClassifier_ClassifyContextError(t *testing.T) {
	ec := &ErrorClassifier{Provider: "google"}
	assert.Equal(t, ErrorTypeTimeout, ec.ClassifyContextError(context.DeadlineExceeded).Type)
	assert.Equal(t, ErrorTypeNetwork, ec.ClassifyContextError(context.Canceled).Type)
}

type blankModelLLM struct{ *MockCoreLLM }

func (b *blankModelLLM) DoRequest(ctx context.Context, messages []ports.ChatMessage, opts map[string]any) (ports.Completion, error) {
	c, err := b.MockCoreLLM.DoRequest(ctx, messages, opts)
	c.Model = ""
	return c, err
}

type fixedEstimator int

func (f fixedEstimator) EstimateTokens(string) int { return int(f) }
