package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ahrav/go-qalab/internal/ports"
)

// OpenAIDefaultModel is used when the config leaves Model empty.
const OpenAIDefaultModel = "gpt-4o-mini"

func init() {
	RegisterProviderFactory("openai", newOpenAIProvider)
}

// openAIProvider talks to the chat completions API, or to any compatible
// endpoint set through BaseURL.
type openAIProvider struct {
	BaseProvider
	client     *openai.Client
	classifier ErrorClassifier
}

func newOpenAIProvider(config ClientConfig) (CoreLLM, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}

	cc := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		base, err := ValidateBaseURL(config.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("openai: %w", err)
		}
		cc.BaseURL = base
	}
	if timeout := ValidateTimeout(config.Timeout); timeout > 0 {
		cc.HTTPClient = &http.Client{Timeout: timeout}
	}

	return &openAIProvider{
		BaseProvider: BaseProvider{model: cmp(config.Model, OpenAIDefaultModel)},
		client:       openai.NewClientWithConfig(cc),
		classifier:   ErrorClassifier{Provider: "openai"},
	}, nil
}

// DoRequest returns the first choice. A response without choices becomes
// an empty completion so the caller can treat it as an empty answer.
func (p *openAIProvider) DoRequest(ctx context.Context, messages []ports.ChatMessage, opts map[string]any) (ports.Completion, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openAIRequest(messages, ParseRequestOptions(opts, p.GetModel())))
	if err != nil {
		return ports.Completion{}, p.classifier.Classify(err, openAIStatus)
	}

	out := ports.Completion{
		Model: resp.Model,
		Usage: ports.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	if len(resp.Choices) > 0 {
		out.Content = resp.Choices[0].Message.Content
		out.FinishReason = string(resp.Choices[0].FinishReason)
	}
	return out, nil
}

func openAIRequest(messages []ports.ChatMessage, o RequestOptions) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:     o.Model,
		MaxTokens: o.MaxTokens,
		Messages:  make([]openai.ChatCompletionMessage, len(messages)),
	}
	for i, m := range messages {
		req.Messages[i] = openai.ChatCompletionMessage{Role: openAIRole(m.Role), Content: m.Content}
	}
	if o.Temperature != nil {
		req.Temperature = float32(ClampFloat64(*o.Temperature, MinTemperature, MaxTemperature))
	}
	if o.TopP != nil {
		req.TopP = float32(*o.TopP)
	}
	if o.JSONMode && supportsJSONMode(o.Model) {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}
	return req
}

func openAIRole(role string) string {
	switch role {
	case ports.RoleSystem:
		return openai.ChatMessageRoleSystem
	case ports.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	}
	return openai.ChatMessageRoleUser
}

func openAIStatus(err error) (int, string, bool) {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode, apiErr.Message, true
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode, "", true
	}
	return 0, "", false
}
