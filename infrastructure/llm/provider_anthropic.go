package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ahrav/go-qalab/internal/ports"
)

// AnthropicDefaultModel is used when the config leaves Model empty.
const AnthropicDefaultModel = "claude-3-5-haiku-latest"

func init() {
	RegisterProviderFactory("anthropic", newAnthropicProvider)
}

// anthropicProvider talks to the Messages API. System messages go into the
// dedicated system parameter. The API has no JSON mode, so json_mode is
// ignored and the prompts carry the format instructions.
type anthropicProvider struct {
	BaseProvider
	client     anthropic.Client
	classifier ErrorClassifier
}

func newAnthropicProvider(config ClientConfig) (CoreLLM, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}

	// No SDK retries: every call counts against the run budget.
	opts := []anthropicoption.RequestOption{anthropicoption.WithAPIKey(config.APIKey), anthropicoption.WithMaxRetries(0)}
	if config.BaseURL != "" {
		opts = append(opts, anthropicoption.WithBaseURL(config.BaseURL))
	}
	if timeout := ValidateTimeout(config.Timeout); timeout > 0 {
		opts = append(opts, anthropicoption.WithRequestTimeout(timeout))
	}

	return &anthropicProvider{
		BaseProvider: BaseProvider{model: cmp(config.Model, AnthropicDefaultModel)},
		client:       anthropic.NewClient(opts...),
		classifier:   ErrorClassifier{Provider: "anthropic"},
	}, nil
}

// DoRequest concatenates the text blocks of the reply. Usage stays zero
// when the API reports none.
func (p *anthropicProvider) DoRequest(ctx context.Context, messages []ports.ChatMessage, opts map[string]any) (ports.Completion, error) {
	message, err := p.client.Messages.New(ctx, anthropicParams(messages, ParseRequestOptions(opts, p.GetModel())))
	if err != nil {
		return ports.Completion{}, p.classifier.Classify(err, anthropicStatus)
	}

	var text strings.Builder
	for _, block := range message.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(tb.Text)
		}
	}

	in := int(message.Usage.InputTokens)
	out := int(message.Usage.OutputTokens)
	total := 0
	if in > 0 || out > 0 {
		total = in + out
	}
	return ports.Completion{
		Content:      text.String(),
		FinishReason: string(message.StopReason),
		Model:        string(message.Model),
		Usage: ports.Usage{
			PromptTokens:     in,
			CompletionTokens: out,
			TotalTokens:      total,
		},
	}, nil
}

func anthropicParams(messages []ports.ChatMessage, options RequestOptions) anthropic.MessageNewParams {
	system, rest := SplitSystem(messages)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(options.Model),
		MaxTokens: int64(options.MaxTokens),
		Messages:  make([]anthropic.MessageParam, 0, len(rest)),
	}
	for _, m := range rest {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == ports.RoleAssistant {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(block))
		} else {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(block))
		}
	}

	// Anthropic accepts temperatures up to 1 only.
	if options.Temperature != nil {
		params.Temperature = anthropic.Float(ClampFloat64(*options.Temperature, 0, 1))
	}
	if options.TopP != nil {
		params.TopP = anthropic.Float(*options.TopP)
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	return params
}

func anthropicStatus(err error) (int, string, bool) {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode, "", true
	}
	return 0, "", false
}
