package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/genai"

	"github.com/ahrav/go-qalab/internal/ports"
)

// GoogleDefaultModel is used when the config leaves Model empty.
const GoogleDefaultModel = "gemini-2.0-flash"

func init() {
	RegisterProviderFactory("google", newGoogleProvider)
}

// googleProvider talks to the Gemini API with an API key. System messages
// become the system instruction and assistant turns use the model role.
type googleProvider struct {
	BaseProvider
	client     *genai.Client
	classifier ErrorClassifier
}

func newGoogleProvider(config ClientConfig) (CoreLLM, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}
	if strings.HasSuffix(strings.ToLower(config.APIKey), ".json") {
		return nil, errors.New("google: service account credentials are not supported; set GOOGLE_API_KEY to an API key")
	}

	cc := &genai.ClientConfig{APIKey: config.APIKey, Backend: genai.BackendGeminiAPI}
	if config.BaseURL != "" {
		base, err := ValidateBaseURL(config.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("google: %w", err)
		}
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: base}
	}
	if timeout := ValidateTimeout(config.Timeout); timeout > 0 {
		cc.HTTPClient = &http.Client{Timeout: timeout}
	}

	client, err := genai.NewClient(context.Background(), cc)
	if err != nil {
		return nil, fmt.Errorf("google: create client: %w", err)
	}
	return &googleProvider{
		BaseProvider: BaseProvider{model: cmp(config.Model, GoogleDefaultModel)},
		client:       client,
		classifier:   ErrorClassifier{Provider: "google"},
	}, nil
}

func (p *googleProvider) DoRequest(ctx context.Context, messages []ports.ChatMessage, opts map[string]any) (ports.Completion, error) {
	options := ParseRequestOptions(opts, p.GetModel())
	system, rest := SplitSystem(messages)

	contents := make([]*genai.Content, len(rest))
	for i, m := range rest {
		role := genai.Role(genai.RoleUser)
		if m.Role == ports.RoleAssistant {
			role = genai.RoleModel
		}
		contents[i] = genai.NewContentFromText(m.Content, role)
	}

	resp, err := p.client.Models.GenerateContent(ctx, options.Model, contents, geminiConfig(system, options))
	if err != nil {
		return ports.Completion{}, p.classify(err)
	}

	out := ports.Completion{Content: resp.Text(), Model: resp.ModelVersion}
	if len(resp.Candidates) > 0 && resp.Candidates[0] != nil {
		out.FinishReason = strings.ToLower(string(resp.Candidates[0].FinishReason))
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = ports.Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	return out, nil
}

func geminiConfig(system string, o RequestOptions) *genai.GenerateContentConfig {
	gc := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(min(o.MaxTokens, math.MaxInt32)),
	}
	if system != "" {
		gc.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if o.Temperature != nil {
		gc.Temperature = genai.Ptr(float32(*o.Temperature))
	}
	if o.TopP != nil {
		gc.TopP = genai.Ptr(float32(*o.TopP))
	}
	if o.JSONMode {
		gc.ResponseMIMEType = "application/json"
	}
	return gc
}

// classify separates safety blocks from ordinary bad requests. The genai
// SDK reports API failures as genai.APIError; googleapi.Error still comes
// back from some transport paths.
func (p *googleProvider) classify(err error) error {
	code, msg, ok := geminiStatus(err)
	if ok && isSafetyBlock(msg) {
		return NewProviderError("google", ErrorTypeContentPolicy, code, "request blocked by safety filters", err)
	}
	return p.classifier.Classify(err, geminiStatus)
}

func geminiStatus(err error) (int, string, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, apiErr.Message, true
	}
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		msg := gErr.Message
		if msg == "" && len(gErr.Errors) > 0 {
			msg = gErr.Errors[0].Reason + ": " + gErr.Errors[0].Message
		}
		return gErr.Code, msg, true
	}
	return 0, "", false
}

func isSafetyBlock(msg string) bool {
	lower := strings.ToLower(msg)
	for _, marker := range []string{"safety", "blocked", "prohibited content"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
