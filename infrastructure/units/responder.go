package units

import (
	"bytes"
	"context"
	"fmt"
	"text/template"

	"github.com/ahrav/go-qalab/infrastructure/llm"
	"github.com/ahrav/go-qalab/internal/domain"
	"github.com/ahrav/go-qalab/internal/ports"
)

// Responder defaults.
const (
	DefaultResponderTemperature  = 0.3
	DefaultResponderMaxTokens    = 600
	DefaultResponderHistoryTurns = 4
)

// HistoryTurn is one customer message and the reply it received.
type HistoryTurn struct {
	Customer  string
	Assistant string
}

// History is an append-only conversation log. Append returns a new History
// and never modifies the receiver, so earlier values stay valid.
type History struct {
	turns []HistoryTurn
}

// Append returns a History with one more turn.
func (h History) Append(customer, assistant string) History {
	turns := make([]HistoryTurn, len(h.turns), len(h.turns)+1)
	copy(turns, h.turns)
	return History{turns: append(turns, HistoryTurn{Customer: customer, Assistant: assistant})}
}

// Last returns up to n of the most recent turns, oldest first.
func (h History) Last(n int) []HistoryTurn {
	if n <= 0 {
		return nil
	}
	start := max(0, len(h.turns)-n)
	return append([]HistoryTurn(nil), h.turns[start:]...)
}

// Len returns the number of turns.
func (h History) Len() int { return len(h.turns) }

// ResponderConfig defines the configuration parameters for the Responder.
type ResponderConfig struct {
	Temperature  float64 `yaml:"temperature" json:"temperature" validate:"min=0,max=2"`
	MaxTokens    int     `yaml:"max_tokens" json:"max_tokens" validate:"min=64,max=4000"`
	HistoryTurns int     `yaml:"history_turns" json:"history_turns" validate:"min=0,max=20"`
	ContextLines int     `yaml:"context_lines" json:"context_lines" validate:"min=1,max=20"`
}

// DefaultResponderConfig returns the configuration used for every run.
func DefaultResponderConfig() ResponderConfig {
	return ResponderConfig{
		Temperature:  DefaultResponderTemperature,
		MaxTokens:    DefaultResponderMaxTokens,
		HistoryTurns: DefaultResponderHistoryTurns,
		ContextLines: DefaultContextLines,
	}
}

const responderSystemPrompt = `You are the AI assistant for {{.BusinessName}}.
{{- if .ProfileSummary}}
{{.ProfileSummary}}
{{- end}}

Answer the customer using only the business context below. If the context
does not contain the answer, say so plainly and do not guess. Never invent
prices, hours, services or policies.
Reply in {{.Language}}.
If the customer's request is already answered, you may ask at most one
natural follow-up question that moves them toward booking or a quote.
Never tell the customer to contact support, call the office or speak to a
human; handle the conversation yourself.
{{- if .NoRelevantContext}}

No context matched this message. The lines below are general background
only; if they do not answer the question, say you do not have that
information.
{{- end}}

Business context:
{{- range .Context}}
[{{add .Index 1}}] {{.Text}}
{{- end}}`

var responderSystemTmpl = template.Must(template.New("responderSystem").Funcs(GetTemplateFuncMap()).Parse(responderSystemPrompt))

type contextLine struct {
	Index int
	Text  string
}

type responderPromptData struct {
	BusinessName      string
	ProfileSummary    string
	Language          string
	NoRelevantContext bool
	Context           []contextLine
}

// Reply is one Responder answer with the context and usage behind it.
type Reply struct {
	Text         string
	FinishReason string
	Usage        domain.TokenUsage
	Context      ContextSelection
}

// Responder answers customer messages grounded in one generated fixture.
type Responder struct {
	client   ports.LLMClient
	tracker  ports.TokenBudget
	selector *ContextSelector
	business domain.BusinessHint
	summary  string
	config   ResponderConfig
}

// NewResponder creates a Responder over the fixture in output.
func NewResponder(
	client ports.LLMClient,
	tracker ports.TokenBudget,
	output domain.GeneratedOutput,
	config ResponderConfig,
) (*Responder, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	if tracker == nil {
		return nil, ErrNilTracker
	}
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &Responder{
		client:   client,
		tracker:  tracker,
		selector: NewContextSelector(output.Fixture.Lines),
		business: output.Business,
		summary:  output.DerivedSetup.ProfileSummary,
		config:   config,
	}, nil
}

// Respond answers message given the prior conversation and charges the
// call's usage to the tracker.
func (r *Responder) Respond(ctx context.Context, history History, message string) (Reply, error) {
	sel := r.selector.Select(message, r.config.ContextLines)
	messages, err := r.buildMessages(history, message, sel)
	if err != nil {
		return Reply{}, err
	}

	completion, err := r.client.Chat(ctx, messages, map[string]any{
		"temperature": r.config.Temperature,
		"max_tokens":  r.config.MaxTokens,
	})
	if err != nil {
		return Reply{}, fmt.Errorf("responder: %w", err)
	}

	usage := r.tracker.Consume(completion.Usage, llm.PromptText(messages), completion.Content)
	return Reply{
		Text:         completion.Content,
		FinishReason: completion.FinishReason,
		Usage:        usage,
		Context:      sel,
	}, nil
}

func (r *Responder) buildMessages(history History, message string, sel ContextSelection) ([]ports.ChatMessage, error) {
	name := r.business.Name
	if name == "" {
		name = "the business"
	}
	data := responderPromptData{
		BusinessName:      name,
		ProfileSummary:    r.summary,
		Language:          LanguageName(DetectLanguage(message)),
		NoRelevantContext: sel.NoRelevantContext,
		Context:           make([]contextLine, len(sel.Indices)),
	}
	for i, idx := range sel.Indices {
		data.Context[i] = contextLine{Index: idx, Text: sel.Lines[i]}
	}

	var system bytes.Buffer
	if err := responderSystemTmpl.Execute(&system, data); err != nil {
		return nil, fmt.Errorf("responder: render system prompt: %w", err)
	}

	recent := history.Last(r.config.HistoryTurns)
	messages := make([]ports.ChatMessage, 0, 2+2*len(recent))
	messages = append(messages, ports.ChatMessage{Role: ports.RoleSystem, Content: system.String()})
	for _, turn := range recent {
		messages = append(messages,
			ports.ChatMessage{Role: ports.RoleUser, Content: turn.Customer},
			ports.ChatMessage{Role: ports.RoleAssistant, Content: turn.Assistant},
		)
	}
	return append(messages, ports.ChatMessage{Role: ports.RoleUser, Content: message}), nil
}
