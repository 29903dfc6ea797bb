package units

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/go-qalab/infrastructure/llm"
	"github.com/ahrav/go-qalab/internal/domain"
	"github.com/ahrav/go-qalab/internal/ports"
)

var _ ports.Unit = (*GeneratorUnit)(nil)

// Generator defaults.
const (
	DefaultGeneratorMaxAttempts     = 3
	DefaultGeneratorMaxOutputTokens = 6000
	DefaultGeneratorTemperature     = 0.8

	previewRunes = 400
)

// GeneratorConfig defines the configuration parameters for the GeneratorUnit.
type GeneratorConfig struct {
	// MaxAttempts caps generation calls, including the first.
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts" validate:"min=1,max=5"`

	// MaxOutputTokens bounds each generation response.
	MaxOutputTokens int `yaml:"max_output_tokens" json:"max_output_tokens" validate:"min=256,max=32000"`

	// Temperature is sent with every attempt.
	Temperature float64 `yaml:"temperature" json:"temperature" validate:"min=0,max=2"`
}

// DefaultGeneratorConfig returns the configuration used for every run.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		MaxAttempts:     DefaultGeneratorMaxAttempts,
		MaxOutputTokens: DefaultGeneratorMaxOutputTokens,
		Temperature:     DefaultGeneratorTemperature,
	}
}

// GeneratorUnit synthesizes a business fixture and customer scenarios for
// the run in state. Rejected attempts are retried with the rejection reason
// in the prompt. It writes domain.KeyGeneration on success and returns a
// *domain.GenerationError when no attempt produced usable output.
type GeneratorUnit struct {
	name    string
	client  ports.LLMClient
	tracker ports.TokenBudget
	config  GeneratorConfig
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewGeneratorUnit creates a generator that charges every call to tracker.
func NewGeneratorUnit(
	name string,
	client ports.LLMClient,
	tracker ports.TokenBudget,
	config GeneratorConfig,
	logger *slog.Logger,
) (*GeneratorUnit, error) {
	if name == "" {
		return nil, ErrEmptyUnitName
	}
	if client == nil {
		return nil, ErrNilClient
	}
	if tracker == nil {
		return nil, ErrNilTracker
	}
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GeneratorUnit{
		name:    name,
		client:  client,
		tracker: tracker,
		config:  config,
		logger:  logger,
		tracer:  otel.Tracer("generator-unit"),
	}, nil
}

// Name returns the unique identifier for this unit instance.
func (g *GeneratorUnit) Name() string { return g.name }

// Execute runs up to MaxAttempts generation attempts. Before every retry
// the budget is checked; an exhausted budget ends generation with a
// budget_exhausted diagnostic.
func (g *GeneratorUnit) Execute(ctx context.Context, state domain.State) (domain.State, error) {
	run, ok := domain.Get(state, domain.KeyRun)
	if !ok {
		return state, domain.MissingState(domain.KeyRun, g.name)
	}

	hint := BusinessHintFor(run.ID)
	constraints := ConstraintsFromRun(run.Config)
	log := g.logger.With("run_id", run.ID, "stage", g.name)

	attempts := make([]domain.AttemptDiagnostic, 0, g.config.MaxAttempts)
	lastError := ""
	for n := 1; n <= g.config.MaxAttempts; n++ {
		if n > 1 && g.tracker.IsExhausted() {
			attempts = append(attempts, domain.AttemptDiagnostic{
				Attempt: n,
				Outcome: domain.AttemptBudgetExhausted,
				Error:   "token budget exhausted before retry",
			})
			log.Warn("generator stopped by token budget", "attempt", n)
			return state, &domain.GenerationError{Reason: "token budget exhausted", Attempts: attempts}
		}

		out, diag, err := g.attempt(ctx, n, hint, constraints, lastError)
		attempts = append(attempts, diag)
		if err != nil {
			return state, err
		}
		if diag.Outcome == domain.AttemptOK {
			log.Info("generator attempt accepted",
				"attempt", n,
				"scenarios", len(out.Scenarios),
				"fixture_lines", len(out.Fixture.Lines),
				"total_tokens", diag.TotalTokens)
			return domain.With(state, domain.KeyGeneration, domain.GenerationResult{Output: out, Attempts: attempts}), nil
		}

		log.Warn("generator attempt rejected", "attempt", n, "outcome", diag.Outcome, "error", diag.Error)
		lastError = diag.Error
	}

	return state, &domain.GenerationError{Reason: "no attempt produced usable output", Attempts: attempts}
}

// attempt performs one generation call. It returns a non-nil error only
// when the run must stop immediately (context cancelled or a prompt that
// cannot be rendered); rejected output is reported through the diagnostic.
func (g *GeneratorUnit) attempt(
	ctx context.Context,
	n int,
	hint domain.BusinessHint,
	c Constraints,
	lastError string,
) (domain.GeneratedOutput, domain.AttemptDiagnostic, error) {
	ctx, span := g.tracer.Start(ctx, "GeneratorUnit.attempt",
		trace.WithAttributes(
			attribute.String("unit.id", g.name),
			attribute.Int("attempt", n),
			attribute.Bool("retry_feedback", lastError != ""),
		),
	)
	defer span.End()

	diag := domain.AttemptDiagnostic{Attempt: n}

	messages, err := BuildGeneratorMessages(hint, c, lastError)
	if err != nil {
		span.RecordError(err)
		return domain.GeneratedOutput{}, diag, fmt.Errorf("generator: %w", err)
	}

	completion, err := g.client.Chat(ctx, messages, map[string]any{
		"temperature": g.config.Temperature,
		"max_tokens":  g.config.MaxOutputTokens,
		"json_mode":   true,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		if ctx.Err() != nil {
			return domain.GeneratedOutput{}, diag, fmt.Errorf("generator: attempt %d: %w", n, err)
		}
		diag.Outcome = domain.AttemptRequestError
		diag.Error = err.Error()
		return domain.GeneratedOutput{}, diag, nil
	}

	usage := g.tracker.Consume(completion.Usage, llm.PromptText(messages), completion.Content)
	diag.PromptTokens = usage.Input
	diag.CompletionTokens = usage.Output
	diag.TotalTokens = usage.Total
	diag.FinishReason = completion.FinishReason
	diag.Preview = truncateRunes(completion.Content, previewRunes)
	span.SetAttributes(attribute.Int("tokens.total", usage.Total))

	if strings.TrimSpace(completion.Content) == "" {
		diag.Outcome = domain.AttemptEmptyOutput
		diag.Error = "the model returned an empty response"
		if completion.FinishReason != "" {
			diag.Error += " (finish reason: " + completion.FinishReason + ")"
		}
		return domain.GeneratedOutput{}, diag, nil
	}

	out, err := NormalizeGeneratorOutput(completion.Content, hint, c)
	if err != nil {
		diag.Outcome = domain.AttemptInvalidJSON
		diag.Error = "the response was not a single valid JSON object: " + err.Error()
		return domain.GeneratedOutput{}, diag, nil
	}
	diag.Parsed = true

	if err := ValidateGeneratorOutputQuality(out, c); err != nil {
		diag.Outcome = domain.AttemptQualityGate
		var qe *QualityGateError
		if errors.As(err, &qe) {
			diag.Error = qe.Reason
		} else {
			diag.Error = err.Error()
		}
		return domain.GeneratedOutput{}, diag, nil
	}

	diag.Outcome = domain.AttemptOK
	span.SetStatus(codes.Ok, "")
	return out, diag, nil
}

// Validate checks if the unit is properly configured and ready for execution.
func (g *GeneratorUnit) Validate() error {
	if g.client == nil {
		return fmt.Errorf("unit %s: LLM client is not configured", g.name)
	}
	if g.tracker == nil {
		return fmt.Errorf("unit %s: token tracker is not configured", g.name)
	}
	if err := validate.Struct(g.config); err != nil {
		return fmt.Errorf("unit %s: configuration validation failed: %w", g.name, err)
	}
	if g.client.GetModel() == "" {
		return fmt.Errorf("unit %s: LLM client model is not configured", g.name)
	}
	return nil
}
