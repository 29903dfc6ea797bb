package units

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/go-qalab/infrastructure/llm"
	"github.com/ahrav/go-qalab/internal/domain"
	"github.com/ahrav/go-qalab/internal/ports"
)

var _ ports.Unit = (*JudgeUnit)(nil)

// Judge defaults.
const (
	DefaultJudgeMinOutputTokens = 400
	DefaultJudgeMaxOutputTokens = 2500
	DefaultJudgeTemperature     = 0.1
)

// JudgeConfig defines the configuration parameters for the JudgeUnit.
type JudgeConfig struct {
	// MinOutputTokens is the smallest response budget worth calling the
	// judge for.
	MinOutputTokens int `yaml:"min_output_tokens" json:"min_output_tokens" validate:"min=1"`

	// MaxOutputTokens caps max_tokens regardless of the remaining budget.
	MaxOutputTokens int `yaml:"max_output_tokens" json:"max_output_tokens" validate:"gtefield=MinOutputTokens"`

	Temperature float64 `yaml:"temperature" json:"temperature" validate:"min=0,max=2"`
}

// DefaultJudgeConfig returns the configuration used for every run.
func DefaultJudgeConfig() JudgeConfig {
	return JudgeConfig{
		MinOutputTokens: DefaultJudgeMinOutputTokens,
		MaxOutputTokens: DefaultJudgeMaxOutputTokens,
		Temperature:     DefaultJudgeTemperature,
	}
}

// JudgeUnit scores every executed case in a single model call and writes
// domain.KeyJudge. When judging is not possible or the response is
// unusable, it records a skipped result and marks the run budget-stopped
// instead of failing. Only request failures are returned as errors.
type JudgeUnit struct {
	name    string
	client  ports.LLMClient
	tracker ports.TokenBudget
	config  JudgeConfig
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewJudgeUnit creates a judge that charges its call to tracker.
func NewJudgeUnit(
	name string,
	client ports.LLMClient,
	tracker ports.TokenBudget,
	config JudgeConfig,
	logger *slog.Logger,
) (*JudgeUnit, error) {
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
	return &JudgeUnit{
		name:    name,
		client:  client,
		tracker: tracker,
		config:  config,
		logger:  logger,
		tracer:  otel.Tracer("judge-unit"),
	}, nil
}

// Name returns the unique identifier for this unit instance.
func (j *JudgeUnit) Name() string { return j.name }

// Execute evaluates the executed cases. Pre-call skips are checked in
// order: no cases, exhausted budget, then too little budget left for a
// useful response once the prompt is paid for.
func (j *JudgeUnit) Execute(ctx context.Context, state domain.State) (domain.State, error) {
	ctx, span := j.tracer.Start(ctx, "JudgeUnit.Execute",
		trace.WithAttributes(attribute.String("unit.id", j.name)),
	)
	defer span.End()

	log := j.logger.With("stage", j.name)
	if run, ok := domain.Get(state, domain.KeyRun); ok {
		log = log.With("run_id", run.ID)
	}

	skip := func(reason domain.SkipReason, attrs ...any) (domain.State, error) {
		span.SetAttributes(attribute.String("judge.skipped_reason", string(reason)))
		log.Warn("judge skipped", append([]any{"reason", reason}, attrs...)...)
		state = domain.With(state, domain.KeyJudge, domain.SkippedJudgeResult(reason))
		return state.MarkBudgetStopped(j.name), nil
	}

	cases, _ := domain.Get(state, domain.KeyExecutedCases)
	if len(cases) == 0 {
		return skip(domain.SkipNoCasesExecuted)
	}
	gen, ok := domain.Get(state, domain.KeyGeneration)
	if !ok {
		return state, domain.MissingState(domain.KeyGeneration, j.name)
	}

	if j.tracker.IsExhausted() {
		return skip(domain.SkipBudgetExhaustedBeforeJudge)
	}

	messages, err := BuildJudgeMessages(gen.Output, cases)
	if err != nil {
		return state, err
	}
	prompt := llm.PromptText(messages)
	estimate, err := j.client.EstimateTokens(prompt)
	if err != nil {
		estimate = llm.EstimateTokens(prompt)
	}

	remaining := j.tracker.Remaining()
	available := remaining - estimate
	if available < j.config.MinOutputTokens {
		return skip(domain.SkipInsufficientBudgetForJudge,
			"remaining_tokens", remaining,
			"prompt_estimate", estimate)
	}
	maxTokens := min(available, j.config.MaxOutputTokens)
	span.SetAttributes(
		attribute.Int("judge.prompt_estimate", estimate),
		attribute.Int("judge.max_tokens", maxTokens),
	)

	completion, err := j.client.Chat(ctx, messages, map[string]any{
		"temperature": j.config.Temperature,
		"max_tokens":  maxTokens,
		"json_mode":   true,
	})
	if err != nil {
		span.RecordError(err)
		return state, fmt.Errorf("judge: %w", err)
	}
	usage := j.tracker.Consume(completion.Usage, prompt, completion.Content)

	if strings.TrimSpace(completion.Content) == "" {
		return skip(domain.SkipEmptyJudgeResponse, "finish_reason", completion.FinishReason)
	}
	result, err := NormalizeJudgeOutput(completion.Content)
	if err != nil {
		return skip(domain.SkipInvalidJudgeJSON, "error", err.Error())
	}

	span.SetAttributes(
		attribute.Int("judge.weighted_total", result.ScoreBreakdown.WeightedTotal),
		attribute.Int("judge.findings", len(result.Findings)),
	)
	log.Info("judge finished",
		"weighted_total", result.ScoreBreakdown.WeightedTotal,
		"findings", len(result.Findings),
		"total_tokens", usage.Total)
	return domain.With(state, domain.KeyJudge, result), nil
}

// Validate checks if the unit is properly configured and ready for execution.
func (j *JudgeUnit) Validate() error {
	if j.client == nil {
		return fmt.Errorf("unit %s: LLM client is not configured", j.name)
	}
	if j.tracker == nil {
		return fmt.Errorf("unit %s: token tracker is not configured", j.name)
	}
	if err := validate.Struct(j.config); err != nil {
		return fmt.Errorf("unit %s: configuration validation failed: %w", j.name, err)
	}
	if j.client.GetModel() == "" {
		return fmt.Errorf("unit %s: LLM client model is not configured", j.name)
	}
	return nil
}
