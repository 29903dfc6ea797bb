package ports

import (
	"context"
	"time"

	"github.com/ahrav/go-qalab/internal/domain"
)

// Chat message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one entry of a chat-style conversation sent to a model.
type ChatMessage struct {
	Role    string
	Content string
}

// Usage is the token accounting a provider reports for one call. Zero means
// the provider did not report the field.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Completion is a single model response.
type Completion struct {
	Content      string
	FinishReason string
	Model        string
	Usage        Usage
}

// LLMClient defines the interface for interacting with Large Language
// Model providers.
// Implementations should handle provider-specific details like authentication,
// request formatting, and response parsing.
type LLMClient interface {
	// Chat sends a chat completion request to the provider and returns the
	// first choice.
	//
	// The options map allows flexibility for different providers without
	// changing the interface. Common options include:
	//   - "temperature": float64 (0.0-1.0)
	//   - "max_tokens": int
	//   - "json_mode": bool (request a JSON object where supported)
	Chat(ctx context.Context, messages []ChatMessage, options map[string]any) (Completion, error)

	// EstimateTokens calculates the approximate token count for a given text.
	EstimateTokens(text string) (int, error)

	// GetModel returns the model identifier being used by this client.
	GetModel() string
}

// ClientResolver maps a model spec such as "openai/gpt-4o-mini" to a client.
type ClientResolver interface {
	Resolve(modelSpec string) (LLMClient, error)
}

// RunFilter narrows ListRuns. Zero fields match everything.
type RunFilter struct {
	Status domain.RunStatus
	Limit  int
}

// RunStore persists runs. Implementations must make MarkRunning and
// FinalizeRun conditional on the current status so that concurrent
// executors cannot both finalize a run.
type RunStore interface {
	// CreateRun inserts a new run. The run must be queued.
	CreateRun(ctx context.Context, run domain.Run) error

	// GetRun returns ErrRunNotFound when no run has the id.
	GetRun(ctx context.Context, id string) (domain.Run, error)

	// MarkRunning moves a queued run to running and stamps StartedAt. A run
	// already running is returned unchanged. Any other status yields
	// domain.ErrRunConflict.
	MarkRunning(ctx context.Context, id string, startedAt time.Time) (domain.Run, error)

	// FinalizeRun applies the single terminal write. It succeeds only while
	// the run is running and returns domain.ErrRunConflict otherwise.
	FinalizeRun(ctx context.Context, id string, outcome domain.RunOutcome) error

	// ListRuns returns runs oldest first.
	ListRuns(ctx context.Context, filter RunFilter) ([]domain.Run, error)
}

// MetricsCollector defines the interface for collecting operational metrics.
// Implementations should integrate with observability platforms like
// Prometheus or OpenTelemetry.
type MetricsCollector interface {
	// RecordLatency records the execution time of an operation.
	// The labels map provides additional context for the metric.
	RecordLatency(operation string, duration time.Duration, labels map[string]string)

	// RecordCounter increments a counter metric.
	RecordCounter(metric string, value float64, labels map[string]string)

	// RecordGauge sets the current value of a gauge metric.
	RecordGauge(metric string, value float64, labels map[string]string)

	// RecordHistogram records a value in a histogram.
	RecordHistogram(metric string, value float64, labels map[string]string)
}

// TokenBudget is the per-run token ledger shared by every stage of one run.
// Stages check it before starting a unit of work and charge every completed
// model call to it.
type TokenBudget interface {
	// Consume charges one call's usage, estimating from the prompt and
	// response text whatever the provider did not report, and returns the
	// usage actually charged.
	Consume(reported Usage, promptText, responseText string) domain.TokenUsage

	// Remaining returns max(0, budget-consumed).
	Remaining() int

	// IsExhausted reports whether consumed has reached the budget.
	IsExhausted() bool

	// Snapshot returns a copy of all counters.
	Snapshot() domain.BudgetSnapshot
}
