package llm

import (
	"context"
	"errors"
	"maps"
	"strings"
	"time"

	"github.com/ahrav/go-qalab/internal/ports"
)

// Metric names emitted by MetricsMiddleware.
const (
	MetricLLMLatency  = "llm_latency_seconds"
	MetricLLMRequests = "llm_requests_total"
	MetricLLMTokens   = "llm_tokens_total"
)

// MetricsMiddleware records latency, outcome and reported token usage per
// call. Token counters see only what the provider reported; estimates are
// the run's token tracker's business.
func MetricsMiddleware(collector ports.MetricsCollector) Middleware {
	return func(next CoreLLM) CoreLLM {
		if collector == nil {
			return next
		}
		return &meteredLLM{CoreLLM: next, collector: collector}
	}
}

type meteredLLM struct {
	CoreLLM
	collector ports.MetricsCollector
}

func (m *meteredLLM) DoRequest(ctx context.Context, messages []ports.ChatMessage, opts map[string]any) (ports.Completion, error) {
	start := time.Now()
	completion, err := m.CoreLLM.DoRequest(ctx, messages, opts)

	model := m.GetModel()
	labels := map[string]string{
		"provider": providerFromModel(model),
		"model":    model,
		"status":   requestStatus(ctx, err),
	}
	m.collector.RecordHistogram(MetricLLMLatency, time.Since(start).Seconds(), labels)
	m.collector.RecordCounter(MetricLLMRequests, 1, labels)
	if err != nil {
		return completion, err
	}

	m.recordTokens(labels, "input", completion.Usage.PromptTokens)
	m.recordTokens(labels, "output", completion.Usage.CompletionTokens)
	return completion, nil
}

func (m *meteredLLM) recordTokens(base map[string]string, tokenType string, n int) {
	labels := maps.Clone(base)
	labels["token_type"] = tokenType
	m.collector.RecordCounter(MetricLLMTokens, float64(n), labels)
}

func requestStatus(ctx context.Context, err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, ports.ErrRateLimited):
		return "rate_limited"
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}

func providerFromModel(model string) string {
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "gpt"), strings.HasPrefix(m, "o1"), strings.HasPrefix(m, "o3"), strings.HasPrefix(m, "o4"):
		return "openai"
	case strings.Contains(m, "claude"):
		return "anthropic"
	case strings.Contains(m, "gemini"):
		return "google"
	default:
		return "unknown"
	}
}
