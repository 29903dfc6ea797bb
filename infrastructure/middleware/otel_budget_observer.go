package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/go-qalab/internal/domain"
	"github.com/ahrav/go-qalab/internal/ports"
)

// Metric names recorded by OTelBudgetObserver.
const (
	MetricStageDuration   = "stage_duration_seconds"
	MetricStageTokens     = "stage_tokens_total"
	MetricBudgetRemaining = "budget_remaining_tokens"
	MetricBudgetExhausted = "budget_exhausted_total"
)

const observerTracerName = "github.com/ahrav/go-qalab/infrastructure/middleware"

var _ BudgetObserver = (*OTelBudgetObserver)(nil)

// OTelBudgetObserver records one span per stage with the ledger before and
// after it ran, and mirrors the stage's consumption into the metrics
// collector. The span travels in the context, so a single observer can
// serve concurrent runs.
type OTelBudgetObserver struct {
	metrics ports.MetricsCollector
	tracer  trace.Tracer
}

// NewOTelBudgetObserver creates an observer using the global tracer
// provider. metrics may be nil.
func NewOTelBudgetObserver(metrics ports.MetricsCollector) *OTelBudgetObserver {
	return NewOTelBudgetObserverWithProvider(metrics, otel.GetTracerProvider())
}

// NewOTelBudgetObserverWithProvider creates an observer with an explicit
// tracer provider.
func NewOTelBudgetObserverWithProvider(metrics ports.MetricsCollector, tp trace.TracerProvider) *OTelBudgetObserver {
	return &OTelBudgetObserver{
		metrics: metrics,
		tracer:  tp.Tracer(observerTracerName),
	}
}

// PreCheck starts the stage span and flags thresholds already crossed.
func (o *OTelBudgetObserver) PreCheck(ctx context.Context, stage string, before domain.BudgetSnapshot) context.Context {
	ctx, span := o.tracer.Start(ctx, "stage."+stage, trace.WithAttributes(
		attribute.String("stage", stage),
		attribute.Int("budget.limit", before.Budget),
		attribute.Int("budget.consumed_before", before.Consumed),
	))
	if ev, ok := thresholdEvent(before); ok {
		span.AddEvent(ev, trace.WithAttributes(attribute.Float64("usage_percentage", usagePercentage(before))))
	}
	return ctx
}

// PostCheck ends the stage span and records the stage's consumption.
func (o *OTelBudgetObserver) PostCheck(
	ctx context.Context,
	stage string,
	before, after domain.BudgetSnapshot,
	elapsed time.Duration,
	err error,
) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	spent := after.Consumed - before.Consumed
	span.SetAttributes(
		attribute.Int("budget.consumed_after", after.Consumed),
		attribute.Int("budget.stage_tokens", spent),
		attribute.Int("budget.remaining", after.Remaining()),
		attribute.Bool("budget.exhausted", after.Exhausted()),
	)

	status := "success"
	switch {
	case err != nil:
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case after.Exhausted() && !before.Exhausted():
		span.AddEvent("budget.exhausted")
		span.SetStatus(codes.Ok, "")
	default:
		span.SetStatus(codes.Ok, "")
	}

	if o.metrics == nil {
		return
	}
	labels := map[string]string{"stage": stage, "status": status}
	o.metrics.RecordLatency(MetricStageDuration, elapsed, labels)
	o.metrics.RecordCounter(MetricStageTokens, float64(spent), map[string]string{"stage": stage})
	o.metrics.RecordGauge(MetricBudgetRemaining, float64(after.Remaining()), map[string]string{"stage": stage})
	if after.Exhausted() && !before.Exhausted() {
		o.metrics.RecordCounter(MetricBudgetExhausted, 1, map[string]string{"stage": stage})
	}
}

func usagePercentage(s domain.BudgetSnapshot) float64 {
	if s.Budget <= 0 {
		return 100
	}
	return float64(s.Consumed) / float64(s.Budget) * 100
}

func thresholdEvent(s domain.BudgetSnapshot) (string, bool) {
	const warning, critical = 80.0, 90.0
	switch p := usagePercentage(s); {
	case p >= critical:
		return "budget.threshold.critical", true
	case p >= warning:
		return "budget.threshold.warning", true
	default:
		return "", false
	}
}
