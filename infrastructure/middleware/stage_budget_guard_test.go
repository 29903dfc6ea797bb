package middleware

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/ahrav/go-qalab/internal/domain"
	"github.com/ahrav/go-qalab/internal/ports"
)

// spendingUnit charges a fixed usage to the tracker and optionally fails.
type spendingUnit struct {
	name    string
	tracker ports.TokenBudget
	spend   int
	err     error
}

func (u *spendingUnit) Name() string { return u.name }

func (u *spendingUnit) Execute(_ context.Context, state domain.State) (domain.State, error) {
	if u.spend > 0 {
		u.tracker.Consume(ports.Usage{PromptTokens: u.spend, TotalTokens: u.spend}, "", "")
	}
	if u.err != nil {
		return state, u.err
	}
	return domain.With(state, domain.KeyBudgetStoppedBy, "untouched"), nil
}

func (u *spendingUnit) Validate() error { return nil }

type observation struct {
	stage         string
	before, after domain.BudgetSnapshot
	err           error
}

type recordingObserver struct {
	pre  []string
	post []observation
}

type ctxMarker struct{}

func (o *recordingObserver) PreCheck(ctx context.Context, stage string, _ domain.BudgetSnapshot) context.Context {
	o.pre = append(o.pre, stage)
	return context.WithValue(ctx, ctxMarker{}, stage)
}

func (o *recordingObserver) PostCheck(ctx context.Context, stage string, before, after domain.BudgetSnapshot, _ time.Duration, err error) {
	if ctx.Value(ctxMarker{}) != stage {
		panic("PostCheck did not receive the PreCheck context")
	}
	o.post = append(o.post, observation{stage, before, after, err})
}

func TestStageBudgetGuard_ObservesConsumption(t *testing.T) {
	tracker := NewTokenTracker(100)
	obs := &recordingObserver{}
	guard := NewStageBudgetGuard(tracker, &spendingUnit{name: "generator", tracker: tracker, spend: 40}, obs)

	state, err := guard.Execute(context.Background(), domain.NewState())
	require.NoError(t, err)

	by, ok := domain.Get(state, domain.KeyBudgetStoppedBy)
	require.True(t, ok, "the wrapped unit's state is returned")
	assert.Equal(t, "untouched", by)

	assert.Equal(t, "generator", guard.Name())
	assert.Equal(t, []string{"generator"}, obs.pre)
	require.Len(t, obs.post, 1)
	assert.Equal(t, 0, obs.post[0].before.Consumed)
	assert.Equal(t, 40, obs.post[0].after.Consumed)
}

func TestStageBudgetGuard_NeverAbortsOnExhaustion(t *testing.T) {
	tracker := NewTokenTracker(10)
	tracker.Consume(ports.Usage{TotalTokens: 50, PromptTokens: 50}, "", "")

	guard := NewStageBudgetGuard(tracker, &spendingUnit{name: "judge", tracker: tracker}, nil)
	_, err := guard.Execute(context.Background(), domain.NewState())
	assert.NoError(t, err, "the stage decides what to do with an exhausted budget")
}

func TestStageBudgetGuard_PropagatesErrors(t *testing.T) {
	tracker := NewTokenTracker(100)
	boom := errors.New("boom")
	obs := &recordingObserver{}
	guard := NewStageBudgetGuard(tracker, &spendingUnit{name: "executor", tracker: tracker, spend: 5, err: boom}, obs)

	_, err := guard.Execute(context.Background(), domain.NewState())
	require.ErrorIs(t, err, boom)
	require.Len(t, obs.post, 1)
	assert.ErrorIs(t, obs.post[0].err, boom)
	assert.Equal(t, 5, obs.post[0].after.Consumed)
}

func TestStageBudgetGuard_Validate(t *testing.T) {
	guard := &StageBudgetGuard{next: &spendingUnit{name: "x"}}
	assert.Error(t, guard.Validate())

	assert.Panics(t, func() { NewStageBudgetGuard(NewTokenTracker(1), nil, nil) })
}

func TestOTelBudgetObserver(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	collector := &recordingCollector{}
	obs := NewOTelBudgetObserverWithProvider(collector, tp)

	tracker := NewTokenTracker(100)
	tracker.Consume(ports.Usage{TotalTokens: 85, PromptTokens: 85}, "", "")
	guard := NewStageBudgetGuard(tracker, &spendingUnit{name: "executor", tracker: tracker, spend: 30}, obs)

	_, err := guard.Execute(context.Background(), domain.NewState())
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "stage.executor", span.Name())
	assert.Equal(t, codes.Ok, span.Status().Code)

	var events []string
	for _, ev := range span.Events() {
		events = append(events, ev.Name)
	}
	assert.Equal(t, []string{"budget.threshold.warning", "budget.exhausted"}, events)

	assert.InDelta(t, 30, collector.counter(MetricStageTokens), 0)
	assert.InDelta(t, 1, collector.counter(MetricBudgetExhausted), 0)
	assert.InDelta(t, 0, collector.gauge(MetricBudgetRemaining), 0)
	assert.Equal(t, 1, collector.latencies)
}

func TestOTelBudgetObserver_ErrorStatus(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	obs := NewOTelBudgetObserverWithProvider(nil, tp)

	tracker := NewTokenTracker(100)
	guard := NewStageBudgetGuard(tracker, &spendingUnit{name: "judge", tracker: tracker, err: errors.New("judge: request failed")}, obs)
	_, err := guard.Execute(context.Background(), domain.NewState())
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}

type recordingCollector struct {
	counters  map[string]float64
	gauges    map[string]float64
	latencies int
}

func (c *recordingCollector) RecordLatency(string, time.Duration, map[string]string) { c.latencies++ }

func (c *recordingCollector) RecordCounter(metric string, value float64, _ map[string]string) {
	if c.counters == nil {
		c.counters = map[string]float64{}
	}
	c.counters[metric] += value
}

func (c *recordingCollector) RecordGauge(metric string, value float64, _ map[string]string) {
	if c.gauges == nil {
		c.gauges = map[string]float64{}
	}
	c.gauges[metric] = value
}

func (c *recordingCollector) RecordHistogram(string, float64, map[string]string) {}

func (c *recordingCollector) counter(name string) float64 { return c.counters[name] }
func (c *recordingCollector) gauge(name string) float64   { return c.gauges[name] }
