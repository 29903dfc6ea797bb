package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/ahrav/go-qalab/infrastructure/middleware"
	"github.com/ahrav/go-qalab/infrastructure/units"
	"github.com/ahrav/go-qalab/internal/domain"
	"github.com/ahrav/go-qalab/internal/ports"
)

const executorTracerName = "github.com/ahrav/go-qalab/internal/application"

// ExecutorConfig holds the stage settings shared by every run. Per-run
// constraints come from the run record itself.
type ExecutorConfig struct {
	// ResponderModel is the model spec the scenario executor answers
	// customers with. Empty means the run's generator model.
	ResponderModel string

	// Generator configures the generation retry loop.
	Generator units.GeneratorConfig

	// Responder configures the grounded assistant.
	Responder units.ResponderConfig

	// Judge configures the evaluation call.
	Judge units.JudgeConfig
}

// DefaultExecutorConfig returns the stage defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		Generator: units.DefaultGeneratorConfig(),
		Responder: units.DefaultResponderConfig(),
		Judge:     units.DefaultJudgeConfig(),
	}
}

// ExecutorOption customizes a RunExecutor.
type ExecutorOption func(*RunExecutor)

// WithClock replaces time.Now, mainly for deterministic report timestamps.
func WithClock(now func() time.Time) ExecutorOption {
	return func(e *RunExecutor) { e.now = now }
}

// WithTracerProvider sets the provider used for run and stage spans.
func WithTracerProvider(tp trace.TracerProvider) ExecutorOption {
	return func(e *RunExecutor) { e.tracerProvider = tp }
}

// RunExecutor drives a run from pickup to its single terminal write.
// Each run gets a fresh token tracker and pipeline, so one executor can
// serve many runs concurrently. Concurrent calls for the same run id are
// coalesced into one execution.
type RunExecutor struct {
	store    ports.RunStore
	resolver ports.ClientResolver
	metrics  ports.MetricsCollector
	config   ExecutorConfig
	logger   *slog.Logger

	now            func() time.Time
	tracerProvider trace.TracerProvider
	tracer         trace.Tracer
	observer       middleware.BudgetObserver

	inflight singleflight.Group
}

// NewRunExecutor creates an executor. metrics and logger may be nil.
func NewRunExecutor(
	store ports.RunStore,
	resolver ports.ClientResolver,
	metrics ports.MetricsCollector,
	config ExecutorConfig,
	logger *slog.Logger,
	opts ...ExecutorOption,
) (*RunExecutor, error) {
	if store == nil {
		return nil, fmt.Errorf("run executor: store is required")
	}
	if resolver == nil {
		return nil, fmt.Errorf("run executor: client resolver is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	e := &RunExecutor{
		store:          store,
		resolver:       resolver,
		metrics:        metrics,
		config:         config,
		logger:         logger,
		now:            time.Now,
		tracerProvider: otel.GetTracerProvider(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.tracer = e.tracerProvider.Tracer(executorTracerName)
	e.observer = middleware.NewOTelBudgetObserverWithProvider(metrics, e.tracerProvider)
	return e, nil
}

// ExecuteRun executes the run with the given id and returns it as
// finalized. Pipeline failures are not returned as errors: they end the run
// failed with an error report. An error is returned when the run cannot be
// loaded, is not queued or running (*domain.RunStateError, nothing is
// written), was claimed by another executor, or the terminal write fails.
//
// Concurrent calls for the same runID share one execution. Only the first
// caller's ctx is used; a caller that joins an execution already in flight
// cannot cancel it and gets no span of its own, it just waits for the result.
func (e *RunExecutor) ExecuteRun(ctx context.Context, runID string) (domain.Run, error) {
	v, err, shared := e.inflight.Do(runID, func() (any, error) {
		return e.execute(ctx, runID)
	})
	if shared {
		e.logger.Debug("joined in-flight execution", "run_id", runID)
	}
	if err != nil {
		return domain.Run{}, err
	}
	return v.(domain.Run), nil
}

func (e *RunExecutor) execute(ctx context.Context, runID string) (domain.Run, error) {
	ctx, span := e.tracer.Start(ctx, "run.execute", trace.WithAttributes(attribute.String("run.id", runID)))
	defer span.End()
	log := e.logger.With("run_id", runID)

	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return domain.Run{}, e.spanError(span, fmt.Errorf("run executor: load run: %w", err))
	}
	if !run.Status.CanExecute() {
		return domain.Run{}, e.spanError(span, &domain.RunStateError{RunID: run.ID, Status: run.Status})
	}

	start := e.now()
	if run.Status == domain.RunStatusQueued {
		run, err = e.store.MarkRunning(ctx, run.ID, start)
		if err != nil {
			return domain.Run{}, e.spanError(span, fmt.Errorf("run executor: mark running: %w", err))
		}
	}
	log.Info("run started", "preset", run.Config.Preset, "token_budget", run.Config.TokenBudget)

	tracker := middleware.NewTokenTracker(run.Config.TokenBudget)
	state, runErr := e.runPipeline(ctx, run, tracker)

	outcome := e.resolveOutcome(run, state, tracker.Snapshot(), runErr)
	if runErr != nil {
		log.Error("run failed", "error", runErr)
		span.RecordError(runErr)
	}

	// The terminal write happens even when ctx was cancelled mid-run.
	if err := e.store.FinalizeRun(context.WithoutCancel(ctx), run.ID, outcome); err != nil {
		return domain.Run{}, e.spanError(span, fmt.Errorf("run executor: finalize run: %w", err))
	}

	run.Status = outcome.Status
	run.Result = outcome.Result
	run.Report = outcome.Report
	finishedAt := outcome.FinishedAt
	run.FinishedAt = &finishedAt
	if run.StartedAt == nil {
		run.StartedAt = &start
	}

	elapsed := outcome.FinishedAt.Sub(start)
	e.recordRun(outcome, elapsed)
	span.SetAttributes(
		attribute.String("run.status", string(outcome.Status)),
		attribute.String("run.result", string(outcome.Result)),
	)
	if outcome.Status == domain.RunStatusFailed {
		span.SetStatus(codes.Error, "run failed")
	} else {
		span.SetStatus(codes.Ok, "")
	}
	log.Info("run finalized",
		"status", outcome.Status,
		"result", outcome.Result,
		"duration_ms", elapsed.Milliseconds())
	return run, nil
}

// runPipeline is the single failure boundary of a run: configuration
// errors, stage errors and panics all come back as err.
func (e *RunExecutor) runPipeline(ctx context.Context, run domain.Run, tracker *middleware.TokenTracker) (state domain.State, err error) {
	state = domain.With(domain.NewState(), domain.KeyRun, run)
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("run pipeline panicked", "run_id", run.ID, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("run executor: panic: %v", r)
		}
	}()

	if err := ValidateRunConfig(run.Config); err != nil {
		return state, err
	}

	pipeline, err := e.buildPipeline(run, tracker)
	if err != nil {
		return state, err
	}
	return pipeline.Execute(ctx, state)
}

// buildPipeline resolves the run's models and assembles
// generator → executor → judge, each behind a stage budget guard.
func (e *RunExecutor) buildPipeline(run domain.Run, tracker *middleware.TokenTracker) (*Pipeline, error) {
	responderModel := e.config.ResponderModel
	if responderModel == "" {
		responderModel = run.Config.GeneratorModel
	}

	generatorClient, err := e.resolver.Resolve(run.Config.GeneratorModel)
	if err != nil {
		return nil, fmt.Errorf("run executor: resolve generator model: %w", err)
	}
	responderClient, err := e.resolver.Resolve(responderModel)
	if err != nil {
		return nil, fmt.Errorf("run executor: resolve responder model: %w", err)
	}
	judgeClient, err := e.resolver.Resolve(run.Config.JudgeModel)
	if err != nil {
		return nil, fmt.Errorf("run executor: resolve judge model: %w", err)
	}

	generator, err := units.NewGeneratorUnit(units.GeneratorUnitName, generatorClient, tracker, e.config.Generator, e.logger)
	if err != nil {
		return nil, fmt.Errorf("run executor: %w", err)
	}
	executor, err := units.NewScenarioExecutorUnit(units.ExecutorUnitName, responderClient, tracker, e.config.Responder, e.logger)
	if err != nil {
		return nil, fmt.Errorf("run executor: %w", err)
	}
	judge, err := units.NewJudgeUnit(units.JudgeUnitName, judgeClient, tracker, e.config.Judge, e.logger)
	if err != nil {
		return nil, fmt.Errorf("run executor: %w", err)
	}

	return NewStagePipeline(run.ID,
		middleware.NewStageBudgetGuard(tracker, generator, e.observer),
		middleware.NewStageBudgetGuard(tracker, executor, e.observer),
		middleware.NewStageBudgetGuard(tracker, judge, e.observer),
	)
}

// resolveOutcome turns the pipeline result into the terminal write. A
// report that cannot be assembled or encoded fails the run.
func (e *RunExecutor) resolveOutcome(run domain.Run, state domain.State, budget domain.BudgetSnapshot, runErr error) domain.RunOutcome {
	now := e.now()
	if runErr == nil {
		report, err := BuildReport(state, run.Config, budget, now)
		if err == nil {
			data, err := json.Marshal(report)
			if err == nil {
				return domain.RunOutcome{
					Status:     FinalStatus(state, nil),
					Result:     FinalResult(state, nil),
					Report:     data,
					FinishedAt: now,
				}
			}
			runErr = fmt.Errorf("run executor: encode report: %w", err)
		} else {
			runErr = fmt.Errorf("run executor: build report: %w", err)
		}
	}

	data, err := json.Marshal(BuildErrorReport(runErr, now))
	if err != nil {
		// Diagnostics that cannot be encoded are dropped; the message is kept.
		data, _ = json.Marshal(BuildErrorReport(errors.New(runErr.Error()), now))
	}
	return domain.RunOutcome{
		Status:     domain.RunStatusFailed,
		Result:     domain.RunResultPending,
		Report:     data,
		FinishedAt: now,
	}
}

// FinalStatus resolves a run's terminal status: failed when the pipeline
// returned an error, budget_stopped when any stage recorded a budget stop,
// completed otherwise.
func FinalStatus(state domain.State, runErr error) domain.RunStatus {
	switch {
	case runErr != nil:
		return domain.RunStatusFailed
	case state.BudgetStopped():
		return domain.RunStatusBudgetStopped
	default:
		return domain.RunStatusCompleted
	}
}

// FinalResult derives the run result from the judge's findings. It stays
// pending when the run failed or the judge was skipped.
func FinalResult(state domain.State, runErr error) domain.RunResult {
	if runErr != nil {
		return domain.RunResultPending
	}
	judge, ok := domain.Get(state, domain.KeyJudge)
	if !ok || judge.Skipped() {
		return domain.RunResultPending
	}
	return domain.DeriveResult(judge.Findings)
}

func (e *RunExecutor) recordRun(outcome domain.RunOutcome, elapsed time.Duration) {
	if e.metrics == nil {
		return
	}
	e.metrics.RecordCounter(middleware.MetricRunsTotal, 1, map[string]string{
		"status": string(outcome.Status),
		"result": string(outcome.Result),
	})
	e.metrics.RecordLatency(middleware.MetricRunDuration, elapsed, map[string]string{
		"status": string(outcome.Status),
	})
}

func (e *RunExecutor) spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
