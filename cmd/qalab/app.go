package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/ahrav/go-qalab/infrastructure/llm"
	"github.com/ahrav/go-qalab/infrastructure/middleware"
	"github.com/ahrav/go-qalab/infrastructure/store/memory"
	"github.com/ahrav/go-qalab/infrastructure/store/postgres"
	"github.com/ahrav/go-qalab/infrastructure/store/sqlite"
	"github.com/ahrav/go-qalab/internal/application"
	"github.com/ahrav/go-qalab/internal/config"
	"github.com/ahrav/go-qalab/internal/domain"
	"github.com/ahrav/go-qalab/internal/ports"
	"github.com/ahrav/go-qalab/internal/telemetry"
)

// app holds the wired dependencies shared by every command.
type app struct {
	cfg            config.Config
	logger         *slog.Logger
	store          ports.RunStore
	resolver       ports.ClientResolver
	presets        application.PresetCatalog
	metrics        *middleware.PrometheusMetrics
	gatherer       prometheus.Gatherer
	tracerProvider trace.TracerProvider
	now            func() time.Time
	closers        []func(context.Context) error
}

// appFactory builds the app for one command invocation. Logs go to logOut.
type appFactory func(ctx context.Context, envFile string, logOut io.Writer) (*app, error)

func newApp(ctx context.Context, envFile string, logOut io.Writer) (*app, error) {
	var files []string
	if envFile != "" {
		files = append(files, envFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	a := &app{cfg: cfg, logger: logger, now: time.Now}

	tp, shutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, err
	}
	a.tracerProvider = tp
	a.closers = append(a.closers, shutdown)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = middleware.NewPrometheusMetrics(reg)
	a.gatherer = reg

	if a.presets, err = application.LoadPresets(cfg.PresetsFile); err != nil {
		_ = a.close(ctx)
		return nil, err
	}

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		_ = a.close(ctx)
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, closeStore)

	if a.resolver, err = newResolver(cfg, a.metrics, tp); err != nil {
		_ = a.close(ctx)
		return nil, err
	}
	return a, nil
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (ports.RunStore, func(context.Context) error, error) {
	switch cfg.Store {
	case config.StorePostgres:
		s, err := postgres.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, func(context.Context) error { s.Close(); return nil }, nil
	case config.StoreSQLite:
		s, err := sqlite.New(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, func(context.Context) error { return s.Close() }, nil
	default:
		return memory.New(), func(context.Context) error { return nil }, nil
	}
}

// newResolver builds the provider registry. Every client is traced and
// metered; each provider gets its own circuit breaker so one failing
// vendor does not trip the others.
func newResolver(cfg config.Config, metrics *middleware.PrometheusMetrics, tp trace.TracerProvider) (*llm.Registry, error) {
	providers := maps.Clone(llm.DefaultProviders)
	if cfg.LLMBreakerFailures > 0 {
		for name, p := range providers {
			p.Middleware = append(p.Middleware, llm.CircuitBreakerMiddlewareWithMetrics(
				cfg.LLMBreakerFailures, cfg.LLMBreakerCooldown, breakerMetrics{provider: name, metrics: metrics},
			))
			providers[name] = p
		}
	}

	chain := []llm.Middleware{
		llm.TracingMiddlewareWithProvider(cfg.ServiceName, tp),
		llm.MetricsMiddleware(metrics),
	}
	if cfg.LLMRateLimit > 0 {
		chain = append(chain, llm.RateLimitMiddleware(rate.Limit(cfg.LLMRateLimit), cfg.LLMBurst))
	}
	if cfg.LLMTimeout > 0 {
		chain = append(chain, llm.TimeoutMiddleware(cfg.LLMTimeout))
	}

	return llm.NewRegistry(llm.RegistryConfig{
		Providers:         providers,
		DefaultProvider:   cfg.DefaultProvider,
		DefaultMiddleware: chain,
	})
}

// breakerMetrics reports circuit breaker activity through the metrics
// collector. The provider is part of the metric name because the generic
// vectors carry no provider label.
type breakerMetrics struct {
	provider string
	metrics  ports.MetricsCollector
}

func (b breakerMetrics) name(event string) string {
	return "llm_breaker_" + event + "_" + b.provider
}

func (b breakerMetrics) RecordState(state llm.CircuitBreakerState) {
	b.metrics.RecordGauge(b.name("state"), float64(state), nil)
}

func (b breakerMetrics) RecordTrip() { b.metrics.RecordCounter(b.name("trips"), 1, nil) }

func (b breakerMetrics) RecordRejected() { b.metrics.RecordCounter(b.name("rejected"), 1, nil) }

func (b breakerMetrics) RecordSuccess() {}

func (b breakerMetrics) RecordFailure() { b.metrics.RecordCounter(b.name("failures"), 1, nil) }

func (a *app) executor() (*application.RunExecutor, error) {
	execCfg := application.DefaultExecutorConfig()
	execCfg.ResponderModel = a.cfg.ResponderModel
	return application.NewRunExecutor(
		a.store, a.resolver, a.metrics, execCfg, a.logger,
		application.WithTracerProvider(a.tracerProvider),
		application.WithClock(a.now),
	)
}

func (a *app) worker(exec application.RunRunner) (*application.Worker, error) {
	return application.NewWorker(exec, a.store, application.WorkerConfig{
		Concurrency:  a.cfg.WorkerConcurrency,
		PollInterval: a.cfg.WorkerPollInterval,
	}, a.logger)
}

// enqueueRequest selects a preset and optional overrides for a new run.
type enqueueRequest struct {
	Preset         string
	GeneratorModel string
	JudgeModel     string
	TokenBudget    int
}

// enqueue creates a queued run. Empty models fall back to the configured
// defaults; a positive TokenBudget replaces the preset's budget.
func (a *app) enqueue(ctx context.Context, req enqueueRequest) (domain.Run, error) {
	genModel := req.GeneratorModel
	if genModel == "" {
		genModel = a.cfg.GeneratorModel
	}
	judgeModel := req.JudgeModel
	if judgeModel == "" {
		judgeModel = a.cfg.JudgeModel
	}

	runCfg, err := a.presets.RunConfig(req.Preset, genModel, judgeModel)
	if err != nil {
		return domain.Run{}, err
	}
	if req.TokenBudget > 0 {
		runCfg.TokenBudget = req.TokenBudget
	}

	run := domain.Run{
		ID:        uuid.NewString(),
		Config:    runCfg,
		Status:    domain.RunStatusQueued,
		Result:    domain.RunResultPending,
		CreatedAt: a.now().UTC(),
	}
	if err := a.store.CreateRun(ctx, run); err != nil {
		return domain.Run{}, fmt.Errorf("enqueue run: %w", err)
	}
	a.logger.Info("run enqueued", "run_id", run.ID, "preset", runCfg.Preset, "token_budget", runCfg.TokenBudget)
	return run, nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
