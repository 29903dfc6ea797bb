package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ahrav/go-qalab/internal/domain"
	"github.com/ahrav/go-qalab/internal/ports"
)

// Worker defaults.
const (
	DefaultWorkerConcurrency  = 2
	DefaultWorkerPollInterval = 5 * time.Second
)

// RunRunner executes a single run by id. *RunExecutor implements it.
type RunRunner interface {
	ExecuteRun(ctx context.Context, runID string) (domain.Run, error)
}

// WorkerConfig controls queue polling.
type WorkerConfig struct {
	// Concurrency caps the number of runs executing at once.
	Concurrency int `validate:"min=1,max=64"`

	// PollInterval is the wait between queue scans.
	PollInterval time.Duration `validate:"gt=0"`
}

// DefaultWorkerConfig returns the worker defaults.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Concurrency:  DefaultWorkerConcurrency,
		PollInterval: DefaultWorkerPollInterval,
	}
}

// Worker picks queued runs from the store and executes them with bounded
// concurrency. Runs share nothing but the store, so a failure in one never
// affects another.
type Worker struct {
	runner RunRunner
	store  ports.RunStore
	config WorkerConfig
	logger *slog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewWorker creates a worker. logger may be nil.
func NewWorker(runner RunRunner, store ports.RunStore, config WorkerConfig, logger *slog.Logger) (*Worker, error) {
	if runner == nil {
		return nil, fmt.Errorf("worker: runner is required")
	}
	if store == nil {
		return nil, fmt.Errorf("worker: store is required")
	}
	v, err := RunConfigValidator()
	if err != nil {
		return nil, err
	}
	if err := v.Struct(config); err != nil {
		return nil, fmt.Errorf("worker: configuration validation failed: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		runner:   runner,
		store:    store,
		config:   config,
		logger:   logger,
		inflight: make(map[string]struct{}),
	}, nil
}

// Run polls the queue until ctx is cancelled. Runs already executing when
// ctx ends are allowed to reach their terminal write before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	var g errgroup.Group
	g.SetLimit(w.config.Concurrency)
	execCtx := context.WithoutCancel(ctx)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	w.logger.Info("worker started", "concurrency", w.config.Concurrency, "poll_interval", w.config.PollInterval)
	for {
		if err := w.poll(ctx, execCtx, &g); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error("queue poll failed", "error", err)
		}

		select {
		case <-ctx.Done():
			w.logger.Info("worker stopping, waiting for in-flight runs")
			_ = g.Wait()
			return nil
		case <-ticker.C:
		}
	}
}

// poll starts queued runs until the concurrency limit is reached.
func (w *Worker) poll(ctx, execCtx context.Context, g *errgroup.Group) error {
	runs, err := w.store.ListRuns(ctx, ports.RunFilter{Status: domain.RunStatusQueued, Limit: w.config.Concurrency})
	if err != nil {
		return fmt.Errorf("worker: list queued runs: %w", err)
	}

	for _, run := range runs {
		id := run.ID
		if !w.claim(id) {
			continue
		}
		started := g.TryGo(func() error {
			defer w.release(id)
			w.execute(execCtx, id)
			return nil
		})
		if !started {
			w.release(id)
			break
		}
	}
	return nil
}

// Drain executes queued runs until the queue holds none it has not already
// tried, and returns how many runs it executed.
func (w *Worker) Drain(ctx context.Context) (int, error) {
	executed := 0
	tried := make(map[string]struct{})
	for {
		runs, err := w.store.ListRuns(ctx, ports.RunFilter{Status: domain.RunStatusQueued, Limit: 0})
		if err != nil {
			return executed, fmt.Errorf("worker: list queued runs: %w", err)
		}

		var g errgroup.Group
		g.SetLimit(w.config.Concurrency)
		batch := 0
		for _, run := range runs {
			id := run.ID
			if _, seen := tried[id]; seen {
				continue
			}
			tried[id] = struct{}{}
			batch++
			g.Go(func() error {
				w.execute(ctx, id)
				return nil
			})
		}
		_ = g.Wait()
		if batch == 0 {
			return executed, nil
		}
		executed += batch

		if err := ctx.Err(); err != nil {
			return executed, err
		}
	}
}

func (w *Worker) execute(ctx context.Context, id string) {
	run, err := w.runner.ExecuteRun(ctx, id)
	switch {
	case errors.Is(err, domain.ErrRunConflict), errors.Is(err, domain.ErrRunNotExecutable):
		w.logger.Debug("run taken by another executor", "run_id", id)
	case err != nil:
		w.logger.Error("run execution failed", "run_id", id, "error", err)
	default:
		w.logger.Info("run executed", "run_id", id, "status", run.Status, "result", run.Result)
	}
}

func (w *Worker) claim(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, busy := w.inflight[id]; busy {
		return false
	}
	w.inflight[id] = struct{}{}
	return true
}

func (w *Worker) release(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.inflight, id)
}
