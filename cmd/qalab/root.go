package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ahrav/go-qalab/internal/application"
	"github.com/ahrav/go-qalab/internal/domain"
	"github.com/ahrav/go-qalab/internal/ports"
)

// commandEnv carries the state shared by all subcommands.
type commandEnv struct {
	factory appFactory
	envFile string
}

// withApp builds the app, runs fn and releases the app's resources even
// when the command context was cancelled.
func (e *commandEnv) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := e.factory(ctx, e.envFile, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	runErr := fn(ctx, a)
	if err := a.close(context.WithoutCancel(ctx)); err != nil {
		a.logger.Warn("shutdown incomplete", "error", err)
	}
	return runErr
}

func newRootCmd(factory appFactory) *cobra.Command {
	env := &commandEnv{factory: factory}

	root := &cobra.Command{
		Use:   "qalab",
		Short: "QA Lab run executor",
		Long: `qalab synthesizes a fake business and knowledge fixture, simulates
customer conversations against a grounded assistant, and judges the
transcripts under a hard token budget.

Runs are enqueued with 'qalab enqueue', executed with 'qalab run' or a
long-lived 'qalab worker', and inspected with 'qalab show'.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&env.envFile, "env-file", "", "Path to a .env file (default: ./.env when present)")

	root.AddCommand(
		newEnqueueCmd(env),
		newRunCmd(env),
		newShowCmd(env),
		newListCmd(env),
		newWorkerCmd(env),
		newPresetsCmd(env),
	)
	return root
}

func addEnqueueFlags(cmd *cobra.Command, req *enqueueRequest) {
	cmd.Flags().StringVar(&req.Preset, "preset", application.PresetQuick, "Preset that sets scenario, turn, fixture and budget limits")
	cmd.Flags().StringVar(&req.GeneratorModel, "generator-model", "", "Generator model spec (default: QALAB_GENERATOR_MODEL)")
	cmd.Flags().StringVar(&req.JudgeModel, "judge-model", "", "Judge model spec (default: QALAB_JUDGE_MODEL)")
	cmd.Flags().IntVar(&req.TokenBudget, "token-budget", 0, "Override the preset's token budget")
}

func newEnqueueCmd(env *commandEnv) *cobra.Command {
	var req enqueueRequest
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue a new run and print its id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return env.withApp(cmd, func(ctx context.Context, a *app) error {
				run, err := a.enqueue(ctx, req)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), run.ID)
				return err
			})
		},
	}
	addEnqueueFlags(cmd, &req)
	return cmd
}

func newRunCmd(env *commandEnv) *cobra.Command {
	var (
		req        enqueueRequest
		withReport bool
	)
	cmd := &cobra.Command{
		Use:   "run [run-id]",
		Short: "Execute a queued run, or enqueue and execute a new one",
		Long: `Execute the run with the given id. Without an id a new run is queued
from the preset flags first. The finalized run is printed as JSON.

A run that ends failed exits non-zero; budget_stopped runs still exit zero
because their partial report is a valid result.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.withApp(cmd, func(ctx context.Context, a *app) error {
				var id string
				if len(args) == 1 {
					id = args[0]
				} else {
					run, err := a.enqueue(ctx, req)
					if err != nil {
						return err
					}
					id = run.ID
				}

				exec, err := a.executor()
				if err != nil {
					return err
				}
				run, err := exec.ExecuteRun(ctx, id)
				if err != nil {
					return err
				}
				if !withReport {
					run.Report = nil
				}
				if err := writeJSON(cmd.OutOrStdout(), run); err != nil {
					return err
				}
				if run.Status == domain.RunStatusFailed {
					return fmt.Errorf("run %s failed", run.ID)
				}
				return nil
			})
		},
	}
	addEnqueueFlags(cmd, &req)
	cmd.Flags().BoolVar(&withReport, "report", false, "Include the report in the output")
	return cmd
}

func newShowCmd(env *commandEnv) *cobra.Command {
	var reportOnly bool
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print a run and its report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.withApp(cmd, func(ctx context.Context, a *app) error {
				run, err := a.store.GetRun(ctx, args[0])
				if err != nil {
					if errors.Is(err, ports.ErrRunNotFound) {
						return fmt.Errorf("run %s not found", args[0])
					}
					return err
				}
				if !reportOnly {
					return writeJSON(cmd.OutOrStdout(), run)
				}
				if len(run.Report) == 0 {
					return fmt.Errorf("run %s has no report yet (status %s)", run.ID, run.Status)
				}
				return writeJSON(cmd.OutOrStdout(), run.Report)
			})
		},
	}
	cmd.Flags().BoolVar(&reportOnly, "report-only", false, "Print only the report")
	return cmd
}

func newListCmd(env *commandEnv) *cobra.Command {
	var (
		status string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return env.withApp(cmd, func(ctx context.Context, a *app) error {
				runs, err := a.store.ListRuns(ctx, ports.RunFilter{Status: normalizeStatus(status), Limit: limit})
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tSTATUS\tRESULT\tPRESET\tCREATED")
				for _, r := range runs {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
						r.ID, r.Status, r.Result, r.Config.Preset, r.CreatedAt.UTC().Format(time.RFC3339))
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Only runs with this status")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of runs")
	return cmd
}

func newWorkerCmd(env *commandEnv) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Execute queued runs until interrupted",
		Long: `Poll the store for queued runs and execute them with bounded concurrency.
With --once the worker drains the current queue and exits. Metrics are
served on QALAB_METRICS_ADDR when it is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return env.withApp(cmd, func(ctx context.Context, a *app) error {
				exec, err := a.executor()
				if err != nil {
					return err
				}
				w, err := a.worker(exec)
				if err != nil {
					return err
				}

				if a.cfg.MetricsAddr != "" {
					stop := serveMetrics(ctx, a.cfg.MetricsAddr, a.gatherer, a.logger)
					defer stop()
				}

				if once {
					n, err := w.Drain(ctx)
					a.logger.Info("queue drained", "runs", n)
					return err
				}
				return w.Run(ctx)
			})
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "Drain the queue and exit")
	return cmd
}

func newPresetsCmd(env *commandEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List the available presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return env.withApp(cmd, func(_ context.Context, a *app) error {
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tSCENARIOS\tTURNS\tMIN LINES\tBUDGET\tMIX (clean/semi/messy)")
				for _, name := range a.presets.Names() {
					p := a.presets[name]
					clean, semi, messy := p.FixtureStyleMix.Percentages()
					fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d/%d/%d\n",
						name, p.ScenarioCount, p.MaxTurnsPerScenario, p.FixtureMinLines, p.TokenBudget, clean, semi, messy)
				}
				return w.Flush()
			})
		},
	}
}

// metricsHandler exposes g in the Prometheus text format.
func metricsHandler(g prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok")
	})
	return mux
}

// serveMetrics starts the metrics listener and returns a function that
// shuts it down.
func serveMetrics(ctx context.Context, addr string, g prometheus.Gatherer, logger *slog.Logger) func() {
	srv := &http.Server{
		Addr:              addr,
		Handler:           metricsHandler(g),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "error", err)
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown", "error", err)
		}
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

// normalizeStatus lowercases a --status value so "Queued" filters as queued.
func normalizeStatus(s string) domain.RunStatus {
	return domain.RunStatus(strings.ToLower(strings.TrimSpace(s)))
}
