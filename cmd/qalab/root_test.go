package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/go-qalab/infrastructure/middleware"
	"github.com/ahrav/go-qalab/infrastructure/store/memory"
	"github.com/ahrav/go-qalab/internal/application"
	"github.com/ahrav/go-qalab/internal/config"
	"github.com/ahrav/go-qalab/internal/domain"
	"github.com/ahrav/go-qalab/internal/ports"
	"github.com/ahrav/go-qalab/internal/testutils"
)

const (
	cliGeneratorModel = "openai/gpt-4o-mini"
	cliResponderModel = "openai/gpt-4o"
	cliJudgeModel     = "anthropic/claude-3-5-haiku-latest"
)

var cliClock = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type cliHarness struct {
	app       *app
	generator *testutils.MockLLMClient
	responder *testutils.MockLLMClient
	judge     *testutils.MockLLMClient
}

func newCLIHarness(t *testing.T) *cliHarness {
	t.Helper()
	h := &cliHarness{
		generator: testutils.NewMockLLMClient(cliGeneratorModel),
		responder: testutils.NewMockLLMClient(cliResponderModel),
		judge:     testutils.NewMockLLMClient(cliJudgeModel),
	}
	reg := prometheus.NewRegistry()
	h.app = &app{
		cfg: config.Config{
			Store:              config.StoreMemory,
			GeneratorModel:     cliGeneratorModel,
			JudgeModel:         cliJudgeModel,
			ResponderModel:     cliResponderModel,
			WorkerConcurrency:  2,
			WorkerPollInterval: time.Second,
		},
		logger: testutils.DiscardLogger(),
		store:  memory.New(),
		resolver: testutils.NewStaticResolver(map[string]ports.LLMClient{
			cliGeneratorModel: h.generator,
			cliResponderModel: h.responder,
			cliJudgeModel:     h.judge,
		}, nil),
		presets:        application.DefaultPresets(),
		metrics:        middleware.NewPrometheusMetrics(reg),
		gatherer:       reg,
		tracerProvider: noop.NewTracerProvider(),
		now:            func() time.Time { return cliClock },
	}
	return h
}

// scriptQuickRun makes every run of the quick preset complete cleanly.
func (h *cliHarness) scriptQuickRun() {
	h.generator.AddResponse(testutils.MockResponse{
		Content: testutils.GeneratorJSON(testutils.GeneratorFixture{Lines: 20, Scenarios: 3, Turns: 4}),
		Usage:   ports.Usage{PromptTokens: 1500, CompletionTokens: 2500, TotalTokens: 4000},
	})
	h.responder.AddResponse(testutils.MockResponse{
		Content: "A routine cleaning is $95. Would you like to book?",
		Usage:   ports.Usage{PromptTokens: 300, CompletionTokens: 40, TotalTokens: 340},
	})
	h.judge.AddResponse(testutils.MockResponse{
		Content: testutils.JudgeJSON(90, 85, 80),
		Usage:   ports.Usage{PromptTokens: 800, CompletionTokens: 200, TotalTokens: 1000},
	})
}

func (h *cliHarness) execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(func(context.Context, string, io.Writer) (*app, error) { return h.app, nil })
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func decodeRun(t *testing.T, out string) domain.Run {
	t.Helper()
	var run domain.Run
	require.NoError(t, json.Unmarshal([]byte(out), &run), out)
	return run
}

func TestEnqueueAndShow(t *testing.T) {
	h := newCLIHarness(t)

	out, err := h.execute(t, "enqueue", "--preset", application.PresetStandard)
	require.NoError(t, err)
	id := strings.TrimSpace(out)
	_, err = uuid.Parse(id)
	require.NoError(t, err, "enqueue prints a uuid")

	out, err = h.execute(t, "show", id)
	require.NoError(t, err)
	run := decodeRun(t, out)
	assert.Equal(t, id, run.ID)
	assert.Equal(t, domain.RunStatusQueued, run.Status)
	assert.Equal(t, domain.RunResultPending, run.Result)
	assert.Equal(t, application.PresetStandard, run.Config.Preset)
	assert.Equal(t, 6, run.Config.ScenarioCount)
	assert.Equal(t, cliGeneratorModel, run.Config.GeneratorModel)
	assert.Equal(t, cliJudgeModel, run.Config.JudgeModel)
	assert.True(t, run.CreatedAt.Equal(cliClock))
}

func TestEnqueue_Overrides(t *testing.T) {
	h := newCLIHarness(t)

	out, err := h.execute(t, "enqueue",
		"--generator-model", "google/gemini-1.5-flash",
		"--judge-model", "openai/gpt-4o",
		"--token-budget", "12345",
	)
	require.NoError(t, err)

	run, err := h.app.store.GetRun(context.Background(), strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, application.PresetQuick, run.Config.Preset)
	assert.Equal(t, "google/gemini-1.5-flash", run.Config.GeneratorModel)
	assert.Equal(t, "openai/gpt-4o", run.Config.JudgeModel)
	assert.Equal(t, 12_345, run.Config.TokenBudget)
}

func TestEnqueue_Errors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "unknown preset", args: []string{"enqueue", "--preset", "huge"}, wantErr: `unknown preset "huge"`},
		{name: "malformed model", args: []string{"enqueue", "--judge-model", "openai/"}, wantErr: "judge_model"},
		{name: "unexpected argument", args: []string{"enqueue", "extra"}, wantErr: "unknown command"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newCLIHarness(t)
			_, err := h.execute(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)

			runs, err := h.app.store.ListRuns(context.Background(), ports.RunFilter{})
			require.NoError(t, err)
			assert.Empty(t, runs, "nothing is queued on error")
		})
	}
}

func TestRun_EnqueuesAndExecutes(t *testing.T) {
	h := newCLIHarness(t)
	h.scriptQuickRun()

	out, err := h.execute(t, "run")
	require.NoError(t, err)
	run := decodeRun(t, out)
	assert.Equal(t, domain.RunStatusCompleted, run.Status)
	assert.Equal(t, domain.RunResultPassClean, run.Result)
	assert.NotContains(t, out, `"report"`, "the report is omitted without --report")

	assert.Equal(t, 1, h.generator.CallCount())
	assert.Equal(t, 12, h.responder.CallCount())
	assert.Equal(t, 1, h.judge.CallCount())

	out, err = h.execute(t, "show", run.ID, "--report-only")
	require.NoError(t, err)
	var report domain.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, domain.ReportVersion, report.Version)
	assert.Equal(t, 3, report.Execution.ExecutedScenarios)
	assert.Equal(t, 4000+12*340+1000, report.Budget.ConsumedTokens)

	out, err = h.execute(t, "list", "--status", "Completed")
	require.NoError(t, err)
	assert.Contains(t, out, run.ID)
	assert.Contains(t, out, "pass_clean")
}

func TestRun_ExistingRunWithReport(t *testing.T) {
	h := newCLIHarness(t)
	h.scriptQuickRun()

	queued, err := h.app.enqueue(context.Background(), enqueueRequest{Preset: application.PresetQuick})
	require.NoError(t, err)

	out, err := h.execute(t, "run", queued.ID, "--report")
	require.NoError(t, err)
	run := decodeRun(t, out)
	assert.Equal(t, queued.ID, run.ID)
	assert.NotEmpty(t, run.Report)

	_, err = h.execute(t, "run", queued.ID)
	var stateErr *domain.RunStateError
	require.ErrorAs(t, err, &stateErr, "a finalized run cannot be executed again")
}

func TestRun_FailedRunExitsNonZero(t *testing.T) {
	h := newCLIHarness(t)
	h.generator.AddResponse(testutils.MockResponse{Content: "not json"})

	out, err := h.execute(t, "run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed")

	run := decodeRun(t, out)
	assert.Equal(t, domain.RunStatusFailed, run.Status)
	assert.Equal(t, 3, h.generator.CallCount())
	assert.Zero(t, h.responder.CallCount())
}

func TestShow_Errors(t *testing.T) {
	h := newCLIHarness(t)

	_, err := h.execute(t, "show", "missing")
	assert.EqualError(t, err, "run missing not found")

	queued, err := h.app.enqueue(context.Background(), enqueueRequest{Preset: application.PresetQuick})
	require.NoError(t, err)
	_, err = h.execute(t, "show", queued.ID, "--report-only")
	assert.ErrorContains(t, err, "has no report yet (status queued)")
}

func TestWorkerOnce(t *testing.T) {
	h := newCLIHarness(t)
	h.scriptQuickRun()

	for range 3 {
		_, err := h.app.enqueue(context.Background(), enqueueRequest{Preset: application.PresetQuick})
		require.NoError(t, err)
	}

	_, err := h.execute(t, "worker", "--once")
	require.NoError(t, err)

	completed, err := h.app.store.ListRuns(context.Background(), ports.RunFilter{Status: domain.RunStatusCompleted})
	require.NoError(t, err)
	assert.Len(t, completed, 3)
	assert.Equal(t, 3, h.judge.CallCount())
}

func TestPresetsCmd(t *testing.T) {
	h := newCLIHarness(t)

	out, err := h.execute(t, "presets")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "NAME"))
	assert.Regexp(t, `^deep\s+12\s+6\s+80\s+400000\s+40/35/25$`, lines[1])
	assert.Regexp(t, `^quick\s+3\s+4\s+20\s+60000\s+60/30/10$`, lines[2])
	assert.True(t, strings.HasPrefix(lines[3], "standard"))
}

func TestMetricsHandler(t *testing.T) {
	h := newCLIHarness(t)
	h.app.metrics.RecordCounter(middleware.MetricRunsTotal, 1, map[string]string{
		"status": string(domain.RunStatusCompleted),
		"result": string(domain.RunResultPassClean),
	})

	srv := httptest.NewServer(metricsHandler(h.app.gatherer))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `qalab_`+middleware.MetricRunsTotal+`{result="pass_clean",status="completed"} 1`)

	health, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestNewResolver(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("ANTHROPIC_API_KEY", "")

	cfg, err := config.FromEnv(func(string) (string, bool) { return "", false })
	require.NoError(t, err)

	resolver, err := newResolver(cfg, middleware.NewPrometheusMetrics(prometheus.NewRegistry()), noop.NewTracerProvider())
	require.NoError(t, err)

	client, err := resolver.Resolve("openai/gpt-4o-mini")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", client.GetModel())

	_, err = resolver.Resolve("anthropic/claude-3-5-haiku-latest")
	assert.ErrorContains(t, err, "ANTHROPIC_API_KEY")

	_, err = resolver.Resolve("mistral/large")
	assert.ErrorIs(t, err, ports.ErrUnknownModel)
}
