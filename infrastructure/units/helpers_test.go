package units

import (
	"sync"
	"time"

	"github.com/ahrav/go-qalab/internal/domain"
	"github.com/ahrav/go-qalab/internal/ports"
)

func testRunConfig() domain.RunConfig {
	return domain.RunConfig{
		Preset:              "quick",
		ScenarioCount:       3,
		MaxTurnsPerScenario: 4,
		FixtureMinLines:     12,
		FixtureStyleMix:     domain.StyleMix{Clean: 1},
		TokenBudget:         1_000_000,
		GeneratorModel:      "mock/generator",
		JudgeModel:          "mock/judge",
	}
}

func runState(cfg domain.RunConfig) domain.State {
	run := domain.Run{
		ID:        "run-123",
		Config:    cfg,
		Status:    domain.RunStatusRunning,
		Result:    domain.RunResultPending,
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	return domain.With(domain.NewState(), domain.KeyRun, run)
}

// fakeBudget is a TokenBudget with scripted exhaustion. exhaustAfter is the
// number of IsExhausted calls that report false before it flips to true;
// a negative value never exhausts.
type fakeBudget struct {
	mu           sync.Mutex
	remaining    int
	exhaustAfter int
	checks       int
	charged      []domain.TokenUsage
}

var _ ports.TokenBudget = (*fakeBudget)(nil)

func newFakeBudget(remaining, exhaustAfter int) *fakeBudget {
	return &fakeBudget{remaining: remaining, exhaustAfter: exhaustAfter}
}

func (f *fakeBudget) Consume(reported ports.Usage, _, _ string) domain.TokenUsage {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := domain.TokenUsage{Input: reported.PromptTokens, Output: reported.CompletionTokens, Total: reported.TotalTokens}
	f.charged = append(f.charged, u)
	f.remaining = max(0, f.remaining-u.Total)
	return u
}

func (f *fakeBudget) Remaining() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remaining
}

func (f *fakeBudget) IsExhausted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks++
	return f.exhaustAfter >= 0 && f.checks > f.exhaustAfter
}

func (f *fakeBudget) Snapshot() domain.BudgetSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return domain.BudgetSnapshot{Budget: f.remaining}
}

func (f *fakeBudget) chargedCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.charged)
}
