package domain

import (
	"encoding/json"
	"time"
)

// RunStatus is the lifecycle state of a QA Lab run.
type RunStatus string

// Run lifecycle states. A run is created queued, moves to running on pickup,
// and ends in exactly one of the terminal states.
const (
	RunStatusQueued        RunStatus = "queued"
	RunStatusRunning       RunStatus = "running"
	RunStatusCompleted     RunStatus = "completed"
	RunStatusFailed        RunStatus = "failed"
	RunStatusBudgetStopped RunStatus = "budget_stopped"
)

// IsTerminal reports whether the status ends the run lifecycle.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusBudgetStopped:
		return true
	default:
		return false
	}
}

// CanExecute reports whether the executor accepts a run in this status.
// A run left in running (for example after a crash) may be re-invoked.
func (s RunStatus) CanExecute() bool {
	return s == RunStatusQueued || s == RunStatusRunning
}

// RunResult is the quality outcome of a run, derived from judge findings.
type RunResult string

// Run results. Pending is kept whenever the judge did not produce findings.
const (
	RunResultPending          RunResult = "pending"
	RunResultPassClean        RunResult = "pass_clean"
	RunResultPassWithFindings RunResult = "pass_with_findings"
	RunResultFailCritical     RunResult = "fail_critical"
)

// StyleMix holds the relative weights of clean, semi-noisy and messy
// fixture lines. Only the ratios matter.
type StyleMix struct {
	Clean     float64 `json:"clean" yaml:"clean" validate:"gte=0"`
	SemiNoisy float64 `json:"semi_noisy" yaml:"semi_noisy" validate:"gte=0"`
	Messy     float64 `json:"messy" yaml:"messy" validate:"gte=0"`
}

// Total returns the sum of all weights.
func (m StyleMix) Total() float64 { return m.Clean + m.SemiNoisy + m.Messy }

// Percentages returns the weights normalized to whole percentages.
// A zero mix is reported as all clean.
func (m StyleMix) Percentages() (clean, semiNoisy, messy int) {
	total := m.Total()
	if total <= 0 {
		return 100, 0, 0
	}
	clean = int(m.Clean / total * 100)
	semiNoisy = int(m.SemiNoisy / total * 100)
	messy = 100 - clean - semiNoisy
	return clean, semiNoisy, messy
}

// RunConfig is the immutable configuration captured when a run is queued.
type RunConfig struct {
	Preset              string   `json:"preset" yaml:"preset"`
	ScenarioCount       int      `json:"scenario_count" yaml:"scenario_count" validate:"min=1,max=12"`
	MaxTurnsPerScenario int      `json:"max_turns_per_scenario" yaml:"max_turns_per_scenario" validate:"min=3,max=6"`
	FixtureMinLines     int      `json:"fixture_min_lines" yaml:"fixture_min_lines" validate:"min=5,max=200"`
	FixtureStyleMix     StyleMix `json:"fixture_style_mix" yaml:"fixture_style_mix"`
	TokenBudget         int      `json:"token_budget" yaml:"token_budget" validate:"gt=0"`
	GeneratorModel      string   `json:"generator_model" yaml:"generator_model" validate:"required,modelspec"`
	JudgeModel          string   `json:"judge_model" yaml:"judge_model" validate:"required,modelspec"`
}

// Run is the unit of work and the persistence boundary of the executor.
// Everything except Status, Result, StartedAt, FinishedAt and Report is
// fixed at creation.
type Run struct {
	ID         string          `json:"id"`
	Config     RunConfig       `json:"config"`
	Status     RunStatus       `json:"status"`
	Result     RunResult       `json:"result"`
	CreatedAt  time.Time       `json:"created_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	Report     json.RawMessage `json:"report,omitempty"`
}

// RunOutcome is the single terminal write applied to a run.
type RunOutcome struct {
	Status     RunStatus
	Result     RunResult
	Report     json.RawMessage
	FinishedAt time.Time
}
