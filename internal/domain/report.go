package domain

// ReportVersion is the schema version written into every report.
const ReportVersion = "v1"

// CheckVerdict is the outcome of one pipeline check.
type CheckVerdict string

// Pipeline check verdicts.
const (
	CheckPass CheckVerdict = "pass"
	CheckWarn CheckVerdict = "warn"
	CheckFail CheckVerdict = "fail"
)

// Report is the document persisted on a successfully finalized run,
// including budget-stopped runs.
type Report struct {
	Version        string          `json:"version"`
	GeneratedAt    string          `json:"generated_at"`
	Budget         BudgetReport    `json:"budget"`
	Generator      GeneratorReport `json:"generator"`
	Execution      ExecutionReport `json:"execution"`
	PipelineChecks PipelineChecks  `json:"pipeline_checks"`
	Judge          JudgeResult     `json:"judge"`
}

// BudgetReport summarizes token consumption against the run budget.
type BudgetReport struct {
	LimitTokens          int  `json:"limit_tokens"`
	ConsumedTokens       int  `json:"consumed_tokens"`
	ConsumedInputTokens  int  `json:"consumed_input_tokens"`
	ConsumedOutputTokens int  `json:"consumed_output_tokens"`
	ConsumedCredits      int  `json:"consumed_credits"`
	RemainingTokens      int  `json:"remaining_tokens"`
	Exhausted            bool `json:"exhausted"`
}

// ScenarioMix counts generated scenarios by lead temperature, stance and theme.
type ScenarioMix struct {
	LeadTemperature    map[LeadTemperature]int `json:"lead_temperature"`
	InformationSharing map[InfoStance]int      `json:"information_sharing"`
	LeadQualification  int                     `json:"lead_qualification"`
	SupportThemed      int                     `json:"support_themed"`
}

// GeneratorReport describes the fixture the run was evaluated on.
type GeneratorReport struct {
	Business               BusinessHint `json:"business"`
	FixtureTitle           string       `json:"fixture_title"`
	FixtureLineCount       int          `json:"fixture_line_count"`
	FixtureLines           []string     `json:"fixture_lines"`
	DerivedSetup           DerivedSetup `json:"derived_setup"`
	GroundTruth            GroundTruth  `json:"ground_truth"`
	ScenarioCountGenerated int          `json:"scenario_count_generated"`
	ScenarioMix            ScenarioMix  `json:"scenario_mix"`
	Attempts               int          `json:"attempts"`
}

// ExecutionReport describes what the scenario executor ran.
type ExecutionReport struct {
	TargetScenarios   int            `json:"target_scenarios"`
	ExecutedScenarios int            `json:"executed_scenarios"`
	ExecutedTurns     int            `json:"executed_turns"`
	Cases             []ExecutedCase `json:"cases"`
}

// PipelineStep is one named check in the pipeline checklist.
type PipelineStep struct {
	Name    string       `json:"name"`
	Verdict CheckVerdict `json:"verdict"`
	Note    string       `json:"note"`
}

// PipelineChecks is the checklist plus its rollup.
type PipelineChecks struct {
	Overall CheckVerdict   `json:"overall"`
	Steps   []PipelineStep `json:"steps"`
}

// ErrorReport replaces the full report when a run fails.
type ErrorReport struct {
	Version     string      `json:"version"`
	Error       ErrorDetail `json:"error"`
	GeneratedAt string      `json:"generated_at"`
}

// ErrorDetail carries the failure message and optional structured details.
type ErrorDetail struct {
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}
