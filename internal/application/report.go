package application

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ahrav/go-qalab/infrastructure/units"
	"github.com/ahrav/go-qalab/internal/domain"
)

// TimestampLayout is the UTC layout used for every timestamp written into a
// report.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Pipeline check step names, in report order.
const (
	StepFixtureLines       = "fixture_lines"
	StepDerivedSetup       = "derived_setup"
	StepScenarioGeneration = "scenario_generation"
	StepScenarioExecution  = "scenario_execution"
	StepJudge              = "judge"
)

// tokensPerCredit converts consumed tokens into billing credits.
const tokensPerCredit = 1000

// Credits returns the number of credits charged for tokens, rounding up.
func Credits(tokens int) int {
	if tokens <= 0 {
		return 0
	}
	return (tokens + tokensPerCredit - 1) / tokensPerCredit
}

// BuildReport assembles the persisted report from the final pipeline state
// and the run's ledger. It requires the generation result; the executed
// cases and judge result default to empty and skipped when absent.
func BuildReport(state domain.State, cfg domain.RunConfig, budget domain.BudgetSnapshot, now time.Time) (domain.Report, error) {
	gen, ok := domain.Get(state, domain.KeyGeneration)
	if !ok {
		return domain.Report{}, domain.MissingState(domain.KeyGeneration, "report")
	}
	cases, _ := domain.Get(state, domain.KeyExecutedCases)
	if cases == nil {
		cases = []domain.ExecutedCase{}
	}
	judge, ok := domain.Get(state, domain.KeyJudge)
	if !ok {
		judge = domain.SkippedJudgeResult(domain.SkipNoCasesExecuted)
	}

	out := gen.Output
	return domain.Report{
		Version:     domain.ReportVersion,
		GeneratedAt: now.UTC().Format(TimestampLayout),
		Budget:      BuildBudgetReport(budget),
		Generator: domain.GeneratorReport{
			Business:               out.Business,
			FixtureTitle:           out.Fixture.Title,
			FixtureLineCount:       len(out.Fixture.Lines),
			FixtureLines:           nonNil(out.Fixture.Lines),
			DerivedSetup:           out.DerivedSetup,
			GroundTruth:            out.GroundTruth,
			ScenarioCountGenerated: len(out.Scenarios),
			ScenarioMix:            BuildScenarioMix(out.Scenarios),
			Attempts:               len(gen.Attempts),
		},
		Execution: domain.ExecutionReport{
			TargetScenarios:   cfg.ScenarioCount,
			ExecutedScenarios: len(cases),
			ExecutedTurns:     domain.CountTurns(cases),
			Cases:             cases,
		},
		PipelineChecks: BuildPipelineChecks(cfg, out, cases, judge),
		Judge:          judge,
	}, nil
}

// BuildBudgetReport converts a ledger snapshot into the report's budget
// section.
func BuildBudgetReport(s domain.BudgetSnapshot) domain.BudgetReport {
	return domain.BudgetReport{
		LimitTokens:          s.Budget,
		ConsumedTokens:       s.Consumed,
		ConsumedInputTokens:  s.ConsumedInput,
		ConsumedOutputTokens: s.ConsumedOutput,
		ConsumedCredits:      Credits(s.Consumed),
		RemainingTokens:      s.Remaining(),
		Exhausted:            s.Exhausted(),
	}
}

// BuildScenarioMix counts generated scenarios by temperature, stance and
// theme. Every temperature and stance appears in the maps, zero or not.
func BuildScenarioMix(scenarios []domain.Scenario) domain.ScenarioMix {
	mix := domain.ScenarioMix{
		LeadTemperature:    make(map[domain.LeadTemperature]int, len(domain.LeadTemperatures)),
		InformationSharing: make(map[domain.InfoStance]int, len(domain.InfoStances)),
	}
	for _, t := range domain.LeadTemperatures {
		mix.LeadTemperature[t] = 0
	}
	for _, s := range domain.InfoStances {
		mix.InformationSharing[s] = 0
	}

	for _, s := range scenarios {
		mix.LeadTemperature[s.LeadTemperature]++
		mix.InformationSharing[s.InformationSharing]++
		if units.IsLeadQualificationScenario(s) {
			mix.LeadQualification++
		}
		if units.IsSupportThemedScenario(s) {
			mix.SupportThemed++
		}
	}
	return mix
}

// BuildPipelineChecks grades each pipeline step and rolls the verdicts up:
// pass when every step passes, fail when any fails, warn otherwise.
func BuildPipelineChecks(cfg domain.RunConfig, out domain.GeneratedOutput, cases []domain.ExecutedCase, judge domain.JudgeResult) domain.PipelineChecks {
	steps := []domain.PipelineStep{
		fixtureLinesStep(len(out.Fixture.Lines), cfg.FixtureMinLines),
		derivedSetupStep(out.DerivedSetup),
		scenarioGenerationStep(len(out.Scenarios), cfg.ScenarioCount),
		scenarioExecutionStep(len(cases), len(out.Scenarios)),
		judgeStep(judge),
	}
	return domain.PipelineChecks{Overall: rollup(steps), Steps: steps}
}

func fixtureLinesStep(lines, minLines int) domain.PipelineStep {
	step := domain.PipelineStep{Name: StepFixtureLines}
	switch {
	case lines == 0:
		step.Verdict, step.Note = domain.CheckFail, "fixture has no lines"
	case lines >= minLines:
		step.Verdict, step.Note = domain.CheckPass, fmt.Sprintf("%d lines (minimum %d)", lines, minLines)
	default:
		step.Verdict, step.Note = domain.CheckWarn, fmt.Sprintf("%d lines, below the minimum of %d", lines, minLines)
	}
	return step
}

func derivedSetupStep(setup domain.DerivedSetup) domain.PipelineStep {
	step := domain.PipelineStep{Name: StepDerivedSetup}
	present := 0
	var missing []string
	if setup.ProfileSummary != "" {
		present++
	} else {
		missing = append(missing, "profile summary")
	}
	if len(setup.ServiceCatalog) > 0 {
		present++
	} else {
		missing = append(missing, "service catalog")
	}
	if len(setup.RequiredIntakeFields) > 0 {
		present++
	} else {
		missing = append(missing, "intake fields")
	}

	switch present {
	case 3:
		step.Verdict, step.Note = domain.CheckPass, fmt.Sprintf("%d services, %d intake fields", len(setup.ServiceCatalog), len(setup.RequiredIntakeFields))
	case 0:
		step.Verdict, step.Note = domain.CheckFail, "derived setup is empty"
	default:
		step.Verdict, step.Note = domain.CheckWarn, "missing "+strings.Join(missing, ", ")
	}
	return step
}

func scenarioGenerationStep(generated, target int) domain.PipelineStep {
	step := domain.PipelineStep{Name: StepScenarioGeneration}
	switch {
	case generated == 0:
		step.Verdict, step.Note = domain.CheckFail, "no scenarios generated"
	case generated >= target:
		step.Verdict, step.Note = domain.CheckPass, fmt.Sprintf("%d of %d scenarios generated", generated, target)
	default:
		step.Verdict, step.Note = domain.CheckWarn, fmt.Sprintf("only %d of %d scenarios generated", generated, target)
	}
	return step
}

func scenarioExecutionStep(executed, generated int) domain.PipelineStep {
	step := domain.PipelineStep{Name: StepScenarioExecution}
	switch {
	case executed == 0:
		step.Verdict, step.Note = domain.CheckFail, "no scenarios executed"
	case executed == generated:
		step.Verdict, step.Note = domain.CheckPass, fmt.Sprintf("all %d scenarios executed", executed)
	default:
		step.Verdict, step.Note = domain.CheckWarn, fmt.Sprintf("%d of %d scenarios executed", executed, generated)
	}
	return step
}

func judgeStep(judge domain.JudgeResult) domain.PipelineStep {
	step := domain.PipelineStep{Name: StepJudge}
	switch {
	case !judge.Skipped():
		step.Verdict, step.Note = domain.CheckPass, fmt.Sprintf("weighted total %d, %d findings", judge.ScoreBreakdown.WeightedTotal, len(judge.Findings))
	case judge.SkippedReason.IsBudgetRelated():
		step.Verdict, step.Note = domain.CheckWarn, "skipped: "+string(*judge.SkippedReason)
	default:
		step.Verdict, step.Note = domain.CheckFail, "skipped: "+string(*judge.SkippedReason)
	}
	return step
}

func rollup(steps []domain.PipelineStep) domain.CheckVerdict {
	overall := domain.CheckPass
	for _, s := range steps {
		switch s.Verdict {
		case domain.CheckFail:
			return domain.CheckFail
		case domain.CheckWarn:
			overall = domain.CheckWarn
		}
	}
	return overall
}

// BuildErrorReport builds the document persisted on a failed run. Generator
// failures carry every attempt's diagnostics under details.attempts and
// configuration failures list the violations under details.errors.
func BuildErrorReport(err error, now time.Time) domain.ErrorReport {
	detail := domain.ErrorDetail{Message: err.Error()}

	var genErr *domain.GenerationError
	var valErr *domain.ValidationError
	switch {
	case errors.As(err, &genErr):
		detail.Details = map[string]any{
			"reason":   genErr.Reason,
			"attempts": genErr.Attempts,
		}
	case errors.As(err, &valErr):
		detail.Details = map[string]any{"errors": valErr.Errors}
	}

	return domain.ErrorReport{
		Version:     domain.ReportVersion,
		Error:       detail,
		GeneratedAt: now.UTC().Format(TimestampLayout),
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
