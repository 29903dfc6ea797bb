package domain

import "math"

// Score weights for the judge's weighted total.
const (
	WeightGroundedness        = 0.40
	WeightExtractionAccuracy  = 0.35
	WeightConversationQuality = 0.25
)

// Severity ranks how serious a finding is.
type Severity string

// Finding severities.
const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityMinor    Severity = "minor"
)

// TargetLayer names where a remediation should be applied.
type TargetLayer string

// Remediation layers.
const (
	LayerKB       TargetLayer = "kb"
	LayerPrompt   TargetLayer = "prompt"
	LayerPipeline TargetLayer = "pipeline"
)

// Effort estimates how costly a remediation is.
type Effort string

// Remediation effort levels.
const (
	EffortLow    Effort = "low"
	EffortMedium Effort = "medium"
	EffortHigh   Effort = "high"
)

// SkipReason explains why the judge did not score the run.
type SkipReason string

// Judge skip reasons.
const (
	SkipNoCasesExecuted            SkipReason = "no_cases_executed"
	SkipBudgetExhaustedBeforeJudge SkipReason = "budget_exhausted_before_judge"
	SkipInsufficientBudgetForJudge SkipReason = "insufficient_budget_for_judge"
	SkipEmptyJudgeResponse         SkipReason = "empty_judge_response"
	SkipInvalidJudgeJSON           SkipReason = "invalid_judge_json"
)

// IsBudgetRelated reports whether the skip was caused by the token budget
// rather than by missing or unusable data.
func (r SkipReason) IsBudgetRelated() bool {
	return r == SkipBudgetExhaustedBeforeJudge || r == SkipInsufficientBudgetForJudge
}

// ScoreBreakdown holds the three 0–100 sub-scores and their weighted total.
type ScoreBreakdown struct {
	Groundedness        int `json:"groundedness"`
	ExtractionAccuracy  int `json:"extraction_accuracy"`
	ConversationQuality int `json:"conversation_quality"`
	WeightedTotal       int `json:"weighted_total"`
}

// NewScoreBreakdown clamps the sub-scores to 0..100 and computes the
// weighted total.
func NewScoreBreakdown(groundedness, extraction, conversation int) ScoreBreakdown {
	g := clampScore(groundedness)
	e := clampScore(extraction)
	c := clampScore(conversation)
	total := WeightGroundedness*float64(g) +
		WeightExtractionAccuracy*float64(e) +
		WeightConversationQuality*float64(c)
	return ScoreBreakdown{
		Groundedness:        g,
		ExtractionAccuracy:  e,
		ConversationQuality: c,
		WeightedTotal:       int(math.Round(total)),
	}
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// Finding is a single judge-identified defect.
type Finding struct {
	Severity     Severity    `json:"severity"`
	Rule         string      `json:"rule"`
	Evidence     string      `json:"evidence"`
	Rationale    string      `json:"rationale"`
	SuggestedFix string      `json:"suggested_fix"`
	TargetLayer  TargetLayer `json:"target_layer"`
	Effort       Effort      `json:"effort"`
	Confidence   float64     `json:"confidence"`
}

// TopAction is a prioritized remediation step.
type TopAction struct {
	Priority       int         `json:"priority"`
	Action         string      `json:"action"`
	TargetLayer    TargetLayer `json:"target_layer"`
	Effort         Effort      `json:"effort"`
	ExpectedImpact string      `json:"expected_impact"`
}

// JudgeResult is the judge's evaluation of all executed cases. When
// SkippedReason is set every other field is zero.
type JudgeResult struct {
	Summary        string         `json:"summary"`
	ScoreBreakdown ScoreBreakdown `json:"score_breakdown"`
	Findings       []Finding      `json:"findings"`
	TopActions     []TopAction    `json:"top_actions"`
	SkippedReason  *SkipReason    `json:"skipped_reason"`
}

// SkippedJudgeResult returns the zeroed result recorded when judging is
// skipped.
func SkippedJudgeResult(reason SkipReason) JudgeResult {
	return JudgeResult{
		Findings:      []Finding{},
		TopActions:    []TopAction{},
		SkippedReason: &reason,
	}
}

// Skipped reports whether judging was skipped.
func (j JudgeResult) Skipped() bool { return j.SkippedReason != nil }

// DeriveResult maps finding severities to the run result. It looks only at
// the findings, never at the judge's summary text.
func DeriveResult(findings []Finding) RunResult {
	if len(findings) == 0 {
		return RunResultPassClean
	}
	for _, f := range findings {
		if f.Severity == SeverityCritical {
			return RunResultFailCritical
		}
	}
	return RunResultPassWithFindings
}
