package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewScoreBreakdown(t *testing.T) {
	tests := []struct {
		name    string
		g, e, c int
		want    ScoreBreakdown
	}{
		{
			name: "weighted total rounds",
			g:    80, e: 70, c: 90,
			// 32 + 24.5 + 22.5 = 79
			want: ScoreBreakdown{Groundedness: 80, ExtractionAccuracy: 70, ConversationQuality: 90, WeightedTotal: 79},
		},
		{
			name: "fractional total rounds to nearest",
			g:    51, e: 0, c: 0,
			want: ScoreBreakdown{Groundedness: 51, WeightedTotal: 20},
		},
		{
			name: "out of range values are clamped",
			g:    150, e: -20, c: 100,
			want: ScoreBreakdown{Groundedness: 100, ExtractionAccuracy: 0, ConversationQuality: 100, WeightedTotal: 65},
		},
		{
			name: "perfect",
			g:    100, e: 100, c: 100,
			want: ScoreBreakdown{Groundedness: 100, ExtractionAccuracy: 100, ConversationQuality: 100, WeightedTotal: 100},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewScoreBreakdown(tt.g, tt.e, tt.c))
		})
	}
}

func TestDeriveResult(t *testing.T) {
	tests := []struct {
		name     string
		findings []Finding
		want     RunResult
	}{
		{"no findings", nil, RunResultPassClean},
		{"empty findings", []Finding{}, RunResultPassClean},
		{"minor only", []Finding{{Severity: SeverityMinor}}, RunResultPassWithFindings},
		{"major and minor", []Finding{{Severity: SeverityMajor}, {Severity: SeverityMinor}}, RunResultPassWithFindings},
		{"any critical", []Finding{{Severity: SeverityMinor}, {Severity: SeverityCritical}}, RunResultFailCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveResult(tt.findings))
		})
	}
}

func TestSkipReason_IsBudgetRelated(t *testing.T) {
	budget := map[SkipReason]bool{
		SkipNoCasesExecuted:            false,
		SkipBudgetExhaustedBeforeJudge: true,
		SkipInsufficientBudgetForJudge: true,
		SkipEmptyJudgeResponse:         false,
		SkipInvalidJudgeJSON:           false,
	}
	for reason, want := range budget {
		t.Run(string(reason), func(t *testing.T) {
			assert.Equal(t, want, reason.IsBudgetRelated())
		})
	}
}

func TestSkippedJudgeResult(t *testing.T) {
	r := SkippedJudgeResult(SkipInsufficientBudgetForJudge)

	assert.True(t, r.Skipped())
	assert.Equal(t, ScoreBreakdown{}, r.ScoreBreakdown)
	assert.NotNil(t, r.Findings)
	assert.NotNil(t, r.TopActions)
	assert.Empty(t, r.Summary)
	assert.False(t, JudgeResult{}.Skipped())
}
