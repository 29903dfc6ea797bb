package units

import (
	"errors"
	"math"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/ahrav/go-qalab/internal/domain"
)

// Judge output limits.
const (
	MaxFindings          = 20
	MaxTopActions        = 5
	DefaultConfidence    = 0.5
	maxJudgeSummaryRunes = 1200
	maxEvidenceRunes     = 600
	maxActionRunes       = 300
)

// ErrNotJudgeOutput is returned when a JSON object has none of the fields a
// judge response carries.
var ErrNotJudgeOutput = errors.New("JSON object has no summary, score_breakdown or findings")

// NormalizeJudgeOutput parses a judge response into a JudgeResult. Scores
// are clamped to 0..100, enums outside their sets fall back to minor,
// pipeline and medium, degenerate findings and actions are dropped, and list
// lengths are capped.
func NormalizeJudgeOutput(raw string) (domain.JudgeResult, error) {
	root, err := parseObject(raw)
	if err != nil {
		return domain.JudgeResult{}, err
	}
	scores := firstOf(root, "score_breakdown", "scores")
	if !scores.Exists() && !root.Get("summary").Exists() && !root.Get("findings").Exists() {
		return domain.JudgeResult{}, ErrNotJudgeOutput
	}

	return domain.JudgeResult{
		Summary: cleanText(root.Get("summary").String(), maxJudgeSummaryRunes),
		ScoreBreakdown: domain.NewScoreBreakdown(
			scoreOf(scores.Get("groundedness")),
			scoreOf(firstOf(scores, "extraction_accuracy", "extraction")),
			scoreOf(firstOf(scores, "conversation_quality", "conversation")),
		),
		Findings:   normalizeFindings(root.Get("findings")),
		TopActions: normalizeTopActions(root.Get("top_actions")),
	}, nil
}

// scoreOf rounds a numeric or numeric-string score. Missing scores are 0.
func scoreOf(r gjson.Result) int {
	v := r.Float()
	if math.IsNaN(v) {
		return 0
	}
	v = math.Round(v)
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	if v < math.MinInt32 {
		return math.MinInt32
	}
	return int(v)
}

func normalizeFindings(arr gjson.Result) []domain.Finding {
	findings := make([]domain.Finding, 0)
	if !arr.IsArray() {
		return findings
	}
	for _, item := range arr.Array() {
		if len(findings) >= MaxFindings {
			break
		}
		if !item.IsObject() {
			continue
		}
		f := domain.Finding{
			Severity:     normalizeSeverity(item.Get("severity").String()),
			Rule:         cleanText(item.Get("rule").String(), maxFactRunes),
			Evidence:     cleanText(item.Get("evidence").String(), maxEvidenceRunes),
			Rationale:    cleanText(item.Get("rationale").String(), maxEvidenceRunes),
			SuggestedFix: cleanText(item.Get("suggested_fix").String(), maxEvidenceRunes),
			TargetLayer:  normalizeLayer(item.Get("target_layer").String()),
			Effort:       normalizeEffort(item.Get("effort").String()),
			Confidence:   confidenceOf(item.Get("confidence")),
		}
		if f.Rule == "" && f.Evidence == "" && f.Rationale == "" {
			continue
		}
		findings = append(findings, f)
	}
	return findings
}

func normalizeTopActions(arr gjson.Result) []domain.TopAction {
	type ranked struct {
		action   domain.TopAction
		priority int
	}
	actions := make([]domain.TopAction, 0)
	if !arr.IsArray() {
		return actions
	}

	items := make([]ranked, 0, len(arr.Array()))
	for _, item := range arr.Array() {
		text := textOf(item)
		if item.IsObject() {
			text = item.Get("action").String()
		}
		if text = cleanText(text, maxActionRunes); text == "" {
			continue
		}
		priority := math.MaxInt32
		if p := item.Get("priority"); p.Exists() {
			priority = scoreOf(p)
		}
		items = append(items, ranked{
			action: domain.TopAction{
				Action:         text,
				TargetLayer:    normalizeLayer(item.Get("target_layer").String()),
				Effort:         normalizeEffort(item.Get("effort").String()),
				ExpectedImpact: cleanText(item.Get("expected_impact").String(), maxActionRunes),
			},
			priority: priority,
		})
	}

	sort.SliceStable(items, func(a, b int) bool { return items[a].priority < items[b].priority })
	for i, it := range items {
		if i >= MaxTopActions {
			break
		}
		it.action.Priority = i + 1
		actions = append(actions, it.action)
	}
	return actions
}

func confidenceOf(r gjson.Result) float64 {
	if !r.Exists() || r.Type == gjson.Null {
		return DefaultConfidence
	}
	v := r.Float()
	switch {
	case math.IsNaN(v):
		return DefaultConfidence
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func normalizeSeverity(s string) domain.Severity {
	switch sev := domain.Severity(strings.ToLower(strings.TrimSpace(s))); sev {
	case domain.SeverityCritical, domain.SeverityMajor, domain.SeverityMinor:
		return sev
	}
	return domain.SeverityMinor
}

func normalizeLayer(s string) domain.TargetLayer {
	switch layer := domain.TargetLayer(strings.ToLower(strings.TrimSpace(s))); layer {
	case domain.LayerKB, domain.LayerPrompt, domain.LayerPipeline:
		return layer
	}
	return domain.LayerPipeline
}

func normalizeEffort(s string) domain.Effort {
	switch e := domain.Effort(strings.ToLower(strings.TrimSpace(s))); e {
	case domain.EffortLow, domain.EffortMedium, domain.EffortHigh:
		return e
	}
	return domain.EffortMedium
}
