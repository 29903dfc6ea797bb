package units

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"github.com/ahrav/go-qalab/internal/domain"
)

// Quality gate thresholds.
const (
	MinLineDiversity   = 0.6
	MaxSupportLineRate = 0.35
	MinCoreServices    = 2
)

// QualityGateError explains why generator output was rejected. Reason is
// written to be fed back into the next generation prompt.
type QualityGateError struct {
	Reason string
}

func (e *QualityGateError) Error() string { return "quality gate: " + e.Reason }

func gateFail(format string, args ...any) error {
	return &QualityGateError{Reason: fmt.Sprintf(format, args...)}
}

var (
	genericTitlePattern = regexp.MustCompile(`(?i)(\bcustomer\s+(support|service|care)\b|\bhelp\s*desk\b|\bsupport\s+(center|centre|desk|portal|team|faq)\b|^\s*(faq|support|knowledge\s*base|kb)\s*$)`)

	placeholderPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\{\{[^}]*\}\}`),
		regexp.MustCompile(`<[A-Z][A-Z0-9 _-]*>`),
		regexp.MustCompile(`(?i)\blorem ipsum\b`),
		// TBD or TODO standing in for the whole value, as in "Parking: TBD".
		regexp.MustCompile(`(?i)(^|[:=]\s*)(TBD|TODO)\s*\.?\s*$`),
		regexp.MustCompile(`(?i)\b(placeholder|xxx+)\b`),
		regexp.MustCompile(`(?i)\binsert [a-z ]{1,30} here\b`),
		regexp.MustCompile(`(?i)\[(your |the )?(business|company|phone|address|email|name|city|website|url|price|date|time|hours)[^\]]*\]`),
	}

	supportPattern = regexp.MustCompile(`(?i)\b(customer (support|service|care)|support (team|ticket|agent|line)|help ?desk|contact (us|support)|live (agent|chat)|human (agent|operator)|speak (to|with) (a|an|our) (agent|representative|human|person)|transfer(red)? (you )?to|escalat\w*|hand ?off|representative|call cent(er|re)|technical support|tech support)\b`)

	supportScenarioPattern = regexp.MustCompile(`(?i)\b(complain\w*|refund\w*|troubleshoot\w*|broken|not working|cancel\w*|technical (issue|problem)|reset (my )?password|account (access|issue|problem)|billing (issue|dispute|error)|dispute|return (my|an|the) \w+)\b`)

	leadPattern = regexp.MustCompile(`(?i)\b(book\w*|appointment|schedul\w*|quote|estimate|pricing|price\w*|cost\w*|consult\w*|availab\w*|sign(ing)? ?up|enrol\w*|hire|hiring|buy\w*|purchas\w*|interested|inquir\w*|enquir\w*|reserv\w*|new (customer|client|patient)|get started|start\w* (service|treatment|lessons|classes))\b`)
)

// IsSupportThemedScenario reports whether a scenario is about support or
// after-sales issues rather than a new customer.
func IsSupportThemedScenario(s domain.Scenario) bool {
	text := s.Title + " " + s.Goal
	return supportPattern.MatchString(text) || supportScenarioPattern.MatchString(text)
}

// IsLeadQualificationScenario reports whether a scenario is a prospective
// customer the assistant should qualify. Support-themed scenarios never
// count, and hot leads always do.
func IsLeadQualificationScenario(s domain.Scenario) bool {
	if IsSupportThemedScenario(s) {
		return false
	}
	return s.LeadTemperature == domain.LeadHot || leadPattern.MatchString(s.Title+" "+s.Goal)
}

// ValidateGeneratorOutputQuality returns nil when out is usable, or a
// *QualityGateError naming the first rule it breaks. Rules are checked in
// a fixed order so the same output always yields the same reason.
func ValidateGeneratorOutputQuality(out domain.GeneratedOutput, c Constraints) error {
	lines := out.Fixture.Lines

	if genericTitlePattern.MatchString(out.Fixture.Title) {
		return gateFail("fixture title %q is a generic customer-support title; name the business and what it sells", out.Fixture.Title)
	}

	if len(lines) < c.FixtureMinLines {
		return gateFail("fixture has %d lines but at least %d are required", len(lines), c.FixtureMinLines)
	}

	for i, line := range lines {
		for _, p := range placeholderPatterns {
			if m := p.FindString(line); m != "" {
				return gateFail("fixture line %d contains placeholder text %q; write concrete business details", i+1, m)
			}
		}
	}

	if ratio := LineDiversity(lines); ratio < MinLineDiversity {
		return gateFail("fixture lines are repetitive (diversity %.2f, need at least %.2f); make each line state a different fact", ratio, MinLineDiversity)
	}

	support := 0
	for _, line := range lines {
		if supportPattern.MatchString(line) {
			support++
		}
	}
	if len(lines) > 0 {
		if rate := float64(support) / float64(len(lines)); rate > MaxSupportLineRate {
			return gateFail("%d of %d fixture lines are about support or handoff (%.0f%%, max %.0f%%); describe services, prices and policies instead",
				support, len(lines), rate*100, MaxSupportLineRate*100)
		}
	}

	core := 0
	for _, svc := range out.GroundTruth.CanonicalServices {
		if !supportPattern.MatchString(svc) {
			core++
		}
	}
	if core < MinCoreServices {
		return gateFail("ground truth lists %d non-support services; at least %d are required", core, MinCoreServices)
	}

	supportScenarios, leadScenarios := 0, 0
	for _, s := range out.Scenarios {
		if IsSupportThemedScenario(s) {
			supportScenarios++
		}
		if IsLeadQualificationScenario(s) {
			leadScenarios++
		}
	}
	if limit := MaxSupportScenarios(c.ScenarioCount); supportScenarios > limit {
		return gateFail("%d scenarios are support-themed; at most %d are allowed", supportScenarios, limit)
	}
	if need := MinLeadScenarios(c.ScenarioCount); leadScenarios < need {
		return gateFail("only %d scenarios are lead qualification (booking, pricing, quotes, availability); at least %d are required", leadScenarios, need)
	}
	return nil
}

// LineDiversity returns the share of lines that are not near duplicates of
// an earlier line. Lines are compared after case folding, punctuation
// removal and digit collapsing; two lines are near duplicates when their
// edit distance is at most 10% of the longer one.
func LineDiversity(lines []string) float64 {
	if len(lines) == 0 {
		return 0
	}
	type normLine struct {
		text  string
		runes int
		hist  map[rune]int
	}

	distinct := make([]normLine, 0, len(lines))
	exact := make(map[string]struct{}, len(lines))
	for _, line := range lines {
		n := normalizeForDiversity(line)
		if _, dup := exact[n]; dup {
			continue
		}
		exact[n] = struct{}{}

		cand := normLine{text: n, runes: utf8.RuneCountInString(n), hist: runeHistogram(n)}
		near := false
		for _, prev := range distinct {
			limit := max(cand.runes, prev.runes) / 10
			if abs(cand.runes-prev.runes) > limit {
				continue
			}
			if histogramBound(cand.hist, prev.hist) > limit {
				continue
			}
			if levenshtein.ComputeDistance(cand.text, prev.text) <= limit {
				near = true
				break
			}
		}
		if !near {
			distinct = append(distinct, cand)
		}
	}
	return float64(len(distinct)) / float64(len(lines))
}

func normalizeForDiversity(s string) string {
	folded := foldString(s)
	var b strings.Builder
	b.Grow(len(folded))
	inDigits := false
	for _, r := range folded {
		digit := unicode.IsDigit(r)
		switch {
		case digit && inDigits:
		case digit:
			b.WriteRune('#')
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
		inDigits = digit
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func runeHistogram(s string) map[rune]int {
	h := make(map[rune]int, 32)
	for _, r := range s {
		h[r]++
	}
	return h
}

// histogramBound is a lower bound on the edit distance between two strings
// with the given rune histograms.
func histogramBound(a, b map[rune]int) int {
	excess, deficit := 0, 0
	for r, n := range a {
		if d := n - b[r]; d > 0 {
			excess += d
		}
	}
	for r, n := range b {
		if d := n - a[r]; d > 0 {
			deficit += d
		}
	}
	return max(excess, deficit)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
