package units

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/ahrav/go-qalab/internal/domain"
)

// MinTurnsPerScenario is the lower bound on customer turns in a scenario
// that has any usable turns at all.
const MinTurnsPerScenario = 3

// Field limits applied while normalizing generator output.
const (
	maxTitleRunes   = 120
	maxLineRunes    = 400
	maxFactRunes    = 240
	maxSummaryRunes = 800
	maxTurnRunes    = 600
	maxIDRunes      = 64
	maxListItems    = 24
	maxFixtureLines = 400
)

// Constraints are the run parameters the generator output must satisfy.
type Constraints struct {
	ScenarioCount   int
	MaxTurns        int
	FixtureMinLines int
	StyleMix        domain.StyleMix
}

// ConstraintsFromRun extracts generation constraints from a run configuration.
func ConstraintsFromRun(cfg domain.RunConfig) Constraints {
	return Constraints{
		ScenarioCount:   cfg.ScenarioCount,
		MaxTurns:        cfg.MaxTurnsPerScenario,
		FixtureMinLines: cfg.FixtureMinLines,
		StyleMix:        cfg.FixtureStyleMix,
	}
}

// MinLeadScenarios returns how many lead-qualification scenarios a set of
// n scenarios must contain: max(2, ceil(0.6n)), capped at n.
func MinLeadScenarios(n int) int {
	return min(n, max(2, ceilRatio(n, 60)))
}

// MaxSupportScenarios returns how many support-themed scenarios a set of n
// scenarios may contain: ceil(0.35n).
func MaxSupportScenarios(n int) int { return ceilRatio(n, 35) }

// ceilRatio returns ceil(n*pct/100) in integer arithmetic.
func ceilRatio(n, pct int) int { return (n*pct + 99) / 100 }

// followUpTemplates pad short scenarios. %s receives the scenario goal.
var followUpTemplates = []string{
	"Thanks. To be clear, I'm trying to %s. What do you need from me?",
	"Okay, and if I go ahead and %s, what happens next?",
}

// NormalizeGeneratorOutput turns raw generator text into a typed
// GeneratedOutput. It fails only when the text holds no JSON object;
// everything else is clamped, trimmed or backfilled.
func NormalizeGeneratorOutput(raw string, hint domain.BusinessHint, c Constraints) (domain.GeneratedOutput, error) {
	root, err := parseObject(raw)
	if err != nil {
		return domain.GeneratedOutput{}, err
	}

	out := domain.GeneratedOutput{Business: hint}

	fixture := firstOf(root, "kb_fixture", "fixture", "knowledge_base")
	out.Fixture.Title = cleanText(fixture.Get("title").String(), maxTitleRunes)
	if out.Fixture.Title == "" {
		out.Fixture.Title = hint.Name + " knowledge base"
	}
	lines := stringList(fixture.Get("lines"), maxFixtureLines, maxLineRunes)
	out.Fixture.Lines = ExpandFixtureLinesToMinimum(lines, c.FixtureMinLines)

	gt := root.Get("ground_truth")
	out.GroundTruth = domain.GroundTruth{
		CanonicalServices:          stringList(gt.Get("canonical_services"), maxListItems, maxFactRunes),
		RequiredIntakeFields:       stringList(gt.Get("required_intake_fields"), maxListItems, maxFactRunes),
		CriticalPolicyFacts:        stringList(gt.Get("critical_policy_facts"), maxListItems, maxFactRunes),
		DisallowedFabricatedClaims: stringList(gt.Get("disallowed_fabricated_claims"), maxListItems, maxFactRunes),
	}

	ds := root.Get("derived_setup")
	out.DerivedSetup = domain.DerivedSetup{
		ProfileSummary:       cleanText(ds.Get("profile_summary").String(), maxSummaryRunes),
		ServiceCatalog:       stringList(ds.Get("service_catalog"), maxListItems, maxFactRunes),
		RequiredIntakeFields: stringList(ds.Get("required_intake_fields"), maxListItems, maxFactRunes),
	}
	backfillSetup(&out, hint)

	out.Scenarios = normalizeScenarios(root.Get("scenarios"), c)
	return out, nil
}

// backfillSetup makes the derived setup and ground truth agree where one
// side is missing.
func backfillSetup(out *domain.GeneratedOutput, hint domain.BusinessHint) {
	gt, ds := &out.GroundTruth, &out.DerivedSetup

	switch {
	case len(ds.ServiceCatalog) == 0:
		ds.ServiceCatalog = append([]string(nil), gt.CanonicalServices...)
	case len(gt.CanonicalServices) == 0:
		gt.CanonicalServices = append([]string(nil), ds.ServiceCatalog...)
	}
	switch {
	case len(ds.RequiredIntakeFields) == 0:
		ds.RequiredIntakeFields = append([]string(nil), gt.RequiredIntakeFields...)
	case len(gt.RequiredIntakeFields) == 0:
		gt.RequiredIntakeFields = append([]string(nil), ds.RequiredIntakeFields...)
	}

	if ds.ProfileSummary == "" && len(ds.ServiceCatalog) > 0 {
		services := ds.ServiceCatalog[:min(3, len(ds.ServiceCatalog))]
		ds.ProfileSummary = fmt.Sprintf("%s is a %s offering %s.",
			hint.Name, hint.SectorLabel, strings.Join(services, ", "))
	}
}

func normalizeScenarios(arr gjson.Result, c Constraints) []domain.Scenario {
	if !arr.IsArray() {
		return []domain.Scenario{}
	}
	items := arr.Array()
	scenarios := make([]domain.Scenario, 0, min(len(items), max(c.ScenarioCount, 0)))
	ids := make(map[string]int)

	for _, item := range items {
		if len(scenarios) >= c.ScenarioCount {
			break
		}
		if !item.IsObject() {
			continue
		}
		n := len(scenarios) + 1
		s := domain.Scenario{
			ID:                 cleanText(item.Get("id").String(), maxIDRunes),
			Title:              cleanText(item.Get("title").String(), maxTitleRunes),
			Goal:               cleanText(item.Get("goal").String(), maxFactRunes),
			CustomerProfile:    cleanText(firstOf(item, "customer_profile", "profile").String(), maxFactRunes),
			LeadTemperature:    normalizeTemperature(item.Get("lead_temperature").String()),
			InformationSharing: normalizeStance(item.Get("information_sharing").String()),
		}
		if s.ID == "" {
			s.ID = fmt.Sprintf("scenario-%d", n)
		}
		if seen := ids[s.ID]; seen > 0 {
			ids[s.ID] = seen + 1
			s.ID = fmt.Sprintf("%s-%d", s.ID, seen+1)
		}
		ids[s.ID]++
		if s.Title == "" {
			s.Title = fmt.Sprintf("Scenario %d", n)
		}
		if s.Goal == "" {
			s.Goal = "find out whether the business can help with " + lowerFirst(s.Title)
		}
		if s.CustomerProfile == "" {
			s.CustomerProfile = "A prospective customer contacting the business for the first time."
		}
		s.Turns = normalizeTurns(firstOf(item, "turns", "customer_turns", "messages"), s.Goal, c.MaxTurns)
		scenarios = append(scenarios, s)
	}
	return scenarios
}

// normalizeTurns clamps a scenario's customer turns to [3, maxTurns]. A
// scenario with no usable turns keeps none; the executor skips it.
func normalizeTurns(r gjson.Result, goal string, maxTurns int) []string {
	turns := make([]string, 0, maxTurns)
	if r.IsArray() {
		for _, v := range r.Array() {
			if t := cleanText(textOf(v), maxTurnRunes); t != "" {
				turns = append(turns, t)
			}
		}
	}
	if len(turns) > maxTurns {
		turns = turns[:maxTurns]
	}
	if len(turns) == 0 {
		return turns
	}

	phrase := lowerFirst(strings.TrimRight(goal, ".!? "))
	for i := 0; len(turns) < MinTurnsPerScenario; i++ {
		turns = append(turns, fmt.Sprintf(followUpTemplates[i%len(followUpTemplates)], phrase))
	}
	return turns
}

func normalizeTemperature(s string) domain.LeadTemperature {
	t := domain.LeadTemperature(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range domain.LeadTemperatures {
		if t == known {
			return t
		}
	}
	return domain.LeadWarm
}

func normalizeStance(s string) domain.InfoStance {
	st := domain.InfoStance(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range domain.InfoStances {
		if st == known {
			return st
		}
	}
	return domain.StanceCooperative
}
