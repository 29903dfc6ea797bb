package testutils

import (
	"encoding/json"
	"fmt"
)

// DentalFixtureLines is a pool of distinct, support-free knowledge-base
// lines that pass the generator quality gate.
var DentalFixtureLines = []string{
	"Bright Smile Dental is open Monday to Friday 8am-6pm and Saturday 9am-1pm.",
	"New patient exam with full x-rays costs $149 without insurance.",
	"Routine cleaning for existing patients is $95 and takes about 45 minutes.",
	"Teeth whitening in office: $399 per session, results in one visit.",
	"Take-home whitening trays are $249 including two gel refills.",
	"We accept Delta Dental, Cigna, MetLife and Aetna PPO plans.",
	"we do NOT take medicaid or HMO plans sorry",
	"Cancellations need 24 hrs notice or a $50 fee applies.",
	"Emergency toothache visits are held for same-day slots before 11am.",
	"Dr. Patel does implants; consult is free, implant starts at $3,200.",
	"Invisalign consults are free and treatment ranges $3,800-$5,500.",
	"Payment plans through CareCredit available for bills over $500.",
	"Kids under 12 get a free fluoride treatment with every cleaning.",
	"parking is free behind the building, entrance on Elm St",
	"Intake needs full name, date of birth, phone and insurance member ID.",
	"New patients should arrive 15 min early to fill out the health history.",
	"Deep cleaning (scaling and root planing) is $220 per quadrant.",
	"Fillings: composite tooth-colored only, from $180 per surface.",
	"Crowns are same-day with our CEREC machine, $1,150 each.",
	"Root canal on front teeth $850, molars $1,200, done by Dr. Kim.",
	"Night guards for grinding are custom made, $450, ready in 10 days.",
	"We see patients from age 3 and up, no infants.",
	"Sedation: nitrous oxide available for $75 add-on, no IV sedation.",
	"Xrays are taken once a year for adults unless something comes up.",
	"Office phone line opens at 7:45am for booking calls.",
	"Online booking works for cleanings and exams only, not procedures.",
	"Wisdom teeth are referred out to an oral surgeon on Main St.",
	"Veneers start at $1,100 per tooth, two visits needed.",
	"Senior discount 10% off cash prices for patients 65+.",
	"Membership plan: $299/yr covers 2 cleanings, exams and xrays.",
	"Late arrivals over 15 minutes may need to reschedule.",
	"Spanish spoken by two hygienists, ask when booking.",
	"Bonding for chipped teeth from $300 per tooth, single visit.",
	"Sports mouthguards in team colors are $120.",
	"Gift cards available in $50 increments for whitening.",
	"Pre-treatment estimates sent to insurance take about 2 weeks.",
	"Dentures full set $2,400, partials from $1,300.",
	"Bleeding gums or loose teeth are booked as a periodontal exam ($120).",
	"Free second opinion visits for implant or Invisalign quotes.",
	"Pregnant patients can have cleanings, xrays postponed until after birth.",
}

// DentalServices are the canonical services matching DentalFixtureLines.
var DentalServices = []string{
	"New patient exam",
	"Routine cleaning",
	"Teeth whitening",
	"Dental implants",
	"Invisalign",
	"Same-day crowns",
}

// dentalScenarios are lead-qualification scenarios.
var dentalScenarios = []struct {
	title, goal, temperature, stance string
	turns                             []string
}{
	{"Whitening price check", "Book a whitening session before a wedding", "hot", "cooperative", []string{
		"Hi, how much is teeth whitening?",
		"Can I book it for next Saturday?",
		"My name is Ana Lopez, 555-0199.",
		"Do you take Cigna?",
		"Great, what should I bring?",
		"Thanks!",
	}},
	{"New patient cleaning", "Schedule a first cleaning and exam", "warm", "partial", []string{
		"Are you taking new patients?",
		"What does a first visit cost without insurance?",
		"I'd rather not give my birthday yet.",
		"Fine, how early should I arrive?",
		"Is parking free?",
		"Ok book me Tuesday.",
	}},
	{"Implant quote", "Get a price quote for a single implant", "cold", "resistant", []string{
		"How much for an implant?",
		"That's a lot. Any payment plans?",
		"I'm just looking around.",
		"Is the consult free?",
		"Maybe later.",
		"Bye.",
	}},
	{"Invisalign consult", "Book a free Invisalign consultation", "warm", "cooperative", []string{
		"Do you do Invisalign?",
		"What's the price range?",
		"Can I book the free consult?",
		"Evenings work best.",
		"Saturday then.",
		"Thank you.",
	}},
	{"Kids cleaning", "Schedule cleanings for two children", "hot", "cooperative", []string{
		"Can I bring my kids, 5 and 8?",
		"Do they get fluoride?",
		"Book both for Friday afternoon please.",
		"Their insurance is Delta Dental.",
		"Great.",
		"See you then.",
	}},
	{"Crown estimate", "Get a quote for a same-day crown", "warm", "partial", []string{
		"I cracked a tooth, can you do a crown fast?",
		"How much is it?",
		"Will my insurance cover it?",
		"I'll share my member ID later.",
		"When is the next opening?",
		"Ok.",
	}},
}

// GeneratorFixture controls the payload built by GeneratorJSON.
type GeneratorFixture struct {
	Title     string
	Lines     int
	Scenarios int
	Turns     int

	// NoTurns leaves every scenario's turns empty.
	NoTurns bool
}

// GeneratorJSON returns a generator response that passes the quality gate
// for the given sizes. Lines and scenarios are taken from fixed pools, so
// Lines is capped at len(DentalFixtureLines) and Scenarios cycles the
// scenario pool with fresh ids.
func GeneratorJSON(f GeneratorFixture) string {
	title := f.Title
	if title == "" {
		title = "Bright Smile Dental front desk notes"
	}
	lines := DentalFixtureLines[:min(max(f.Lines, 0), len(DentalFixtureLines))]
	turns := min(max(f.Turns, 1), 6)

	scenarios := make([]map[string]any, 0, f.Scenarios)
	for i := range f.Scenarios {
		s := dentalScenarios[i%len(dentalScenarios)]
		scenarioTurns := s.turns[:turns]
		if f.NoTurns {
			scenarioTurns = []string{}
		}
		scenarios = append(scenarios, map[string]any{
			"id":                  fmt.Sprintf("s%d", i+1),
			"title":               s.title,
			"goal":                s.goal,
			"customer_profile":    "Local resident comparing dentists",
			"lead_temperature":    s.temperature,
			"information_sharing": s.stance,
			"turns":               scenarioTurns,
		})
	}

	payload := map[string]any{
		"kb_fixture": map[string]any{"title": title, "lines": lines},
		"ground_truth": map[string]any{
			"canonical_services":           DentalServices,
			"required_intake_fields":       []string{"full name", "date of birth", "phone", "insurance member ID"},
			"critical_policy_facts":        []string{"24 hour cancellation notice or $50 fee", "no Medicaid or HMO plans"},
			"disallowed_fabricated_claims": []string{"IV sedation", "Sunday hours"},
		},
		"derived_setup": map[string]any{
			"profile_summary":        "Family dental practice offering cleanings, whitening, implants and Invisalign.",
			"service_catalog":        DentalServices,
			"required_intake_fields": []string{"full name", "date of birth", "phone", "insurance member ID"},
		},
		"scenarios": scenarios,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	return string(b)
}

// JudgeFinding is a finding for JudgeJSON.
type JudgeFinding struct {
	Severity string
	Rule     string
}

// JudgeJSON returns a judge response with the given scores and findings.
func JudgeJSON(groundedness, extraction, conversation int, findings ...JudgeFinding) string {
	fs := make([]map[string]any, len(findings))
	for i, f := range findings {
		fs[i] = map[string]any{
			"severity":      f.Severity,
			"rule":          f.Rule,
			"evidence":      "Assistant: see transcript",
			"rationale":     "Not supported by the knowledge base",
			"suggested_fix": "Ground the answer in the fixture",
			"target_layer":  "prompt",
			"effort":        "low",
			"confidence":    0.8,
		}
	}
	payload := map[string]any{
		"summary": "Evaluated all executed cases.",
		"score_breakdown": map[string]any{
			"groundedness":         groundedness,
			"extraction_accuracy":  extraction,
			"conversation_quality": conversation,
		},
		"findings": fs,
		"top_actions": []map[string]any{
			{"priority": 1, "action": "Tighten the grounding instructions", "target_layer": "prompt", "effort": "low", "expected_impact": "Fewer unsupported claims"},
		},
	}
	b, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	return string(b)
}
