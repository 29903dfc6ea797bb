package units

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/ahrav/go-qalab/internal/domain"
	"github.com/ahrav/go-qalab/internal/ports"
)

const generatorSystemPrompt = `You create realistic test material for a small-business AI assistant.
You invent one fictitious small business, write the messy internal notes a
real owner would paste into a knowledge base, and script customers who
contact the business. Write concrete facts: real-sounding prices, hours,
service names, policies and intake requirements. Never use placeholders,
template markers or generic customer-support language. Respond with a
single JSON object and nothing else.`

const generatorUserPrompt = `Business: {{.Business.Name}}, a {{.Business.SectorLabel}}.

Constraints:
- Exactly {{.ScenarioCount}} scenarios.
- Each scenario has between {{.MinTurns}} and {{.MaxTurns}} customer turns.
- At least {{.MinLines}} knowledge-base lines, each stating a different fact.
- Line style mix: {{.Clean}}% clean, {{.SemiNoisy}}% semi-noisy (abbreviations, shorthand), {{.Messy}}% messy (typos, fragments, inconsistent casing).
- At least {{.MinLead}} scenarios are prospective customers to qualify (booking, pricing, quotes, availability).
- At most {{.MaxSupport}} scenarios may be support or complaint themed.
- At most 35% of lines may mention support, escalation or handing off to staff.
- At least 2 canonical services that are not support.
- derived_setup must agree with ground_truth and be derivable from the lines.
- lead_temperature is one of hot, warm, cold; information_sharing is one of cooperative, partial, resistant.

Return JSON with this shape:
{
  "kb_fixture": {"title": "string", "lines": ["string"]},
  "ground_truth": {
    "canonical_services": ["string"],
    "required_intake_fields": ["string"],
    "critical_policy_facts": ["string"],
    "disallowed_fabricated_claims": ["string"]
  },
  "derived_setup": {
    "profile_summary": "string",
    "service_catalog": ["string"],
    "required_intake_fields": ["string"]
  },
  "scenarios": [{
    "id": "string",
    "title": "string",
    "goal": "string",
    "customer_profile": "string",
    "lead_temperature": "hot|warm|cold",
    "information_sharing": "cooperative|partial|resistant",
    "turns": ["customer message"]
  }]
}
{{- if .LastError}}

The previous attempt was rejected because: {{.LastError}}
Fix that problem in this attempt.
{{- end}}`

var (
	generatorSystemTmpl = template.Must(template.New("generatorSystem").Funcs(GetTemplateFuncMap()).Parse(generatorSystemPrompt))
	generatorUserTmpl   = template.Must(template.New("generatorUser").Funcs(GetTemplateFuncMap()).Parse(generatorUserPrompt))
)

type generatorPromptData struct {
	Business      domain.BusinessHint
	ScenarioCount int
	MinTurns      int
	MaxTurns      int
	MinLines      int
	Clean         int
	SemiNoisy     int
	Messy         int
	MinLead       int
	MaxSupport    int
	LastError     string
}

// BuildGeneratorMessages renders the generation request. A non-empty
// lastError is fed back so the model can correct the previous attempt.
func BuildGeneratorMessages(hint domain.BusinessHint, c Constraints, lastError string) ([]ports.ChatMessage, error) {
	clean, semi, messy := c.StyleMix.Percentages()
	data := generatorPromptData{
		Business:      hint,
		ScenarioCount: c.ScenarioCount,
		MinTurns:      MinTurnsPerScenario,
		MaxTurns:      c.MaxTurns,
		MinLines:      c.FixtureMinLines,
		Clean:         clean,
		SemiNoisy:     semi,
		Messy:         messy,
		MinLead:       MinLeadScenarios(c.ScenarioCount),
		MaxSupport:    MaxSupportScenarios(c.ScenarioCount),
		LastError:     lastError,
	}

	var system, user bytes.Buffer
	if err := generatorSystemTmpl.Execute(&system, data); err != nil {
		return nil, fmt.Errorf("render generator system prompt: %w", err)
	}
	if err := generatorUserTmpl.Execute(&user, data); err != nil {
		return nil, fmt.Errorf("render generator prompt: %w", err)
	}
	return []ports.ChatMessage{
		{Role: ports.RoleSystem, Content: system.String()},
		{Role: ports.RoleUser, Content: user.String()},
	}, nil
}
