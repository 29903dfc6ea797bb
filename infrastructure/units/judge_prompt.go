package units

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/ahrav/go-qalab/internal/domain"
	"github.com/ahrav/go-qalab/internal/ports"
)

const judgeSystemPrompt = `You audit conversations between a small-business AI assistant and
customers. The assistant may only use the business knowledge base. Score
the transcripts against the ground truth on three 0-100 scales:
- groundedness: every claim is supported by the knowledge base; nothing in
  the disallowed claims list is asserted.
- extraction_accuracy: the assistant collects the required intake fields
  and states the critical policy facts correctly.
- conversation_quality: replies are in the customer's language, concise,
  move qualified leads toward booking, ask at most one follow-up, and never
  push the customer to human support.

Report each defect as a finding with severity critical (fabricated
facts, wrong prices or policies), major (missed intake, unhelpful answers)
or minor (tone, verbosity). target_layer is kb when the knowledge base is
missing or unclear, prompt when the assistant's instructions caused it,
pipeline otherwise. effort is low, medium or high. confidence is 0-1.
List at most 5 top_actions ordered by priority (1 is most important).

Respond with a single JSON object:
{
  "summary": "string",
  "score_breakdown": {"groundedness": 0, "extraction_accuracy": 0, "conversation_quality": 0},
  "findings": [{"severity": "critical|major|minor", "rule": "string", "evidence": "quote", "rationale": "string", "suggested_fix": "string", "target_layer": "kb|prompt|pipeline", "effort": "low|medium|high", "confidence": 0.0}],
  "top_actions": [{"priority": 1, "action": "string", "target_layer": "kb|prompt|pipeline", "effort": "low|medium|high", "expected_impact": "string"}]
}`

const judgeUserPrompt = `Business: {{.Business.Name}} ({{.Business.SectorLabel}})

Knowledge base "{{.Fixture.Title}}":
{{- range $i, $line := .Fixture.Lines}}
[{{add $i 1}}] {{$line}}
{{- end}}

Ground truth
Canonical services:
{{bullets .GroundTruth.CanonicalServices}}
Required intake fields:
{{bullets .GroundTruth.RequiredIntakeFields}}
Critical policy facts:
{{bullets .GroundTruth.CriticalPolicyFacts}}
Disallowed fabricated claims:
{{bullets .GroundTruth.DisallowedFabricatedClaims}}

Assistant setup
Profile: {{.DerivedSetup.ProfileSummary}}
Service catalog: {{join .DerivedSetup.ServiceCatalog ", "}}
Intake fields: {{join .DerivedSetup.RequiredIntakeFields ", "}}
{{range .Cases}}
=== Case {{.ScenarioID}}: {{.Title}} ({{.LeadTemperature}} lead, {{.InformationSharing}})
Goal: {{.Goal}}
{{- if .StoppedEarly}}
(Conversation cut short: {{len .ExecutedTurns}} of {{.PlannedTurns}} turns.)
{{- end}}
{{- range .ExecutedTurns}}
Customer: {{.CustomerMessage}}
Assistant: {{.AssistantResponse}}
{{- end}}
{{end}}`

var (
	judgeSystemTmpl = template.Must(template.New("judgeSystem").Funcs(GetTemplateFuncMap()).Parse(judgeSystemPrompt))
	judgeUserTmpl   = template.Must(template.New("judgeUser").Funcs(GetTemplateFuncMap()).Parse(judgeUserPrompt))
)

type judgePromptData struct {
	Business     domain.BusinessHint
	Fixture      domain.KBFixture
	GroundTruth  domain.GroundTruth
	DerivedSetup domain.DerivedSetup
	Cases        []domain.ExecutedCase
}

// BuildJudgeMessages renders the evaluation request for the executed cases.
func BuildJudgeMessages(out domain.GeneratedOutput, cases []domain.ExecutedCase) ([]ports.ChatMessage, error) {
	data := judgePromptData{
		Business:     out.Business,
		Fixture:      out.Fixture,
		GroundTruth:  out.GroundTruth,
		DerivedSetup: out.DerivedSetup,
		Cases:        cases,
	}

	var system, user bytes.Buffer
	if err := judgeSystemTmpl.Execute(&system, data); err != nil {
		return nil, fmt.Errorf("judge: render system prompt: %w", err)
	}
	if err := judgeUserTmpl.Execute(&user, data); err != nil {
		return nil, fmt.Errorf("judge: render prompt: %w", err)
	}
	return []ports.ChatMessage{
		{Role: ports.RoleSystem, Content: system.String()},
		{Role: ports.RoleUser, Content: user.String()},
	}, nil
}
