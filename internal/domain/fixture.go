package domain

// LeadTemperature describes how ready a simulated customer is to buy.
type LeadTemperature string

// Lead temperatures accepted in generated scenarios.
const (
	LeadHot  LeadTemperature = "hot"
	LeadWarm LeadTemperature = "warm"
	LeadCold LeadTemperature = "cold"
)

// LeadTemperatures lists all valid temperatures in report order.
var LeadTemperatures = []LeadTemperature{LeadHot, LeadWarm, LeadCold}

// InfoStance describes how willingly a simulated customer shares details.
type InfoStance string

// Information-sharing stances accepted in generated scenarios.
const (
	StanceCooperative InfoStance = "cooperative"
	StancePartial     InfoStance = "partial"
	StanceResistant   InfoStance = "resistant"
)

// InfoStances lists all valid stances in report order.
var InfoStances = []InfoStance{StanceCooperative, StancePartial, StanceResistant}

// BusinessHint is the synthetic business derived from a run id.
type BusinessHint struct {
	Sector      string `json:"sector"`
	SectorLabel string `json:"sector_label"`
	Name        string `json:"name"`
}

// KBFixture is the generated knowledge-base text standing in for a tenant's
// real knowledge base.
type KBFixture struct {
	Title string   `json:"title"`
	Lines []string `json:"lines"`
}

// GroundTruth is the answer key the judge scores transcripts against.
type GroundTruth struct {
	CanonicalServices          []string `json:"canonical_services"`
	RequiredIntakeFields       []string `json:"required_intake_fields"`
	CriticalPolicyFacts        []string `json:"critical_policy_facts"`
	DisallowedFabricatedClaims []string `json:"disallowed_fabricated_claims"`
}

// DerivedSetup is the assistant configuration re-derived from the fixture.
// It must agree with GroundTruth.
type DerivedSetup struct {
	ProfileSummary       string   `json:"profile_summary"`
	ServiceCatalog       []string `json:"service_catalog"`
	RequiredIntakeFields []string `json:"required_intake_fields"`
}

// Scenario is a scripted multi-turn customer conversation blueprint.
type Scenario struct {
	ID                 string          `json:"id"`
	Title              string          `json:"title"`
	Goal               string          `json:"goal"`
	CustomerProfile    string          `json:"customer_profile"`
	LeadTemperature    LeadTemperature `json:"lead_temperature"`
	InformationSharing InfoStance      `json:"information_sharing"`
	Turns              []string        `json:"turns"`
}

// GeneratedOutput is the normalized, strictly typed generator result.
type GeneratedOutput struct {
	Business     BusinessHint `json:"business"`
	Fixture      KBFixture    `json:"kb_fixture"`
	GroundTruth  GroundTruth  `json:"ground_truth"`
	DerivedSetup DerivedSetup `json:"derived_setup"`
	Scenarios    []Scenario   `json:"scenarios"`
}

// AttemptOutcome classifies how a single generator attempt ended.
type AttemptOutcome string

// Generator attempt outcomes.
const (
	AttemptOK              AttemptOutcome = "ok"
	AttemptRequestError    AttemptOutcome = "request_error"
	AttemptEmptyOutput     AttemptOutcome = "empty_output"
	AttemptInvalidJSON     AttemptOutcome = "invalid_json"
	AttemptQualityGate     AttemptOutcome = "quality_gate"
	AttemptBudgetExhausted AttemptOutcome = "budget_exhausted"
)

// AttemptDiagnostic records what happened during one generator attempt.
type AttemptDiagnostic struct {
	Attempt          int            `json:"attempt"`
	Outcome          AttemptOutcome `json:"outcome"`
	Error            string         `json:"error,omitempty"`
	FinishReason     string         `json:"finish_reason,omitempty"`
	PromptTokens     int            `json:"prompt_tokens"`
	CompletionTokens int            `json:"completion_tokens"`
	TotalTokens      int            `json:"total_tokens"`
	Preview          string         `json:"preview,omitempty"`
	Parsed           bool           `json:"parsed"`
}

// GenerationResult is what the generator stage leaves in State.
type GenerationResult struct {
	Output   GeneratedOutput     `json:"output"`
	Attempts []AttemptDiagnostic `json:"attempts"`
}
