package units

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-qalab/internal/domain"
	"github.com/ahrav/go-qalab/internal/testutils"
)

var testHint = domain.BusinessHint{Sector: "dental_clinic", SectorLabel: "dental clinic", Name: "Harbor Dental Studio"}

func TestNormalizeGeneratorOutput_WellFormed(t *testing.T) {
	raw := testutils.GeneratorJSON(testutils.GeneratorFixture{Lines: 12, Scenarios: 5, Turns: 6})
	c := Constraints{ScenarioCount: 3, MaxTurns: 4, FixtureMinLines: 20}

	out, err := NormalizeGeneratorOutput(raw, testHint, c)
	require.NoError(t, err)

	assert.Equal(t, testHint, out.Business)
	assert.Equal(t, "Bright Smile Dental front desk notes", out.Fixture.Title)
	assert.Len(t, out.Fixture.Lines, 20, "short fixtures are expanded to the minimum")
	assert.Equal(t, testutils.DentalFixtureLines[:12], out.Fixture.Lines[:12])
	assert.Equal(t, testutils.DentalServices, out.GroundTruth.CanonicalServices)

	require.Len(t, out.Scenarios, 3, "scenarios are truncated to the requested count")
	for _, s := range out.Scenarios {
		assert.Len(t, s.Turns, 4, "turns are clamped to max turns")
	}
	assert.Equal(t, domain.LeadHot, out.Scenarios[0].LeadTemperature)
	assert.Equal(t, domain.StanceResistant, out.Scenarios[2].InformationSharing)
}

func TestNormalizeGeneratorOutput_Defensive(t *testing.T) {
	raw := "Sure! Here is the data:\n```json\n" + `{
  "fixture": {
    "title": "  Harbor   Dental\nnotes ",
    "lines": "- Cleanings are $95.\n\n* Whitening $399\n- cleanings are $95.\nOpen 8-6 weekdays"
  },
  "ground_truth": {
    "required_intake_fields": ["name", "", "phone", "Name"],
    "critical_policy_facts": [{"text": "24h cancellation notice"}]
  },
  "derived_setup": {
    "service_catalog": ["Cleaning", "Whitening", "Implants"]
  },
  "scenarios": [
    {"title": "Book cleaning", "goal": "Book a cleaning.", "lead_temperature": "LUKEWARM", "information_sharing": "chatty",
     "turns": [{"message": "Hi"}]},
    {"id": "dup", "title": "Whitening", "lead_temperature": "Hot", "turns": ["a", "b", "c", "d", "e", "f", "g", "h"]},
    "not an object",
    {"id": "dup", "goal": "Ask about implants", "information_sharing": " Partial ", "turns": ["", "   "]}
  ]
}` + "\n```"
	c := Constraints{ScenarioCount: 5, MaxTurns: 5, FixtureMinLines: 3}

	out, err := NormalizeGeneratorOutput(raw, testHint, c)
	require.NoError(t, err)

	assert.Equal(t, "Harbor Dental notes", out.Fixture.Title)
	assert.Equal(t, []string{"Cleanings are $95.", "Whitening $399", "Open 8-6 weekdays"}, out.Fixture.Lines)

	assert.Equal(t, []string{"name", "phone"}, out.GroundTruth.RequiredIntakeFields)
	assert.Equal(t, []string{"24h cancellation notice"}, out.GroundTruth.CriticalPolicyFacts)
	assert.Equal(t, []string{"Cleaning", "Whitening", "Implants"}, out.GroundTruth.CanonicalServices, "ground truth backfilled from derived setup")
	assert.Equal(t, []string{"name", "phone"}, out.DerivedSetup.RequiredIntakeFields, "derived setup backfilled from ground truth")
	assert.Equal(t, "Harbor Dental Studio is a dental clinic offering Cleaning, Whitening, Implants.", out.DerivedSetup.ProfileSummary)
	assert.Empty(t, out.GroundTruth.DisallowedFabricatedClaims)
	assert.NotNil(t, out.GroundTruth.DisallowedFabricatedClaims)

	require.Len(t, out.Scenarios, 3)

	first := out.Scenarios[0]
	assert.Equal(t, "scenario-1", first.ID)
	assert.Equal(t, domain.LeadWarm, first.LeadTemperature)
	assert.Equal(t, domain.StanceCooperative, first.InformationSharing)
	assert.NotEmpty(t, first.CustomerProfile)
	require.Len(t, first.Turns, 3, "short scenarios are padded to three turns")
	assert.Equal(t, "Hi", first.Turns[0])
	assert.Contains(t, first.Turns[1], "book a cleaning")
	assert.NotEqual(t, first.Turns[1], first.Turns[2])

	second := out.Scenarios[1]
	assert.Equal(t, "dup", second.ID)
	assert.Equal(t, domain.LeadHot, second.LeadTemperature)
	assert.Len(t, second.Turns, 5)
	assert.NotEmpty(t, second.Goal)

	third := out.Scenarios[2]
	assert.Equal(t, "dup-2", third.ID)
	assert.Equal(t, "Scenario 3", third.Title)
	assert.Equal(t, domain.StancePartial, third.InformationSharing)
	assert.Empty(t, third.Turns, "scenarios with no usable turns keep none")
}

func TestNormalizeGeneratorOutput_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{name: "prose only", raw: "I could not generate that.", want: ErrNoJSON},
		{name: "trailing comma", raw: `{"kb_fixture": {"title": "x",}}`, want: ErrMalformedJSON},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NormalizeGeneratorOutput(tt.raw, testHint, Constraints{ScenarioCount: 1, MaxTurns: 3, FixtureMinLines: 5})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestNormalizeGeneratorOutput_Defaults(t *testing.T) {
	out, err := NormalizeGeneratorOutput(`{}`, testHint, Constraints{ScenarioCount: 2, MaxTurns: 3, FixtureMinLines: 5})
	require.NoError(t, err)

	assert.Equal(t, "Harbor Dental Studio knowledge base", out.Fixture.Title)
	assert.Empty(t, out.Fixture.Lines)
	assert.NotNil(t, out.Scenarios)
	assert.Empty(t, out.Scenarios)
	assert.Empty(t, out.DerivedSetup.ProfileSummary)
}

// Every scenario with usable turns ends up with 3..MaxTurns turns.
func TestNormalizeGeneratorOutput_TurnBounds(t *testing.T) {
	for maxTurns := 3; maxTurns <= 6; maxTurns++ {
		for n := 1; n <= 9; n++ {
			turns := make([]string, n)
			for i := range turns {
				turns[i] = `"turn ` + strings.Repeat("x", i+1) + `"`
			}
			raw := `{"scenarios": [{"goal": "Get a quote", "turns": [` + strings.Join(turns, ",") + `]}]}`

			out, err := NormalizeGeneratorOutput(raw, testHint, Constraints{ScenarioCount: 1, MaxTurns: maxTurns, FixtureMinLines: 5})
			require.NoError(t, err)
			require.Len(t, out.Scenarios, 1)
			got := len(out.Scenarios[0].Turns)
			assert.GreaterOrEqual(t, got, MinTurnsPerScenario, "max=%d n=%d", maxTurns, n)
			assert.LessOrEqual(t, got, maxTurns, "max=%d n=%d", maxTurns, n)
		}
	}
}

func TestScenarioThresholds(t *testing.T) {
	tests := []struct {
		n, minLead, maxSupport int
	}{
		{1, 1, 1},
		{2, 2, 1},
		{3, 2, 2},
		{4, 3, 2},
		{5, 3, 2},
		{6, 4, 3},
		{10, 6, 4},
		{12, 8, 5},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.minLead, MinLeadScenarios(tt.n), "MinLeadScenarios(%d)", tt.n)
		assert.Equal(t, tt.maxSupport, MaxSupportScenarios(tt.n), "MaxSupportScenarios(%d)", tt.n)
	}
}
