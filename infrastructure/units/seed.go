package units

import "github.com/ahrav/go-qalab/internal/domain"

// Sector is one synthetic business category the generator can be asked to
// invent a fixture for.
type Sector struct {
	Key        string
	Label      string
	NameSuffix string
}

// Sectors is the fixed catalog that run ids are hashed into. Order matters:
// changing it changes the business chosen for existing run ids.
var Sectors = []Sector{
	{Key: "dental_clinic", Label: "dental clinic", NameSuffix: "Dental Studio"},
	{Key: "hvac", Label: "heating and cooling contractor", NameSuffix: "Heating & Air"},
	{Key: "law_firm", Label: "family law firm", NameSuffix: "Legal Group"},
	{Key: "landscaping", Label: "landscaping company", NameSuffix: "Landscapes"},
	{Key: "veterinary", Label: "veterinary practice", NameSuffix: "Animal Hospital"},
	{Key: "auto_repair", Label: "auto repair shop", NameSuffix: "Auto Care"},
	{Key: "yoga_studio", Label: "yoga studio", NameSuffix: "Yoga Collective"},
	{Key: "real_estate", Label: "residential real estate agency", NameSuffix: "Realty"},
	{Key: "accounting", Label: "small-business accounting firm", NameSuffix: "Bookkeeping & Tax"},
	{Key: "photography", Label: "event photography studio", NameSuffix: "Photo Co."},
	{Key: "plumbing", Label: "plumbing service", NameSuffix: "Plumbing"},
	{Key: "moving", Label: "local moving company", NameSuffix: "Movers"},
}

var namePrefixes = []string{
	"Harbor", "Cedar", "Summit", "Bluebird", "Ironwood", "Maple",
	"Northstar", "Copper", "Willow", "Granite", "Lakeside", "Redwood",
}

// SeedIndex maps seed onto [0, modulus) with a 31-multiplier rolling hash
// over its bytes in uint32 arithmetic. It returns 0 when modulus <= 0.
func SeedIndex(seed string, modulus int) int {
	if modulus <= 0 {
		return 0
	}
	var h uint32
	for i := 0; i < len(seed); i++ {
		h = h*31 + uint32(seed[i])
	}
	return int(h % uint32(modulus))
}

// BusinessHintFor derives the synthetic business for a run. The same run id
// always yields the same business.
func BusinessHintFor(runID string) domain.BusinessHint {
	sector := Sectors[SeedIndex(runID, len(Sectors))]
	prefix := namePrefixes[SeedIndex(runID+":name", len(namePrefixes))]
	return domain.BusinessHint{
		Sector:      sector.Key,
		SectorLabel: sector.Label,
		Name:        prefix + " " + sector.NameSuffix,
	}
}
