package application

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-qalab/internal/domain"
)

// Built-in preset names.
const (
	PresetQuick    = "quick"
	PresetStandard = "standard"
	PresetDeep     = "deep"
)

// Preset is a named bundle of run constraints. Models are chosen separately
// when a run is enqueued.
type Preset struct {
	ScenarioCount       int             `yaml:"scenario_count"`
	MaxTurnsPerScenario int             `yaml:"max_turns_per_scenario"`
	FixtureMinLines     int             `yaml:"fixture_min_lines"`
	FixtureStyleMix     domain.StyleMix `yaml:"fixture_style_mix"`
	TokenBudget         int             `yaml:"token_budget"`
}

// PresetCatalog maps preset names to their constraints.
type PresetCatalog map[string]Preset

// DefaultPresets returns the built-in catalog.
func DefaultPresets() PresetCatalog {
	return PresetCatalog{
		PresetQuick: {
			ScenarioCount:       3,
			MaxTurnsPerScenario: 4,
			FixtureMinLines:     20,
			FixtureStyleMix:     domain.StyleMix{Clean: 0.6, SemiNoisy: 0.3, Messy: 0.1},
			TokenBudget:         60_000,
		},
		PresetStandard: {
			ScenarioCount:       6,
			MaxTurnsPerScenario: 5,
			FixtureMinLines:     40,
			FixtureStyleMix:     domain.StyleMix{Clean: 0.5, SemiNoisy: 0.3, Messy: 0.2},
			TokenBudget:         150_000,
		},
		PresetDeep: {
			ScenarioCount:       12,
			MaxTurnsPerScenario: 6,
			FixtureMinLines:     80,
			FixtureStyleMix:     domain.StyleMix{Clean: 0.4, SemiNoisy: 0.35, Messy: 0.25},
			TokenBudget:         400_000,
		},
	}
}

type presetFile struct {
	Presets map[string]yaml.Node `yaml:"presets"`
}

// LoadPresets returns the built-in catalog overlaid with the presets in the
// YAML file at path. A preset in the file that shares a built-in name only
// replaces the fields it sets. An empty path returns the defaults.
func LoadPresets(path string) (PresetCatalog, error) {
	catalog := DefaultPresets()
	if path == "" {
		return catalog, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("presets: read %s: %w", path, err)
	}
	if err := catalog.merge(data); err != nil {
		return nil, fmt.Errorf("presets: %s: %w", path, err)
	}
	return catalog, nil
}

func (c PresetCatalog) merge(data []byte) error {
	var file presetFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	for name, node := range file.Presets {
		name = strings.TrimSpace(name)
		if name == "" {
			return fmt.Errorf("preset name cannot be empty")
		}
		preset := c[name]
		if err := node.Decode(&preset); err != nil {
			return fmt.Errorf("preset %s: %w", name, err)
		}
		if _, err := preset.RunConfig(name, "check/model", "check/model"); err != nil {
			return fmt.Errorf("preset %s: %w", name, err)
		}
		c[name] = preset
	}
	return nil
}

// Names returns the preset names in sorted order.
func (c PresetCatalog) Names() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// RunConfig builds a validated run configuration from the named preset.
func (c PresetCatalog) RunConfig(name, generatorModel, judgeModel string) (domain.RunConfig, error) {
	preset, ok := c[name]
	if !ok {
		return domain.RunConfig{}, fmt.Errorf("unknown preset %q (available: %s)", name, strings.Join(c.Names(), ", "))
	}
	return preset.RunConfig(name, generatorModel, judgeModel)
}

// RunConfig combines the preset's constraints with the chosen models and
// validates the result.
func (p Preset) RunConfig(name, generatorModel, judgeModel string) (domain.RunConfig, error) {
	cfg := domain.RunConfig{
		Preset:              name,
		ScenarioCount:       p.ScenarioCount,
		MaxTurnsPerScenario: p.MaxTurnsPerScenario,
		FixtureMinLines:     p.FixtureMinLines,
		FixtureStyleMix:     p.FixtureStyleMix,
		TokenBudget:         p.TokenBudget,
		GeneratorModel:      generatorModel,
		JudgeModel:          judgeModel,
	}
	if err := ValidateRunConfig(cfg); err != nil {
		return domain.RunConfig{}, err
	}
	return cfg, nil
}
