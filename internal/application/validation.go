package application

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/ahrav/go-qalab/internal/domain"
)

var (
	runValidatorOnce sync.Once
	runValidator     *validator.Validate
	runValidatorErr  error
)

// RunConfigValidator returns the shared validator for run configuration.
// It carries the modelspec tag and the style-mix struct check in addition
// to the built-in tags on domain.RunConfig.
func RunConfigValidator() (*validator.Validate, error) {
	runValidatorOnce.Do(func() {
		v := validator.New()
		if err := RegisterCustomValidators(v); err != nil {
			runValidatorErr = err
			return
		}
		runValidator = v
	})
	return runValidator, runValidatorErr
}

// RegisterCustomValidators registers the run configuration validators with
// v.
func RegisterCustomValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("modelspec", validateModelSpec); err != nil {
		return fmt.Errorf("failed to register modelspec validator: %w", err)
	}
	v.RegisterStructValidation(validateStyleMix, domain.StyleMix{})
	return nil
}

// validateModelSpec accepts "model" or "provider/model". Neither part may
// be empty and the spec may not contain whitespace.
func validateModelSpec(fl validator.FieldLevel) bool {
	spec := fl.Field().String()
	if spec == "" || strings.ContainsAny(spec, " \t\r\n") {
		return false
	}

	provider, model, found := strings.Cut(spec, "/")
	if !found {
		return true
	}
	return provider != "" && model != "" && !strings.Contains(model, "/")
}

func validateStyleMix(sl validator.StructLevel) {
	mix, ok := sl.Current().Interface().(domain.StyleMix)
	if !ok {
		return
	}
	if mix.Total() <= 0 {
		sl.ReportError(mix.Clean, "Clean", "clean", "mixsum", "")
	}
}

// ValidateRunConfig checks cfg against the run configuration rules and
// returns a *domain.ValidationError listing every violation.
func ValidateRunConfig(cfg domain.RunConfig) error {
	v, err := RunConfigValidator()
	if err != nil {
		return err
	}

	err = v.Struct(cfg)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("run config validation: %w", err)
	}

	verr := domain.NewValidationError("run config")
	for _, fe := range fieldErrs {
		verr.AddError(describeFieldError(fe))
	}
	return verr
}

var fieldNames = map[string]string{
	"ScenarioCount":       "scenario_count",
	"MaxTurnsPerScenario": "max_turns_per_scenario",
	"FixtureMinLines":     "fixture_min_lines",
	"TokenBudget":         "token_budget",
	"GeneratorModel":      "generator_model",
	"JudgeModel":          "judge_model",
	"Clean":               "fixture_style_mix.clean",
	"SemiNoisy":           "fixture_style_mix.semi_noisy",
	"Messy":               "fixture_style_mix.messy",
}

func describeFieldError(fe validator.FieldError) string {
	name, ok := fieldNames[fe.StructField()]
	if !ok {
		name = fe.Field()
	}
	switch fe.Tag() {
	case "required":
		return name + " is required"
	case "min":
		return fmt.Sprintf("%s must be at least %s", name, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", name, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", name, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must not be negative", name)
	case "modelspec":
		return fmt.Sprintf("%s %q is not a valid model spec", name, fe.Value())
	case "mixsum":
		return "fixture_style_mix weights must have a positive sum"
	default:
		return fmt.Sprintf("%s failed %s", name, fe.Tag())
	}
}
