package units

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/go-qalab/internal/domain"
	"github.com/ahrav/go-qalab/internal/ports"
)

var _ ports.Unit = (*ScenarioExecutorUnit)(nil)

// ScenarioExecutorUnit replays every generated scenario against a grounded
// Responder and writes the transcripts to domain.KeyExecutedCases.
//
// The budget is checked before each turn. Once it is exhausted the current
// case is cut short, no further scenarios start, and the run is marked
// budget-stopped. Responder failures are fatal.
type ScenarioExecutorUnit struct {
	name    string
	client  ports.LLMClient
	tracker ports.TokenBudget
	config  ResponderConfig
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewScenarioExecutorUnit creates an executor whose Responder uses client.
func NewScenarioExecutorUnit(
	name string,
	client ports.LLMClient,
	tracker ports.TokenBudget,
	config ResponderConfig,
	logger *slog.Logger,
) (*ScenarioExecutorUnit, error) {
	if name == "" {
		return nil, ErrEmptyUnitName
	}
	if client == nil {
		return nil, ErrNilClient
	}
	if tracker == nil {
		return nil, ErrNilTracker
	}
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ScenarioExecutorUnit{
		name:    name,
		client:  client,
		tracker: tracker,
		config:  config,
		logger:  logger,
		tracer:  otel.Tracer("scenario-executor-unit"),
	}, nil
}

// Name returns the unique identifier for this unit instance.
func (u *ScenarioExecutorUnit) Name() string { return u.name }

// Execute runs the scenarios in generation order.
func (u *ScenarioExecutorUnit) Execute(ctx context.Context, state domain.State) (domain.State, error) {
	gen, ok := domain.Get(state, domain.KeyGeneration)
	if !ok {
		return state, domain.MissingState(domain.KeyGeneration, u.name)
	}

	log := u.logger.With("stage", u.name)
	if run, ok := domain.Get(state, domain.KeyRun); ok {
		log = log.With("run_id", run.ID)
	}

	responder, err := NewResponder(u.client, u.tracker, gen.Output, u.config)
	if err != nil {
		return state, fmt.Errorf("executor: %w", err)
	}

	cases := make([]domain.ExecutedCase, 0, len(gen.Output.Scenarios))
	stopped := false
	for _, scenario := range gen.Output.Scenarios {
		c, exhausted, err := u.runScenario(ctx, responder, scenario)
		if err != nil {
			return state, err
		}
		if len(c.ExecutedTurns) > 0 {
			cases = append(cases, c)
		} else if !exhausted {
			log.Warn("scenario has no usable turns", "scenario_id", scenario.ID)
		}
		if exhausted {
			stopped = true
			log.Warn("token budget exhausted during execution",
				"scenario_id", scenario.ID,
				"executed_turns", len(c.ExecutedTurns),
				"cases", len(cases))
			break
		}
	}

	log.Info("scenario execution finished",
		"cases", len(cases),
		"turns", domain.CountTurns(cases),
		"budget_stopped", stopped)

	state = domain.With(state, domain.KeyExecutedCases, cases)
	if stopped {
		state = state.MarkBudgetStopped(u.name)
	}
	return state, nil
}

// runScenario drives one scenario. exhausted reports that the budget ran
// out before a turn, in which case the returned case may be partial.
func (u *ScenarioExecutorUnit) runScenario(
	ctx context.Context,
	responder *Responder,
	scenario domain.Scenario,
) (c domain.ExecutedCase, exhausted bool, err error) {
	ctx, span := u.tracer.Start(ctx, "ScenarioExecutorUnit.scenario",
		trace.WithAttributes(
			attribute.String("unit.id", u.name),
			attribute.String("scenario.id", scenario.ID),
		),
	)
	defer span.End()

	c = domain.ExecutedCase{
		ScenarioID:         scenario.ID,
		Title:              scenario.Title,
		Goal:               scenario.Goal,
		LeadTemperature:    scenario.LeadTemperature,
		InformationSharing: scenario.InformationSharing,
		ExecutedTurns:      make([]domain.ExecutedTurn, 0, len(scenario.Turns)),
	}

	var history History
	for _, msg := range scenario.Turns {
		msg = strings.TrimSpace(msg)
		if msg == "" {
			continue
		}
		c.PlannedTurns++
	}
	if c.PlannedTurns == 0 {
		return c, false, nil
	}

	for _, msg := range scenario.Turns {
		msg = strings.TrimSpace(msg)
		if msg == "" {
			continue
		}
		if u.tracker.IsExhausted() {
			c.StoppedEarly = true
			span.SetAttributes(attribute.Bool("stopped_early", true))
			return c, true, nil
		}

		reply, err := responder.Respond(ctx, history, msg)
		if err != nil {
			span.RecordError(err)
			return c, false, fmt.Errorf("executor: scenario %s turn %d: %w", scenario.ID, len(c.ExecutedTurns)+1, err)
		}

		c.ExecutedTurns = append(c.ExecutedTurns, domain.ExecutedTurn{
			CustomerMessage:   msg,
			AssistantResponse: reply.Text,
			Usage:             reply.Usage,
			FinishReason:      reply.FinishReason,
			ContextLines:      reply.Context.Indices,
			NoRelevantContext: reply.Context.NoRelevantContext,
		})
		history = history.Append(msg, reply.Text)
	}

	span.SetAttributes(attribute.Int("turns", len(c.ExecutedTurns)))
	return c, false, nil
}

// Validate checks if the unit is properly configured and ready for execution.
func (u *ScenarioExecutorUnit) Validate() error {
	if u.client == nil {
		return fmt.Errorf("unit %s: LLM client is not configured", u.name)
	}
	if u.tracker == nil {
		return fmt.Errorf("unit %s: token tracker is not configured", u.name)
	}
	if err := validate.Struct(u.config); err != nil {
		return fmt.Errorf("unit %s: configuration validation failed: %w", u.name, err)
	}
	return nil
}
