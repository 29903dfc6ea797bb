// Package application orchestrates QA Lab runs: it assembles the
// generator, scenario executor and judge into a pipeline, drives a run from
// queued to its single terminal write, and builds the persisted report.
package application

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/ahrav/go-qalab/internal/domain"
	"github.com/ahrav/go-qalab/internal/ports"
)

var _ ports.Pipeline = (*Pipeline)(nil)

// Pipeline runs its stages one after another, handing each the state the
// previous one returned. A run's stages never overlap.
type Pipeline struct {
	id string

	mu     sync.RWMutex
	stages []ports.Executable
}

func NewPipeline(id string) *Pipeline { return &Pipeline{id: id} }

// Execute stops at the first failing stage and returns the last good state
// with an error naming that stage. Cancellation is checked between stages;
// stages watch ctx themselves while running.
func (p *Pipeline) Execute(ctx context.Context, state domain.State) (domain.State, error) {
	for _, stage := range p.Executables() {
		if err := ctx.Err(); err != nil {
			return state, fmt.Errorf("pipeline %s: cancelled before %s: %w", p.id, stage.ID(), err)
		}
		next, err := stage.Execute(ctx, state)
		if err != nil {
			return state, fmt.Errorf("pipeline %s: %s: %w", p.id, stage.ID(), err)
		}
		state = next
	}
	return state, nil
}

func (p *Pipeline) ID() string { return p.id }

// Add appends exec. IDs must be unique within the pipeline.
func (p *Pipeline) Add(exec ports.Executable) error {
	if exec == nil {
		return errors.New("cannot add nil executable to pipeline")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	id := exec.ID()
	if slices.ContainsFunc(p.stages, func(e ports.Executable) bool { return e.ID() == id }) {
		return fmt.Errorf("stage %s already exists in pipeline %s", id, p.id)
	}
	p.stages = append(p.stages, exec)
	return nil
}

// Executables returns a copy of the stages in order.
func (p *Pipeline) Executables() []ports.Executable {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.stages)
}

// NewStagePipeline validates each unit and adds it to a new pipeline in
// the order given.
func NewStagePipeline(id string, units ...ports.Unit) (*Pipeline, error) {
	p := NewPipeline(id)
	for _, u := range units {
		if u == nil {
			return nil, fmt.Errorf("pipeline %s: nil unit", id)
		}
		if err := u.Validate(); err != nil {
			return nil, fmt.Errorf("pipeline %s: %w", id, err)
		}
		if err := p.Add(NewUnitAdapter(u, u.Name())); err != nil {
			return nil, fmt.Errorf("pipeline %s: %w", id, err)
		}
	}
	return p, nil
}
