// Package ports defines the interfaces between the run executor's
// application layer and its infrastructure: model clients, run storage,
// metrics, and the stages a run moves through.
package ports

import (
	"context"

	"github.com/ahrav/go-qalab/internal/domain"
)

// Unit is one stage of a run: the generator, the scenario executor or the
// judge. Implementations hold only configuration and may run concurrently
// for different runs.
type Unit interface {
	// Name is the stage name used in logs, metrics and budget attribution.
	Name() string

	// Execute derives a new State from state. The input is never mutated.
	// A returned error fails the run; a budget stop is recorded in the
	// returned state instead.
	Execute(ctx context.Context, state domain.State) (domain.State, error)

	// Validate reports configuration errors when the pipeline is built.
	Validate() error
}

// Executable is a Unit as seen by the pipeline: identified by a stable ID
// rather than a stage name.
type Executable interface {
	Execute(ctx context.Context, state domain.State) (domain.State, error)
	ID() string
}

// Pipeline runs executables in order, feeding each output state to the
// next.
type Pipeline interface {
	Executable
	Add(exec Executable) error
	// Executables returns the stages in order. Callers must not modify it.
	Executables() []Executable
}
