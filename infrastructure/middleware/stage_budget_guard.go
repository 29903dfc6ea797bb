// Package middleware provides the per-run token ledger and the wrappers that
// observe budget consumption around each pipeline stage.
package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/ahrav/go-qalab/internal/domain"
	"github.com/ahrav/go-qalab/internal/ports"
)

// BudgetObserver provides observability hooks for stage budget accounting.
// Implementations add tracing and metrics without coupling them to the
// stages themselves.
type BudgetObserver interface {
	// PreCheck is called before the stage runs. The returned context is
	// passed to the stage and to PostCheck.
	PreCheck(ctx context.Context, stage string, before domain.BudgetSnapshot) context.Context

	// PostCheck is called after the stage with the tokens it consumed.
	PostCheck(ctx context.Context, stage string, before, after domain.BudgetSnapshot, elapsed time.Duration, err error)
}

// StageBudgetGuard wraps a unit and attributes the tokens consumed while it
// runs. It never aborts the stage: every stage checks the ledger itself
// before each call it makes and records its own budget stop in state.
type StageBudgetGuard struct {
	tracker  ports.TokenBudget
	next     ports.Unit
	observer BudgetObserver
}

var _ ports.Unit = (*StageBudgetGuard)(nil)

// NewStageBudgetGuard creates a guard around next. The observer is optional.
func NewStageBudgetGuard(tracker ports.TokenBudget, next ports.Unit, observer BudgetObserver) *StageBudgetGuard {
	if next == nil {
		panic("stage budget guard: next unit is required")
	}
	return &StageBudgetGuard{
		tracker:  tracker,
		next:     next,
		observer: observer,
	}
}

// Name returns the wrapped unit's name so logs and metrics attribute usage
// to the stage.
func (g *StageBudgetGuard) Name() string { return g.next.Name() }

// Execute runs the wrapped unit between two ledger snapshots.
func (g *StageBudgetGuard) Execute(ctx context.Context, state domain.State) (domain.State, error) {
	before := g.tracker.Snapshot()
	if g.observer != nil {
		ctx = g.observer.PreCheck(ctx, g.next.Name(), before)
	}

	start := time.Now()
	newState, err := g.next.Execute(ctx, state)
	elapsed := time.Since(start)

	after := g.tracker.Snapshot()
	if g.observer != nil {
		g.observer.PostCheck(ctx, g.next.Name(), before, after, elapsed, err)
	}
	return newState, err
}

// Validate checks the guard and the wrapped unit.
func (g *StageBudgetGuard) Validate() error {
	if g.tracker == nil {
		return fmt.Errorf("stage budget guard: tracker is required")
	}
	return g.next.Validate()
}
