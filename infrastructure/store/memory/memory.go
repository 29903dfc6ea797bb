// Package memory provides an in-process ports.RunStore for tests and
// single-shot CLI runs.
package memory

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ahrav/go-qalab/internal/domain"
	"github.com/ahrav/go-qalab/internal/ports"
)

var _ ports.RunStore = (*Store)(nil)

// Store keeps runs in a map. Every read returns a copy, so callers never
// share a Run with the store.
type Store struct {
	mu   sync.RWMutex
	runs map[string]domain.Run
	now  func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{runs: make(map[string]domain.Run), now: time.Now}
}

// CreateRun inserts run. CreatedAt defaults to now.
func (s *Store) CreateRun(ctx context.Context, run domain.Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if run.ID == "" {
		return ports.NewStoreError("create run", run.ID, fmt.Errorf("run id is required"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return ports.NewStoreError("create run", run.ID, ports.ErrRunExists)
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = s.now().UTC()
	}
	s.runs[run.ID] = clone(run)
	return nil
}

// GetRun returns the run with id.
func (s *Store) GetRun(ctx context.Context, id string) (domain.Run, error) {
	if err := ctx.Err(); err != nil {
		return domain.Run{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return domain.Run{}, ports.NewStoreError("get run", id, ports.ErrRunNotFound)
	}
	return clone(run), nil
}

// MarkRunning moves a queued run to running.
func (s *Store) MarkRunning(ctx context.Context, id string, startedAt time.Time) (domain.Run, error) {
	if err := ctx.Err(); err != nil {
		return domain.Run{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return domain.Run{}, ports.NewStoreError("mark running", id, ports.ErrRunNotFound)
	}
	if run.Status != domain.RunStatusQueued {
		return domain.Run{}, ports.NewStoreError("mark running", id, domain.ErrRunConflict)
	}

	started := startedAt.UTC()
	run.Status = domain.RunStatusRunning
	run.StartedAt = &started
	s.runs[id] = run
	return clone(run), nil
}

// FinalizeRun applies the terminal write to a queued or running run.
func (s *Store) FinalizeRun(ctx context.Context, id string, outcome domain.RunOutcome) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !outcome.Status.IsTerminal() {
		return ports.NewStoreError("finalize run", id, fmt.Errorf("status %q is not terminal", outcome.Status))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return ports.NewStoreError("finalize run", id, ports.ErrRunNotFound)
	}
	if !run.Status.CanExecute() {
		return ports.NewStoreError("finalize run", id, domain.ErrRunConflict)
	}

	finished := outcome.FinishedAt.UTC()
	run.Status = outcome.Status
	run.Result = outcome.Result
	run.Report = bytes.Clone(outcome.Report)
	run.FinishedAt = &finished
	s.runs[id] = run
	return nil
}

// ListRuns returns runs oldest first. A zero Limit returns every match.
func (s *Store) ListRuns(ctx context.Context, filter ports.RunFilter) ([]domain.Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := make([]domain.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		out = append(out, clone(run))
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b domain.Run) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), strings.Compare(a.ID, b.ID))
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func clone(run domain.Run) domain.Run {
	run.Report = bytes.Clone(run.Report)
	if run.StartedAt != nil {
		t := *run.StartedAt
		run.StartedAt = &t
	}
	if run.FinishedAt != nil {
		t := *run.FinishedAt
		run.FinishedAt = &t
	}
	return run
}
