// Package storetest holds the behaviour every ports.RunStore must share.
// Store packages call Run from their own tests.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-qalab/internal/domain"
	"github.com/ahrav/go-qalab/internal/ports"
)

// Factory returns an empty store. It is called once per subtest.
type Factory func(t *testing.T) ports.RunStore

// QueuedRun returns a valid queued run with the given id.
func QueuedRun(id string, createdAt time.Time) domain.Run {
	return domain.Run{
		ID: id,
		Config: domain.RunConfig{
			Preset:              "quick",
			ScenarioCount:       3,
			MaxTurnsPerScenario: 4,
			FixtureMinLines:     20,
			FixtureStyleMix:     domain.StyleMix{Clean: 0.6, SemiNoisy: 0.3, Messy: 0.1},
			TokenBudget:         60_000,
			GeneratorModel:      "openai/gpt-4o-mini",
			JudgeModel:          "anthropic/claude-3-5-haiku-latest",
		},
		Status:    domain.RunStatusQueued,
		Result:    domain.RunResultPending,
		CreatedAt: createdAt,
	}
}

// Run exercises newStore against the RunStore contract.
func Run(t *testing.T, newStore Factory) {
	t.Helper()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("create and get", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		run := QueuedRun("run-create", base)
		require.NoError(t, store.CreateRun(ctx, run))

		got, err := store.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, run.ID, got.ID)
		assert.Equal(t, run.Config, got.Config)
		assert.Equal(t, domain.RunStatusQueued, got.Status)
		assert.Equal(t, domain.RunResultPending, got.Result)
		assert.True(t, got.CreatedAt.Equal(base))
		assert.Nil(t, got.StartedAt)
		assert.Nil(t, got.FinishedAt)
		assert.Empty(t, got.Report)

		err = store.CreateRun(ctx, run)
		assert.ErrorIs(t, err, ports.ErrRunExists)
	})

	t.Run("get missing run", func(t *testing.T) {
		_, err := newStore(t).GetRun(context.Background(), "nope")
		assert.ErrorIs(t, err, ports.ErrRunNotFound)
	})

	t.Run("mark running is conditional", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		require.NoError(t, store.CreateRun(ctx, QueuedRun("run-mark", base)))

		started := base.Add(time.Minute)
		run, err := store.MarkRunning(ctx, "run-mark", started)
		require.NoError(t, err)
		assert.Equal(t, domain.RunStatusRunning, run.Status)
		require.NotNil(t, run.StartedAt)
		assert.True(t, run.StartedAt.Equal(started))

		_, err = store.MarkRunning(ctx, "run-mark", started)
		assert.ErrorIs(t, err, domain.ErrRunConflict)

		_, err = store.MarkRunning(ctx, "missing", started)
		assert.ErrorIs(t, err, ports.ErrRunNotFound)
	})

	t.Run("finalize writes once", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		require.NoError(t, store.CreateRun(ctx, QueuedRun("run-final", base)))
		_, err := store.MarkRunning(ctx, "run-final", base.Add(time.Minute))
		require.NoError(t, err)

		report := json.RawMessage(`{"version":"v1","judge":{"summary":"ok"}}`)
		finished := base.Add(2 * time.Minute)
		outcome := domain.RunOutcome{
			Status:     domain.RunStatusCompleted,
			Result:     domain.RunResultPassWithFindings,
			Report:     report,
			FinishedAt: finished,
		}
		require.NoError(t, store.FinalizeRun(ctx, "run-final", outcome))

		got, err := store.GetRun(ctx, "run-final")
		require.NoError(t, err)
		assert.Equal(t, domain.RunStatusCompleted, got.Status)
		assert.Equal(t, domain.RunResultPassWithFindings, got.Result)
		assert.JSONEq(t, string(report), string(got.Report))
		require.NotNil(t, got.FinishedAt)
		assert.True(t, got.FinishedAt.Equal(finished))

		outcome.Status = domain.RunStatusFailed
		err = store.FinalizeRun(ctx, "run-final", outcome)
		assert.ErrorIs(t, err, domain.ErrRunConflict)

		got, err = store.GetRun(ctx, "run-final")
		require.NoError(t, err)
		assert.Equal(t, domain.RunStatusCompleted, got.Status, "the first terminal write wins")

		err = store.FinalizeRun(ctx, "missing", outcome)
		assert.ErrorIs(t, err, ports.ErrRunNotFound)
	})

	t.Run("finalize a queued run", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		require.NoError(t, store.CreateRun(ctx, QueuedRun("run-queued", base)))

		err := store.FinalizeRun(ctx, "run-queued", domain.RunOutcome{
			Status:     domain.RunStatusFailed,
			Result:     domain.RunResultPending,
			Report:     json.RawMessage(`{"version":"v1","error":{"message":"boom"}}`),
			FinishedAt: base,
		})
		require.NoError(t, err)
	})

	t.Run("finalize rejects non-terminal status", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		require.NoError(t, store.CreateRun(ctx, QueuedRun("run-bad", base)))

		err := store.FinalizeRun(ctx, "run-bad", domain.RunOutcome{Status: domain.RunStatusRunning, FinishedAt: base})
		assert.Error(t, err)

		got, err := store.GetRun(ctx, "run-bad")
		require.NoError(t, err)
		assert.Equal(t, domain.RunStatusQueued, got.Status)
	})

	t.Run("list filters and orders", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		for i, id := range []string{"run-c", "run-a", "run-b"} {
			require.NoError(t, store.CreateRun(ctx, QueuedRun(id, base.Add(time.Duration(i)*time.Second))))
		}
		_, err := store.MarkRunning(ctx, "run-a", base)
		require.NoError(t, err)

		queued, err := store.ListRuns(ctx, ports.RunFilter{Status: domain.RunStatusQueued})
		require.NoError(t, err)
		assert.Equal(t, []string{"run-c", "run-b"}, ids(queued), "oldest first")

		limited, err := store.ListRuns(ctx, ports.RunFilter{Status: domain.RunStatusQueued, Limit: 1})
		require.NoError(t, err)
		assert.Equal(t, []string{"run-c"}, ids(limited))

		all, err := store.ListRuns(ctx, ports.RunFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 3)

		none, err := store.ListRuns(ctx, ports.RunFilter{Status: domain.RunStatusFailed})
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("concurrent pickup has one winner", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		require.NoError(t, store.CreateRun(ctx, QueuedRun("run-race", base)))

		const workers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			winners   int
			conflicts int
		)
		for i := range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.MarkRunning(ctx, "run-race", base.Add(time.Duration(i)*time.Millisecond))
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					winners++
				case errors.Is(err, domain.ErrRunConflict):
					conflicts++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, winners)
		assert.Equal(t, workers-1, conflicts)
	})
}

func ids(runs []domain.Run) []string {
	out := make([]string, len(runs))
	for i, r := range runs {
		out[i] = r.ID
	}
	return out
}
