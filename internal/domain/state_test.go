package domain

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewState verifies that a fresh State is empty and usable.
func TestNewState(t *testing.T) {
	state := NewState()

	assert.Empty(t, state.Keys(), "NewState() should have no keys.")
	_, ok := Get(state, KeyRun)
	assert.False(t, ok, "NewState() should not contain a run.")
	assert.False(t, state.BudgetStopped(), "NewState() should not be budget stopped.")
}

func TestState_Get(t *testing.T) {
	tests := []struct {
		name   string
		setup  func() State
		assert func(*testing.T, State)
	}{
		{
			name:  "missing key",
			setup: NewState,
			assert: func(t *testing.T, state State) {
				_, ok := Get(state, KeyJudge)
				assert.False(t, ok, "Get() should not find an unset key.")
			},
		},
		{
			name: "run value",
			setup: func() State {
				return With(NewState(), KeyRun, Run{
					ID:     "run-1",
					Status: RunStatusRunning,
					Config: RunConfig{ScenarioCount: 3, TokenBudget: 5000},
				})
			},
			assert: func(t *testing.T, state State) {
				got, ok := Get(state, KeyRun)
				require.True(t, ok, "Get() should find the run.")
				assert.Equal(t, "run-1", got.ID)
				assert.Equal(t, RunStatusRunning, got.Status)
				assert.Equal(t, 5000, got.Config.TokenBudget)
			},
		},
		{
			name: "executed cases slice",
			setup: func() State {
				cases := []ExecutedCase{
					{ScenarioID: "s1", ExecutedTurns: []ExecutedTurn{{CustomerMessage: "hi"}}},
					{ScenarioID: "s2"},
				}
				return With(NewState(), KeyExecutedCases, cases)
			},
			assert: func(t *testing.T, state State) {
				got, ok := Get(state, KeyExecutedCases)
				require.True(t, ok, "Get() should find the cases.")
				assert.Len(t, got, 2)
				assert.Equal(t, "hi", got[0].ExecutedTurns[0].CustomerMessage)
			},
		},
		{
			name: "skipped judge result",
			setup: func() State {
				return With(NewState(), KeyJudge, SkippedJudgeResult(SkipNoCasesExecuted))
			},
			assert: func(t *testing.T, state State) {
				got, ok := Get(state, KeyJudge)
				require.True(t, ok, "Get() should find the judge result.")
				require.NotNil(t, got.SkippedReason)
				assert.Equal(t, SkipNoCasesExecuted, *got.SkippedReason)
				assert.Empty(t, got.Findings)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.assert(t, tt.setup())
		})
	}
}

// TestState_With verifies that With never modifies the receiver.
func TestState_With(t *testing.T) {
	original := NewState()
	updated := With(original, KeyBudgetStoppedBy, "generator")

	_, ok := Get(original, KeyBudgetStoppedBy)
	assert.False(t, ok, "With() should not modify the original state.")

	got, ok := Get(updated, KeyBudgetStoppedBy)
	require.True(t, ok)
	assert.Equal(t, "generator", got)

	updated2 := With(updated, KeyBudgetStoppedBy, "judge")
	v, _ := Get(updated, KeyBudgetStoppedBy)
	assert.Equal(t, "generator", v, "With() should not modify the previous state when updating.")
	v2, _ := Get(updated2, KeyBudgetStoppedBy)
	assert.Equal(t, "judge", v2)
}

func TestState_Keys(t *testing.T) {
	state := With(With(NewState(),
		KeyRun, Run{ID: "r"}),
		KeyJudge, JudgeResult{Summary: "ok"})

	assert.Equal(t, []string{KeyJudge.Name(), KeyRun.Name()}, state.Keys(), "Keys() should be sorted.")
}

// TestState_Immutability verifies that callers cannot reach State data
// through slices they passed in or got back.
func TestState_Immutability(t *testing.T) {
	cases := []ExecutedCase{{
		ScenarioID:    "s1",
		ExecutedTurns: []ExecutedTurn{{CustomerMessage: "original", ContextLines: []int{1, 2}}},
	}}
	state := With(NewState(), KeyExecutedCases, cases)

	cases[0].ExecutedTurns[0].CustomerMessage = "modified"
	cases[0].ExecutedTurns[0].ContextLines[0] = 99

	retrieved, ok := Get(state, KeyExecutedCases)
	require.True(t, ok)
	assert.Equal(t, "original", retrieved[0].ExecutedTurns[0].CustomerMessage)
	assert.Equal(t, 1, retrieved[0].ExecutedTurns[0].ContextLines[0])

	retrieved[0].ScenarioID = "changed"
	again, _ := Get(state, KeyExecutedCases)
	assert.Equal(t, "s1", again[0].ScenarioID, "Mutating a retrieved value should not affect State.")
}

func TestState_DeepCopy(t *testing.T) {
	keyMap := Key[map[string][]int]{"complex"}
	keyTime := Key[time.Time]{"time"}

	t.Run("map with slice values", func(t *testing.T) {
		original := map[string][]int{"a": {1, 2, 3}}
		state := With(NewState(), keyMap, original)
		original["a"][0] = 99
		original["b"] = []int{4}

		got, _ := Get(state, keyMap)
		assert.Equal(t, 1, got["a"][0])
		assert.NotContains(t, got, "b")
	})

	t.Run("pointer inside struct", func(t *testing.T) {
		reason := SkipInvalidJudgeJSON
		state := With(NewState(), KeyJudge, JudgeResult{SkippedReason: &reason})
		reason = SkipEmptyJudgeResponse

		got, _ := Get(state, KeyJudge)
		require.NotNil(t, got.SkippedReason)
		assert.Equal(t, SkipInvalidJudgeJSON, *got.SkippedReason)
	})

	t.Run("time values pass through", func(t *testing.T) {
		now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		state := With(NewState(), keyTime, now)
		got, _ := Get(state, keyTime)
		assert.True(t, now.Equal(got))
	})

	t.Run("raw report bytes", func(t *testing.T) {
		raw := []byte(`{"version":"v1"}`)
		state := With(NewState(), KeyRun, Run{ID: "r", Report: raw})
		raw[2] = 'X'

		got, _ := Get(state, KeyRun)
		assert.JSONEq(t, `{"version":"v1"}`, string(got.Report))
	})
}

func TestState_String(t *testing.T) {
	state := NewState().MarkBudgetStopped("executor")
	assert.Equal(t, "State{budget.stopped: true, budget.stopped_by: executor}", state.String())
}

// TestState_ConcurrentAccess runs parallel readers and writers against a
// shared base State.
func TestState_ConcurrentAccess(t *testing.T) {
	base := With(NewState(), KeyRun, Run{ID: "shared"})

	const workers = 50
	states := make([]State, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			run, ok := Get(base, KeyRun)
			assert.True(t, ok)
			assert.Equal(t, "shared", run.ID)

			states[id] = With(base, Key[int]{fmt.Sprintf("worker_%d", id)}, id)
		}(i)
	}
	wg.Wait()

	for i, s := range states {
		assert.Len(t, s.Keys(), 2, "State %d should have the run plus its own key.", i)
		v, ok := Get(s, Key[int]{fmt.Sprintf("worker_%d", i)})
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	assert.Len(t, base.Keys(), 1, "Base state should be unchanged.")
}

func TestState_MarkBudgetStopped(t *testing.T) {
	t.Run("first stage wins", func(t *testing.T) {
		state := NewState().MarkBudgetStopped("executor").MarkBudgetStopped("judge")

		assert.True(t, state.BudgetStopped())
		by, ok := Get(state, KeyBudgetStoppedBy)
		require.True(t, ok)
		assert.Equal(t, "executor", by)
	})

	t.Run("receiver unchanged", func(t *testing.T) {
		base := NewState()
		_ = base.MarkBudgetStopped("generator")
		assert.False(t, base.BudgetStopped())
	})
}

func TestState_TypeMismatch(t *testing.T) {
	state := With(NewState(), NewKey[int]("custom"), 42)

	typed, ok := Get(state, NewKey[int]("custom"))
	require.True(t, ok)
	assert.Equal(t, 42, typed)

	_, ok = Get(state, NewKey[string]("custom"))
	assert.False(t, ok, "Get() with the wrong type should report not found.")
}

func TestState_ZeroValueIsUsable(t *testing.T) {
	var zero State
	_, ok := Get(zero, KeyRun)
	assert.False(t, ok)

	s := With(zero, KeyRun, Run{ID: "r"})
	run, ok := Get(s, KeyRun)
	require.True(t, ok)
	assert.Equal(t, "r", run.ID)
}
