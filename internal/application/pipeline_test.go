package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-qalab/internal/domain"
)

var keyOrder = domain.NewKey[[]string]("test.order")

// mockExecutable is a test implementation of Executable
type mockExecutable struct {
	id          string
	executeFunc func(ctx context.Context, state domain.State) (domain.State, error)
	executed    bool
	mu          sync.Mutex
}

func (m *mockExecutable) Execute(ctx context.Context, state domain.State) (domain.State, error) {
	m.mu.Lock()
	m.executed = true
	m.mu.Unlock()

	if m.executeFunc != nil {
		return m.executeFunc(ctx, state)
	}
	return state, nil
}

func (m *mockExecutable) ID() string {
	return m.id
}

func (m *mockExecutable) wasExecuted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.executed
}

func appendOrder(id string) func(context.Context, domain.State) (domain.State, error) {
	return func(_ context.Context, state domain.State) (domain.State, error) {
		order, _ := domain.Get(state, keyOrder)
		return domain.With(state, keyOrder, append(order, id)), nil
	}
}

// mockUnit is a minimal ports.Unit.
type mockUnit struct {
	name        string
	validateErr error
	execute     func(ctx context.Context, state domain.State) (domain.State, error)
}

func (u *mockUnit) Name() string { return u.name }

func (u *mockUnit) Execute(ctx context.Context, state domain.State) (domain.State, error) {
	if u.execute == nil {
		return state, nil
	}
	return u.execute(ctx, state)
}

func (u *mockUnit) Validate() error { return u.validateErr }

func TestPipeline_Execute(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name      string
		stages    []*mockExecutable
		wantOrder []string
		wantRan   []bool
		wantErr   error
		errMsg    string
	}{
		{
			name: "executes stages in sequence",
			stages: []*mockExecutable{
				{id: "generator", executeFunc: appendOrder("generator")},
				{id: "executor", executeFunc: appendOrder("executor")},
				{id: "judge", executeFunc: appendOrder("judge")},
			},
			wantOrder: []string{"generator", "executor", "judge"},
			wantRan:   []bool{true, true, true},
		},
		{
			name: "stops at the first error",
			stages: []*mockExecutable{
				{id: "generator", executeFunc: appendOrder("generator")},
				{id: "executor", executeFunc: func(context.Context, domain.State) (domain.State, error) {
					return domain.State{}, boom
				}},
				{id: "judge", executeFunc: appendOrder("judge")},
			},
			wantOrder: []string{"generator"},
			wantRan:   []bool{true, true, false},
			wantErr:   boom,
			errMsg:    "pipeline run-1: executor: boom",
		},
		{
			name:      "empty pipeline returns the input",
			wantOrder: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPipeline("run-1")
			for _, s := range tt.stages {
				require.NoError(t, p.Add(s))
			}

			state, err := p.Execute(context.Background(), domain.NewState())
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, tt.errMsg, err.Error())
			} else {
				require.NoError(t, err)
			}

			order, _ := domain.Get(state, keyOrder)
			assert.Equal(t, tt.wantOrder, order, "the state before the failing stage is returned")
			for i, s := range tt.stages {
				assert.Equal(t, tt.wantRan[i], s.wasExecuted(), s.id)
			}
		})
	}
}

func TestPipeline_CancelledBetweenStages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	first := &mockExecutable{id: "generator", executeFunc: func(_ context.Context, s domain.State) (domain.State, error) {
		cancel()
		return s, nil
	}}
	second := &mockExecutable{id: "executor"}

	p := NewPipeline("run-1")
	require.NoError(t, p.Add(first))
	require.NoError(t, p.Add(second))

	_, err := p.Execute(ctx, domain.NewState())
	require.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), "cancelled before executor")
	assert.False(t, second.wasExecuted())
}

func TestPipeline_Add(t *testing.T) {
	p := NewPipeline("run-1")
	assert.Equal(t, "run-1", p.ID())

	require.NoError(t, p.Add(&mockExecutable{id: "a"}))
	assert.ErrorContains(t, p.Add(&mockExecutable{id: "a"}), "already exists")
	assert.Error(t, p.Add(nil))

	execs := p.Executables()
	require.Len(t, execs, 1)
	execs[0] = &mockExecutable{id: "replaced"}
	assert.Equal(t, "a", p.Executables()[0].ID(), "Executables returns a copy")
}

func TestPipeline_ConcurrentAdd(t *testing.T) {
	p := NewPipeline("run-1")
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Add(&mockExecutable{id: fmt.Sprintf("stage-%d", i)})
		}()
	}
	wg.Wait()
	assert.Len(t, p.Executables(), 20)
}

func TestUnitAdapter(t *testing.T) {
	unit := &mockUnit{name: "judge", execute: appendOrder("judge")}

	adapter := NewUnitAdapter(unit, "")
	assert.Equal(t, "judge", adapter.ID())
	assert.Equal(t, "custom", NewUnitAdapter(unit, "custom").ID())

	state, err := adapter.Execute(context.Background(), domain.NewState())
	require.NoError(t, err)
	order, _ := domain.Get(state, keyOrder)
	assert.Equal(t, []string{"judge"}, order)
}

func TestNewStagePipeline(t *testing.T) {
	p, err := NewStagePipeline("run-1",
		&mockUnit{name: "generator"},
		&mockUnit{name: "executor"},
	)
	require.NoError(t, err)
	require.Len(t, p.Executables(), 2)
	assert.Equal(t, "executor", p.Executables()[1].ID())

	_, err = NewStagePipeline("run-1", &mockUnit{name: "judge", validateErr: errors.New("bad config")})
	assert.ErrorContains(t, err, "pipeline run-1: bad config")

	_, err = NewStagePipeline("run-1", &mockUnit{name: "judge"}, &mockUnit{name: "judge"})
	assert.ErrorContains(t, err, "already exists")

	_, err = NewStagePipeline("run-1", nil)
	assert.ErrorContains(t, err, "nil unit")
}
