package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-qalab/infrastructure/store/storetest"
	"github.com/ahrav/go-qalab/internal/ports"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(*testing.T) ports.RunStore { return New() })
}

func TestStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	run := storetest.QueuedRun("run-1", s.now())
	run.Report = []byte(`{}`)
	require.NoError(t, s.CreateRun(ctx, run))

	run.Report[0] = 'x'
	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(got.Report))

	got.Report[0] = 'y'
	again, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(again.Report))
}

func TestStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New().GetRun(ctx, "run-1")
	assert.ErrorIs(t, err, context.Canceled)
}
