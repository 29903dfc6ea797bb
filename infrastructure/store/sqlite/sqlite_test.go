package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-qalab/infrastructure/store/storetest"
	"github.com/ahrav/go-qalab/internal/ports"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(context.Background(), filepath.Join(t.TempDir(), "qalab.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ports.RunStore { return newTestStore(t) })
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "qalab.db")

	s, err := New(ctx, path, nil)
	require.NoError(t, err)
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.CreateRun(ctx, storetest.QueuedRun("run-1", created)))
	require.NoError(t, s.Close())

	s, err = New(ctx, path, nil)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.True(t, got.CreatedAt.Equal(created))
	assert.Equal(t, 60_000, got.Config.TokenBudget)
}

func TestTimeLayoutSortsLexically(t *testing.T) {
	whole := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	frac := whole.Add(500 * time.Millisecond)
	assert.Less(t, formatTime(whole), formatTime(frac))

	parsed, err := parseTime(formatTime(frac))
	require.NoError(t, err)
	assert.True(t, parsed.Equal(frac))
}
