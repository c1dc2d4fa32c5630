package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policyrag/internal/domain"
	"policyrag/internal/logging"
)

func newManager(t *testing.T, dir string, store *spyStore, calls *atomic.Int32) *Manager {
	t.Helper()
	emb := newEmbedder(t)
	return NewManager(ManagerConfig{
		Factory: func(context.Context) (*Components, error) {
			if calls != nil {
				calls.Add(1)
			}
			return &Components{Embedder: emb, Store: store, Manifest: newMemManifest()}, nil
		},
		CollectionName:  "hr_policies",
		PolicyDirectory: dir,
		Logger:          logging.Discard(),
	})
}

func TestManager_RequiresInit(t *testing.T) {
	m := newManager(t, t.TempDir(), newSpyStore(), nil)
	ctx := context.Background()

	_, err := m.Search(ctx, "leave", 3, nil)
	assert.ErrorIs(t, err, domain.ErrNotReady)
	_, err = m.EnsureIngested(ctx)
	assert.ErrorIs(t, err, domain.ErrNotReady)
	_, err = m.IngestDocuments(ctx, nil)
	assert.ErrorIs(t, err, domain.ErrNotReady)
	assert.Empty(t, m.Retrieve(ctx, "leave", 3, nil))
	assert.NoError(t, m.Close())
}

func TestManager_ConcurrentInitRunsFactoryOnce(t *testing.T) {
	var calls atomic.Int32
	m := newManager(t, t.TempDir(), newSpyStore(), &calls)

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.Init(context.Background()))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
}

func TestManager_InitFailureIsSticky(t *testing.T) {
	var calls atomic.Int32
	m := NewManager(ManagerConfig{
		Factory: func(context.Context) (*Components, error) {
			calls.Add(1)
			return nil, errors.New("store locked")
		},
		Logger: logging.Discard(),
	})

	err := m.Init(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store locked")
	assert.Equal(t, err, m.Init(context.Background()))
	assert.Equal(t, int32(1), calls.Load())
}

func TestManager_EnsureIngested(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "leave.md", "## Leave Policy\nAnnual leave is 20 days.")
	store := newSpyStore()
	m := newManager(t, dir, store, nil)
	ctx := context.Background()
	require.NoError(t, m.Init(ctx))

	n, err := m.EnsureIngested(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Populated index: nothing to do.
	n, err = m.EnsureIngested(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, store.upserts)

	results := m.Retrieve(ctx, "How many days of annual leave?", 3, nil)
	require.Len(t, results, 1)
	assert.Contains(t, m.FormatContext(results), "Section: Leave Policy")
}

func TestManager_EnsureIngestedCreatesMissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "docs", "policies")
	m := newManager(t, dir, newSpyStore(), nil)
	ctx := context.Background()
	require.NoError(t, m.Init(ctx))

	n, err := m.EnsureIngested(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestManager_EnsureIngestedCountFailure(t *testing.T) {
	store := newSpyStore()
	store.countErr = errors.New("disk gone")
	m := newManager(t, t.TempDir(), store, nil)
	ctx := context.Background()
	require.NoError(t, m.Init(ctx))

	_, err := m.EnsureIngested(ctx)
	assert.Error(t, err)
}

func TestManager_StatsAndReset(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "leave.md", "## Leave Policy\nAnnual leave is 20 days.")
	writeFile(t, dir, "travel.md", "## Travel\nBook flights two weeks ahead.")
	m := newManager(t, dir, newSpyStore(), nil)
	ctx := context.Background()
	require.NoError(t, m.Init(ctx))

	n, err := m.IngestFromDirectory(ctx, "", "")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	st, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hr_policies", st.Collection)
	assert.Equal(t, 2, st.Chunks)
	assert.Equal(t, 64, st.Dimension)
	assert.Len(t, st.Documents, 2)

	require.NoError(t, m.Reset(ctx))
	st, err = m.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Chunks)
	assert.Empty(t, st.Documents)

	assert.Empty(t, m.Retrieve(ctx, "annual leave", 3, nil))
	assert.NoError(t, m.Close())
}
