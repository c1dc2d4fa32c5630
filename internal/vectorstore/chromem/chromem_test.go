package chromem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policyrag/internal/domain"
	"policyrag/internal/logging"
)

func newStore(t *testing.T, dir string) *Storage {
	s, err := New(Config{PersistDirectory: dir, Collection: "hr_policies", Dimension: 2, Logger: logging.Discard()})
	require.NoError(t, err)
	return s
}

func records() []domain.IndexRecord {
	return []domain.IndexRecord{
		{ID: "leave_chunk_0", Embedding: []float32{1, 0}, Document: "Annual leave is 25 days.", Metadata: map[string]string{"filename": "leave.md"}},
		{ID: "leave_chunk_1", Embedding: []float32{0.8, 0.6}, Document: "Sick leave needs a note.", Metadata: map[string]string{"filename": "leave.md"}},
		{ID: "travel_chunk_0", Embedding: []float32{0, 1}, Document: "Book travel early.", Metadata: map[string]string{"filename": "travel.md"}},
	}
}

func TestQuery_ReturnsNearestFirst(t *testing.T) {
	s := newStore(t, "")
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, records()))

	hits, err := s.Query(ctx, []float32{1, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "leave_chunk_0", hits[0].ID)
	assert.InDelta(t, 0.0, hits[0].Distance, 1e-5)
	assert.Equal(t, "leave_chunk_1", hits[1].ID)
	assert.InDelta(t, 0.2, hits[1].Distance, 1e-5)
	assert.Equal(t, "Annual leave is 25 days.", hits[0].Document)
	assert.Equal(t, "leave.md", hits[0].Metadata["filename"])
}

func TestQuery_KIsClampedToCount(t *testing.T) {
	s := newStore(t, "")
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, records()))

	hits, err := s.Query(ctx, []float32{1, 0}, 50, nil)
	require.NoError(t, err)
	assert.Len(t, hits, 3)
}

func TestQuery_EmptyCollection(t *testing.T) {
	s := newStore(t, "")

	hits, err := s.Query(context.Background(), []float32{1, 0}, 3, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestQuery_Filter(t *testing.T) {
	s := newStore(t, "")
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, records()))

	hits, err := s.Query(ctx, []float32{1, 0}, 1, map[string]string{"filename": "travel.md"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "travel_chunk_0", hits[0].ID)
}

func TestUpsert_SameIDReplaces(t *testing.T) {
	s := newStore(t, "")
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, records()))
	require.NoError(t, s.Upsert(ctx, records()[:1]))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestUpsert_DimensionMismatch(t *testing.T) {
	s := newStore(t, "")

	err := s.Upsert(context.Background(), []domain.IndexRecord{{ID: "x", Embedding: []float32{1, 0, 0}, Document: "x"}})
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
}

func TestPersistence(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	s := newStore(t, dir)
	require.NoError(t, s.Upsert(ctx, records()))
	require.NoError(t, s.Close())

	reopened := newStore(t, dir)
	n, err := reopened.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	hits, err := reopened.Query(ctx, []float32{0, 1}, 1, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "travel_chunk_0", hits[0].ID)
}

func TestNew_ReopenWithOtherDimension(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	s := newStore(t, dir)
	require.NoError(t, s.Upsert(ctx, records()))
	require.NoError(t, s.Close())

	_, err := New(Config{PersistDirectory: dir, Collection: "hr_policies", Dimension: 8, Logger: logging.Discard()})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)

	// Another collection in the same directory is unaffected.
	other, err := New(Config{PersistDirectory: dir, Collection: "hr_policies_v2", Dimension: 8, Logger: logging.Discard()})
	require.NoError(t, err)
	n, err := other.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReset(t *testing.T) {
	s := newStore(t, t.TempDir())
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, records()))

	require.NoError(t, s.Reset(ctx))
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, s.Upsert(ctx, records()[:1]))
	n, err = s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNew_RequiresCollection(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
