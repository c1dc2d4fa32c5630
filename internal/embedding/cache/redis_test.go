package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policyrag/internal/embedding/hashing"
	"policyrag/internal/logging"
)

// countingEmbedder records how many texts reach the provider.
type countingEmbedder struct {
	*hashing.Embedder
	texts atomic.Int32
	fail  bool
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string, batchSize int) ([][]float32, error) {
	if c.fail {
		return nil, errors.New("provider down")
	}
	c.texts.Add(int32(len(texts)))
	return c.Embedder.EmbedBatch(ctx, texts, batchSize)
}

func setup(t *testing.T) (*Embedder, *countingEmbedder, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	h, err := hashing.New(32, 1)
	require.NoError(t, err)
	inner := &countingEmbedder{Embedder: h}
	e := New(client, inner, time.Hour, logging.Discard())
	t.Cleanup(func() { _ = client.Close() })
	return e, inner, mr
}

func TestEmbedBatch_SecondCallHitsCache(t *testing.T) {
	e, inner, mr := setup(t)
	ctx := context.Background()
	texts := []string{"annual leave", "sick leave", "parental leave"}

	first, err := e.EmbedBatch(ctx, texts, 2)
	require.NoError(t, err)
	assert.Equal(t, int32(3), inner.texts.Load())
	assert.Len(t, mr.Keys(), 3)

	second, err := e.EmbedBatch(ctx, texts, 2)
	require.NoError(t, err)
	assert.Equal(t, int32(3), inner.texts.Load())
	assert.Equal(t, first, second)
}

func TestEmbedBatch_OnlyMissesReachProvider(t *testing.T) {
	e, inner, _ := setup(t)
	ctx := context.Background()

	_, err := e.EmbedText(ctx, "annual leave")
	require.NoError(t, err)

	vecs, err := e.EmbedBatch(ctx, []string{"remote work", "annual leave"}, 8)
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, int32(2), inner.texts.Load())

	direct, err := inner.Embedder.EmbedText(ctx, "annual leave")
	require.NoError(t, err)
	assert.Equal(t, direct, vecs[1])
}

func TestEmbedBatch_TTLApplied(t *testing.T) {
	e, _, mr := setup(t)

	_, err := e.EmbedText(context.Background(), "notice period")
	require.NoError(t, err)

	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.Contains(t, keys[0], "emb:"+hashing.ModelName+":")
	assert.Equal(t, time.Hour, mr.TTL(keys[0]))
}

func TestEmbedBatch_RedisDownFallsThrough(t *testing.T) {
	e, inner, mr := setup(t)
	mr.Close()

	vec, err := e.EmbedText(context.Background(), "overtime")
	require.NoError(t, err)
	assert.Len(t, vec, 32)
	assert.Equal(t, int32(1), inner.texts.Load())
}

func TestEmbedBatch_ProviderError(t *testing.T) {
	e, inner, _ := setup(t)
	inner.fail = true

	_, err := e.EmbedText(context.Background(), "overtime")
	assert.Error(t, err)
}

func TestDecode_RejectsWrongDimension(t *testing.T) {
	_, err := decode(encode([]float32{1, 2, 3}), 4)
	assert.Error(t, err)

	v, err := decode(encode([]float32{1, 2, 3}), 3)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, v)
}
