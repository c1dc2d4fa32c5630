package gemini

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"policyrag/internal/domain"
)

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := New(context.Background(), Config{Model: DefaultModel})
	assert.ErrorIs(t, err, domain.ErrFailedPrecondition)
}

func TestFinish_DimensionCheck(t *testing.T) {
	v, err := finish(2, []float32{3, 4})
	assert.NoError(t, err)
	assert.InDelta(t, 0.6, v[0], 1e-6)

	_, err = finish(2, []float32{1, 2, 3})
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
}

func TestZeroValueNotReady(t *testing.T) {
	var e Embedder
	ctx := context.Background()

	_, err := e.EmbedText(ctx, "annual leave")
	assert.ErrorIs(t, err, domain.ErrNotReady)
	_, err = e.EmbedBatch(ctx, []string{"annual leave"}, 4)
	assert.ErrorIs(t, err, domain.ErrNotReady)
	assert.NoError(t, e.Close())
}
