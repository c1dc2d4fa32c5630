// Package embedding holds the pieces shared by every embedding provider:
// order-preserving concurrent batching and vector normalization.
package embedding

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"policyrag/internal/domain"
)

const (
	DefaultBatchSize = 32
	DefaultWorkers   = 4
)

// BatchFunc embeds one batch and returns one vector per input, in order.
type BatchFunc func(ctx context.Context, texts []string) ([][]float32, error)

// Batch splits texts into batches of batchSize and runs fn on up to workers
// batches at a time. The returned slice is in input order regardless of
// completion order. The first failing batch cancels the rest.
func Batch(ctx context.Context, texts []string, batchSize, workers int, fn BatchFunc) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if workers <= 0 {
		workers = 1
	}

	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			vecs, err := fn(gctx, texts[start:end])
			if err != nil {
				return fmt.Errorf("embed batch [%d:%d]: %w", start, end, err)
			}
			if len(vecs) != end-start {
				return fmt.Errorf("embed batch [%d:%d]: got %d vectors for %d texts: %w",
					start, end, len(vecs), end-start, domain.ErrInvalidInput)
			}
			copy(out[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Normalize scales v to unit L2 length in place and returns it.
// A zero vector is returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

// ToFloat32 converts a float64 vector, as returned by most JSON APIs, and normalizes it.
func ToFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return Normalize(out)
}

// CheckDimension verifies every vector has the expected length.
func CheckDimension(vecs [][]float32, dim int) error {
	for i, v := range vecs {
		if len(v) != dim {
			return fmt.Errorf("vector %d has %d dimensions, want %d: %w", i, len(v), dim, domain.ErrDimensionMismatch)
		}
	}
	return nil
}
