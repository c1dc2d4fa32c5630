// Package cache wraps an embedder with a Redis-backed vector cache so that
// re-ingesting unchanged documents does not call the provider again.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/redis/go-redis/v9"

	"policyrag/internal/domain"
)

// Verify interface compliance
var _ domain.Embedder = (*Embedder)(nil)

const keyPrefix = "emb:"

// Embedder is a read-through cache in front of another embedder. Redis
// failures are logged and the call falls through to the inner embedder.
type Embedder struct {
	inner  domain.Embedder
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// New wraps inner. The cache owns client and closes it on Close.
func New(client *redis.Client, inner domain.Embedder, ttl time.Duration, logger *slog.Logger) *Embedder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Embedder{inner: inner, client: client, ttl: ttl, logger: logger}
}

// Model returns the inner model name.
func (e *Embedder) Model() string { return e.inner.Model() }

// Dimension returns the inner dimension.
func (e *Embedder) Dimension() int { return e.inner.Dimension() }

// EmbedText returns the cached vector or embeds and stores it.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text}, 1)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch looks up all texts with one MGET, embeds only the misses and
// writes them back in a single pipeline.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string, batchSize int) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	keys := make([]string, len(texts))
	for i, text := range texts {
		keys[i] = e.key(text)
	}

	out := make([][]float32, len(texts))
	var missIdx []int
	values, err := e.client.MGet(ctx, keys...).Result()
	if err != nil {
		e.logger.Warn("embedding cache lookup failed", "error", err)
		values = make([]any, len(texts))
	}
	for i, raw := range values {
		if s, ok := raw.(string); ok {
			if v, err := decode([]byte(s), e.inner.Dimension()); err == nil {
				out[i] = v
				continue
			}
		}
		missIdx = append(missIdx, i)
	}
	e.logger.Debug("embedding cache", "hits", len(texts)-len(missIdx), "misses", len(missIdx))
	if len(missIdx) == 0 {
		return out, nil
	}

	missTexts := make([]string, len(missIdx))
	for j, i := range missIdx {
		missTexts[j] = texts[i]
	}
	fresh, err := e.inner.EmbedBatch(ctx, missTexts, batchSize)
	if err != nil {
		return nil, err
	}

	pipe := e.client.Pipeline()
	for j, i := range missIdx {
		out[i] = fresh[j]
		pipe.Set(ctx, keys[i], encode(fresh[j]), e.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		e.logger.Warn("embedding cache write failed", "error", err)
	}
	return out, nil
}

// Close closes the inner embedder and the Redis client.
func (e *Embedder) Close() error {
	return errors.Join(e.inner.Close(), e.client.Close())
}

// key scopes entries by model so switching models never returns stale vectors.
func (e *Embedder) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return keyPrefix + e.inner.Model() + ":" + hex.EncodeToString(sum[:])
}

func encode(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func decode(buf []byte, dim int) ([]float32, error) {
	if len(buf)%4 != 0 || (dim > 0 && len(buf)/4 != dim) {
		return nil, fmt.Errorf("cached vector of %d bytes: %w", len(buf), domain.ErrDimensionMismatch)
	}
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return v, nil
}
