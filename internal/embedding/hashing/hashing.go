// Package hashing implements a local, deterministic embedder. Features
// (word unigrams, word bigrams and character trigrams) are hashed into a
// fixed number of signed buckets, so no vocabulary or model download is
// needed and identical text always produces identical vectors.
package hashing

import (
	"context"
	"fmt"
	"hash/fnv"
	"maps"
	"math"
	"regexp"
	"slices"
	"strings"
	"sync/atomic"

	"policyrag/internal/domain"
	"policyrag/internal/embedding"
)

const (
	DefaultDimension = 384
	ModelName        = "hashing-v1"
)

// Feature weights.
const (
	unigramWeight = 1.0
	bigramWeight  = 0.5
	trigramWeight = 0.25
)

// Embedder is a feature-hashing text embedder. The zero value is not ready
// and returns domain.ErrNotReady; use New.
type Embedder struct {
	dimension    int
	workers      int
	ready        atomic.Bool
	tokenPattern *regexp.Regexp
	stopwords    map[string]struct{}
}

var _ domain.Embedder = (*Embedder)(nil)

// New creates a ready embedder. dimension 0 selects DefaultDimension.
func New(dimension, workers int) (*Embedder, error) {
	if dimension < 0 {
		return nil, fmt.Errorf("hashing dimension %d: %w", dimension, domain.ErrFailedPrecondition)
	}
	if dimension == 0 {
		dimension = DefaultDimension
	}
	if workers <= 0 {
		workers = embedding.DefaultWorkers
	}
	e := &Embedder{
		dimension:    dimension,
		workers:      workers,
		tokenPattern: regexp.MustCompile(`[\p{L}\p{N}]+(?:['’][\p{L}\p{N}]+)*`),
		stopwords:    defaultStopwords(),
	}
	e.ready.Store(true)
	return e, nil
}

// Model returns the identifier of this embedder implementation.
func (e *Embedder) Model() string { return ModelName }

// Dimension returns the dimensionality of the produced embedding vectors.
func (e *Embedder) Dimension() int { return e.dimension }

// EmbedText embeds a single text.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if !e.ready.Load() {
		return nil, fmt.Errorf("hashing embedder: %w", domain.ErrNotReady)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.vectorize(text), nil
}

// EmbedBatch embeds texts in batches of batchSize, preserving order.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string, batchSize int) ([][]float32, error) {
	if !e.ready.Load() {
		return nil, fmt.Errorf("hashing embedder: %w", domain.ErrNotReady)
	}
	return embedding.Batch(ctx, texts, batchSize, e.workers, func(ctx context.Context, batch []string) ([][]float32, error) {
		out := make([][]float32, len(batch))
		for i, text := range batch {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			out[i] = e.vectorize(text)
		}
		return out, nil
	})
}

// Close marks the embedder as no longer usable.
func (e *Embedder) Close() error {
	e.ready.Store(false)
	return nil
}

func (e *Embedder) vectorize(text string) []float32 {
	acc := make([]float64, e.dimension)
	counts := make(map[string]float64)

	tokens := e.tokenize(text)
	for i, tok := range tokens {
		counts["w:"+tok] += unigramWeight
		if i > 0 {
			counts["b:"+tokens[i-1]+" "+tok] += bigramWeight
		}
		padded := []rune(" " + tok + " ")
		for j := 0; j+3 <= len(padded); j++ {
			counts["c:"+string(padded[j:j+3])] += trigramWeight
		}
	}
	if len(counts) == 0 {
		// Text made only of stopwords or punctuation still gets a stable, non-zero vector.
		raw := strings.TrimSpace(strings.ToLower(text))
		if raw == "" {
			return make([]float32, e.dimension)
		}
		counts["r:"+raw] = unigramWeight
	}

	// Sorted so float accumulation order, and therefore the vector, is stable.
	for _, feature := range slices.Sorted(maps.Keys(counts)) {
		idx, sign := e.bucket(feature)
		// Sublinear term frequency.
		acc[idx] += sign * (1 + math.Log1p(counts[feature]))
	}

	vec := make([]float32, e.dimension)
	for i, v := range acc {
		vec[i] = float32(v)
	}
	return embedding.Normalize(vec)
}

func (e *Embedder) bucket(feature string) (int, float64) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	sign := 1.0
	if sum>>63 == 1 {
		sign = -1.0
	}
	return int(sum % uint64(e.dimension)), sign
}

func (e *Embedder) tokenize(text string) []string {
	lower := strings.ToLower(text)
	raw := e.tokenPattern.FindAllString(lower, -1)
	if len(raw) == 0 {
		return nil
	}
	out := raw[:0]
	for _, t := range raw {
		if _, isStop := e.stopwords[t]; isStop {
			continue
		}
		out = append(out, t)
	}
	return out
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
