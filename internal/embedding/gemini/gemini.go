// Package gemini provides an embedder backed by the Google Generative AI API.
package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"policyrag/internal/domain"
	"policyrag/internal/embedding"
)

const (
	DefaultModel = "text-embedding-004"
	// maxBatch is the per-request limit of BatchEmbedContents.
	maxBatch = 100
)

// Config configures the Gemini embedder.
type Config struct {
	APIKey  string
	Model   string
	Workers int
	// Dimension skips the sample request when set.
	Dimension int
	Logger    *slog.Logger
}

// Embedder turns text into vectors with a Gemini embedding model. The zero
// value is not ready; use New.
type Embedder struct {
	ready     atomic.Bool
	client    *genai.Client
	model     *genai.EmbeddingModel
	name      string
	dimension int
	workers   int
}

var _ domain.Embedder = (*Embedder)(nil)

// New creates the client and embeds a sample to learn the dimension.
func New(ctx context.Context, cfg Config) (*Embedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is empty: %w", domain.ErrFailedPrecondition)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Workers <= 0 {
		cfg.Workers = embedding.DefaultWorkers
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w: %w", domain.ErrFailedPrecondition, err)
	}
	e := &Embedder{
		client:    client,
		model:     client.EmbeddingModel(cfg.Model),
		name:      cfg.Model,
		dimension: cfg.Dimension,
		workers:   cfg.Workers,
	}
	if e.dimension == 0 {
		v, err := e.embedOne(ctx, "dimension check")
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("embed sample with gemini model %s: %w: %w", cfg.Model, domain.ErrFailedPrecondition, err)
		}
		e.dimension = len(v)
	}
	e.ready.Store(true)
	cfg.Logger.Info("embedding model ready", "provider", "gemini", "model", cfg.Model, "dimension", e.dimension)
	return e, nil
}

// Model returns the embedding model name.
func (e *Embedder) Model() string { return e.name }

// Dimension returns the embedding vector size.
func (e *Embedder) Dimension() int { return e.dimension }

// EmbedText embeds a single text.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if !e.ready.Load() {
		return nil, fmt.Errorf("gemini embedder: %w", domain.ErrNotReady)
	}
	return e.embedOne(ctx, text)
}

func (e *Embedder) embedOne(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.model.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("embed content: %w", err)
	}
	if resp.Embedding == nil {
		return nil, fmt.Errorf("gemini returned an empty embedding")
	}
	return finish(e.dimension, resp.Embedding.Values)
}

// EmbedBatch uses BatchEmbedContents, at most maxBatch texts per request.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string, batchSize int) ([][]float32, error) {
	if !e.ready.Load() {
		return nil, fmt.Errorf("gemini embedder: %w", domain.ErrNotReady)
	}
	if batchSize <= 0 || batchSize > maxBatch {
		batchSize = maxBatch
	}
	return embedding.Batch(ctx, texts, batchSize, e.workers, func(ctx context.Context, batch []string) ([][]float32, error) {
		b := e.model.NewBatch()
		for _, text := range batch {
			b.AddContent(genai.Text(text))
		}
		resp, err := e.model.BatchEmbedContents(ctx, b)
		if err != nil {
			return nil, fmt.Errorf("batch embed contents: %w", err)
		}
		out := make([][]float32, len(resp.Embeddings))
		for i, emb := range resp.Embeddings {
			if emb == nil {
				return nil, fmt.Errorf("gemini returned an empty embedding for input %d", i)
			}
			if out[i], err = finish(e.dimension, emb.Values); err != nil {
				return nil, err
			}
		}
		return out, nil
	})
}

// Close closes the underlying client. The embedder is not ready afterwards.
func (e *Embedder) Close() error {
	if !e.ready.Swap(false) {
		return nil
	}
	return e.client.Close()
}

func finish[T float32 | float64](dimension int, values []T) ([]float32, error) {
	v := make([]float32, len(values))
	for i, x := range values {
		v[i] = float32(x)
	}
	if dimension > 0 && len(v) != dimension {
		return nil, fmt.Errorf("gemini vector has %d dimensions, want %d: %w", len(v), dimension, domain.ErrDimensionMismatch)
	}
	return embedding.Normalize(v), nil
}
