// Package ollama provides an embedder backed by a local Ollama server.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"policyrag/internal/domain"
	"policyrag/internal/embedding"
)

// Ensure Embedder implements the interface.
var _ domain.Embedder = (*Embedder)(nil)

// Default configuration values.
const (
	DefaultBaseURL = "http://localhost:11434"
	DefaultModel   = "all-minilm"
	DefaultTimeout = 30 * time.Second
)

// Config holds configuration for the Ollama embedder.
type Config struct {
	// BaseURL is the Ollama API base URL (default: http://localhost:11434).
	BaseURL string

	// Model is the embedding model to use (default: all-minilm).
	Model string

	// Timeout is the request timeout (default: 30s).
	Timeout time.Duration

	// RequestsPerSecond throttles calls to the server. Zero means unlimited.
	RequestsPerSecond float64

	// Workers bounds concurrent batch requests.
	Workers int

	Logger *slog.Logger
}

// Embedder generates embeddings using Ollama's /api/embed endpoint.
// The zero value is not ready; use New.
type Embedder struct {
	ready     atomic.Bool
	client    *http.Client
	baseURL   string
	model     string
	dimension int
	workers   int
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// embedRequest is the Ollama API request format.
type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// embedResponse is the Ollama API response format.
type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

// New creates an Ollama embedder and embeds a sample once to learn its
// dimension. An unreachable server or missing model wraps
// domain.ErrFailedPrecondition.
func New(ctx context.Context, cfg Config) (*Embedder, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Workers <= 0 {
		cfg.Workers = embedding.DefaultWorkers
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	e := &Embedder{
		client:  &http.Client{Timeout: cfg.Timeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		workers: cfg.Workers,
		limiter: rate.NewLimiter(limit, 1),
		logger:  cfg.Logger,
	}
	vecs, err := e.embed(ctx, []string{"dimension check"})
	if err != nil {
		return nil, fmt.Errorf("ollama model %s at %s: %w: %w", e.model, e.baseURL, domain.ErrFailedPrecondition, err)
	}
	e.dimension = len(vecs[0])
	e.ready.Store(true)
	e.logger.Info("embedding model ready", "provider", "ollama", "model", e.model, "dimension", e.dimension)
	return e, nil
}

// Model returns the name of the embedding model being used.
func (e *Embedder) Model() string { return e.model }

// Dimension returns the embedding vector size.
func (e *Embedder) Dimension() int { return e.dimension }

// EmbedText generates a vector embedding for the given text.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if !e.ready.Load() {
		return nil, fmt.Errorf("ollama embedder: %w", domain.ErrNotReady)
	}
	vecs, err := e.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch sends one /api/embed request per batch.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string, batchSize int) ([][]float32, error) {
	if !e.ready.Load() {
		return nil, fmt.Errorf("ollama embedder: %w", domain.ErrNotReady)
	}
	return embedding.Batch(ctx, texts, batchSize, e.workers, e.embed)
}

// Close releases idle connections. The embedder is not ready afterwards.
func (e *Embedder) Close() error {
	if !e.ready.Swap(false) {
		return nil
	}
	e.client.CloseIdleConnections()
	return nil
}

func (e *Embedder) embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	jsonBody, err := json.Marshal(embedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embed", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, err := io.ReadAll(io.LimitReader(resp.Body, 512))
		if err != nil {
			return nil, fmt.Errorf("ollama error (status %d): failed to read response", resp.StatusCode)
		}
		return nil, fmt.Errorf("ollama error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs: %w", len(out.Embeddings), len(texts), domain.ErrInvalidInput)
	}

	vecs := make([][]float32, len(out.Embeddings))
	for i, v := range out.Embeddings {
		vecs[i] = embedding.ToFloat32(v)
	}
	if e.dimension > 0 {
		if err := embedding.CheckDimension(vecs, e.dimension); err != nil {
			return nil, err
		}
	}
	return vecs, nil
}
