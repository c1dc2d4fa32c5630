package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"policyrag/internal/domain"
	"policyrag/internal/embedding"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "text-embedding-3-small"
)

// Client is an OpenAI-compatible embeddings client. The zero value is not
// ready; use NewClient.
type Client struct {
	ready      atomic.Bool
	baseURL    string
	apiKey     string
	model      string
	dimension  int
	workers    int
	maxRetries int
	client     *http.Client
	logger     *slog.Logger
}

var _ domain.Embedder = (*Client)(nil)

// Config configures the OpenAI-compatible embeddings client.
type Config struct {
	BaseURL    string
	APIKeyEnv  string
	Model      string
	Timeout    time.Duration
	MaxRetries int
	// Dimension skips the sample request when set.
	Dimension int
	Workers   int
	Logger    *slog.Logger
}

// NewClient creates a client and, unless cfg.Dimension is set, embeds a sample at the
// endpoint once to learn the vector dimension. Sample failures wrap
// domain.ErrFailedPrecondition.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("missing API key in env %s: %w", cfg.APIKeyEnv, domain.ErrFailedPrecondition)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	t := cfg.Timeout
	if t == 0 {
		t = 30 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 5
	}
	if cfg.Workers <= 0 {
		cfg.Workers = embedding.DefaultWorkers
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     key,
		model:      cfg.Model,
		dimension:  cfg.Dimension,
		workers:    cfg.Workers,
		maxRetries: cfg.MaxRetries,
		client:     &http.Client{Timeout: t},
		logger:     cfg.Logger,
	}
	if c.dimension == 0 {
		vecs, err := c.embed(ctx, []string{"dimension check"})
		if err != nil {
			return nil, fmt.Errorf("embed sample with %s at %s: %w: %w", c.model, c.baseURL, domain.ErrFailedPrecondition, err)
		}
		c.dimension = len(vecs[0])
		c.logger.Info("embedding model ready", "provider", "openai", "model", c.model, "dimension", c.dimension)
	}
	c.ready.Store(true)
	return c, nil
}

// Model returns the embedding model name.
func (c *Client) Model() string { return c.model }

// Dimension returns the dimensionality of the produced embedding vectors.
func (c *Client) Dimension() int { return c.dimension }

// EmbedText returns an embedding vector for the given text.
func (c *Client) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if !c.ready.Load() {
		return nil, fmt.Errorf("openai embedder: %w", domain.ErrNotReady)
	}
	vecs, err := c.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch sends texts in requests of batchSize inputs each.
func (c *Client) EmbedBatch(ctx context.Context, texts []string, batchSize int) ([][]float32, error) {
	if !c.ready.Load() {
		return nil, fmt.Errorf("openai embedder: %w", domain.ErrNotReady)
	}
	return embedding.Batch(ctx, texts, batchSize, c.workers, c.embed)
}

// Close releases idle connections. The client is not ready afterwards.
func (c *Client) Close() error {
	if !c.ready.Swap(false) {
		return nil
	}
	c.client.CloseIdleConnections()
	return nil
}

type embedRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

func (c *Client) embed(ctx context.Context, texts []string) ([][]float32, error) {
	data, err := json.Marshal(embedRequest{Input: texts, Model: c.model})
	if err != nil {
		return nil, err
	}
	url := c.baseURL + "/embeddings"

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Debug("retrying embeddings request", "attempt", attempt, "error", lastErr)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			if err := sleep(ctx, retryDelay(attempt)); err != nil {
				return nil, err
			}
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("openai embeddings failed: %s", resp.Status)
			if attempt == c.maxRetries {
				break
			}
			// Respect Retry-After if provided
			delay := retryDelay(attempt)
			if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
				delay = time.Duration(secs) * time.Second
			}
			if err := sleep(ctx, delay); err != nil {
				return nil, err
			}
			continue
		}

		if resp.StatusCode >= 300 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			_ = resp.Body.Close()
			return nil, fmt.Errorf("openai embeddings failed: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
		}

		var out embedResponse
		err = json.NewDecoder(resp.Body).Decode(&out)
		_ = resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("decode embeddings response: %w", err)
			if err := sleep(ctx, retryDelay(attempt)); err != nil {
				return nil, err
			}
			continue
		}
		vecs, err := toVectors(out, len(texts))
		if err != nil {
			return nil, err
		}
		if c.dimension > 0 {
			if err := embedding.CheckDimension(vecs, c.dimension); err != nil {
				return nil, err
			}
		}
		return vecs, nil
	}
	return nil, lastErr
}

// toVectors orders the response by index since the API does not guarantee input order.
func toVectors(out embedResponse, want int) ([][]float32, error) {
	if len(out.Data) != want {
		return nil, fmt.Errorf("got %d embeddings for %d inputs: %w", len(out.Data), want, domain.ErrInvalidInput)
	}
	sort.SliceStable(out.Data, func(i, j int) bool { return out.Data[i].Index < out.Data[j].Index })
	vecs := make([][]float32, want)
	for i, d := range out.Data {
		if len(d.Embedding) == 0 {
			return nil, errors.New("no embedding returned")
		}
		vecs[i] = embedding.ToFloat32(d.Embedding)
	}
	return vecs, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func retryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := 200 * time.Millisecond
	// exponential backoff capped at 5s
	d := base << attempt
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}
