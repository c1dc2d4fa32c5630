package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"policyrag/internal/domain"
	"policyrag/internal/vectorstore"
)

var _ domain.VectorStore = (*Storage)(nil)

// Payload keys. Metadata is nested so filters address it as "metadata.<key>".
const (
	payloadID       = "record_id"
	payloadDocument = "document"
	payloadMetadata = "metadata"
)

// Storage is a minimal REST client to Qdrant.
// It assumes cosine distance and creates the collection if missing.
type Storage struct {
	url        string
	apiKey     string
	collection string
	dimension  int
	client     *http.Client
	logger     *slog.Logger
}

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Dimension  int
	Timeout    time.Duration
	Logger     *slog.Logger
}

// New connects to Qdrant and ensures the collection exists with the given dimension.
func New(ctx context.Context, cfg Config) (*Storage, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("qdrant needs a positive dimension, got %d: %w", cfg.Dimension, domain.ErrInvalidInput)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Storage{
		url:        strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		dimension:  cfg.Dimension,
		client:     &http.Client{Timeout: timeout},
		logger:     cfg.Logger,
	}
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Storage) collectionURL() string {
	return fmt.Sprintf("%s/collections/%s", s.url, s.collection)
}

func (s *Storage) ensureCollection(ctx context.Context) error {
	var info struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors struct {
						Size int `json:"size"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	status, err := s.do(ctx, http.MethodGet, s.collectionURL(), nil, &info)
	if err == nil {
		if size := info.Result.Config.Params.Vectors.Size; size != 0 && size != s.dimension {
			return fmt.Errorf("collection %s has %d dimensions, embedder has %d: %w",
				s.collection, size, s.dimension, domain.ErrDimensionMismatch)
		}
		return nil
	}
	if status != http.StatusNotFound {
		return err
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     s.dimension,
			"distance": "Cosine",
		},
	}
	if _, err := s.do(ctx, http.MethodPut, s.collectionURL(), body, nil); err != nil {
		return err
	}
	s.logger.Info("qdrant collection created", "collection", s.collection, "dimension", s.dimension)
	return nil
}

// pointID maps a record id to a stable UUID since Qdrant only accepts
// unsigned integers or UUIDs as point ids.
func pointID(id string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(id)).String()
}

func (s *Storage) Upsert(ctx context.Context, records []domain.IndexRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := vectorstore.CheckRecords(records, s.dimension); err != nil {
		return err
	}
	points := make([]map[string]any, len(records))
	for i, r := range records {
		points[i] = map[string]any{
			"id":     pointID(r.ID),
			"vector": r.Embedding,
			"payload": map[string]any{
				payloadID:       r.ID,
				payloadDocument: r.Document,
				payloadMetadata: r.Metadata,
			},
		}
	}
	body := map[string]any{"points": points}
	_, err := s.do(ctx, http.MethodPut, s.collectionURL()+"/points?wait=true", body, nil)
	return err
}

func (s *Storage) Query(ctx context.Context, embedding []float32, k int, where map[string]string) ([]domain.QueryHit, error) {
	if k <= 0 {
		return nil, nil
	}
	if len(embedding) != s.dimension {
		return nil, fmt.Errorf("query has %d dimensions, store has %d: %w", len(embedding), s.dimension, domain.ErrDimensionMismatch)
	}
	req := map[string]any{
		"vector":       embedding,
		"limit":        k,
		"with_payload": true,
	}
	if len(where) > 0 {
		must := make([]map[string]any, 0, len(where))
		for key, value := range where {
			must = append(must, map[string]any{
				"key":   payloadMetadata + "." + key,
				"match": map[string]any{"value": value},
			})
		}
		req["filter"] = map[string]any{"must": must}
	}
	var resp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if _, err := s.do(ctx, http.MethodPost, s.collectionURL()+"/points/search", req, &resp); err != nil {
		return nil, err
	}
	hits := make([]domain.QueryHit, 0, len(resp.Result))
	for _, r := range resp.Result {
		hit := domain.QueryHit{Distance: 1 - r.Score, Metadata: map[string]string{}}
		if v, ok := r.Payload[payloadID].(string); ok {
			hit.ID = v
		}
		if v, ok := r.Payload[payloadDocument].(string); ok {
			hit.Document = v
		}
		if meta, ok := r.Payload[payloadMetadata].(map[string]any); ok {
			for key, v := range meta {
				if str, ok := v.(string); ok {
					hit.Metadata[key] = str
				} else {
					hit.Metadata[key] = fmt.Sprint(v)
				}
			}
		}
		hits = append(hits, hit)
	}
	vectorstore.SortHits(hits)
	return hits, nil
}

func (s *Storage) Count(ctx context.Context) (int, error) {
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	if _, err := s.do(ctx, http.MethodPost, s.collectionURL()+"/points/count", map[string]any{"exact": true}, &resp); err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}

// Reset drops the collection and recreates it empty.
func (s *Storage) Reset(ctx context.Context) error {
	status, err := s.do(ctx, http.MethodDelete, s.collectionURL(), nil, nil)
	if err != nil && status != http.StatusNotFound {
		return err
	}
	return s.ensureCollection(ctx)
}

func (s *Storage) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// do sends a JSON request and decodes the response into out when non-nil.
// The HTTP status is returned alongside any error so callers can branch on 404.
func (s *Storage) do(ctx context.Context, method, url string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, fmt.Errorf("qdrant %s %s failed: %s: %s", method, url, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out != nil {
		return resp.StatusCode, json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode, nil
}
