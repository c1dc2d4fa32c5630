package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"policyrag/internal/domain"
	"policyrag/internal/vectorstore"
)

const (
	DefaultTopK = 3

	// NoContext is what FormatContext returns for an empty result set.
	NoContext = "No relevant policy information found."

	contextSeparator = "\n---\n"
	defaultSource    = "Policy Document"
)

// Retriever answers similarity queries against the index. It must share
// its embedder with the pipeline that built the index.
type Retriever struct {
	embedder domain.Embedder
	store    domain.VectorStore
	topK     int
	logger   *slog.Logger
}

// NewRetriever returns a retriever; topK is the default result count.
func NewRetriever(embedder domain.Embedder, store domain.VectorStore, topK int, logger *slog.Logger) *Retriever {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{embedder: embedder, store: store, topK: topK, logger: logger}
}

// Search returns at most topK results ordered by ascending distance. Ties
// keep the store's order, which is not guaranteed to be stable across
// stores. topK <= 0 uses the configured default. No matches is (nil, nil).
func (r *Retriever) Search(ctx context.Context, query string, topK int, filter map[string]string) ([]domain.RetrievalResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if topK <= 0 {
		topK = r.topK
	}
	r.logger.Info("retrieving chunks", "top_k", topK, "query", truncate(query, 100))

	vec, err := r.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := r.store.Query(ctx, vec, topK, filter)
	if err != nil {
		return nil, fmt.Errorf("query store: %w", err)
	}
	if len(hits) == 0 {
		r.logger.Warn("no results found for query")
		return nil, nil
	}

	vectorstore.SortHits(hits)
	if len(hits) > topK {
		hits = hits[:topK]
	}
	results := make([]domain.RetrievalResult, len(hits))
	scores := make([]string, len(hits))
	for i, h := range hits {
		results[i] = domain.RetrievalResult{
			Text:       h.Document,
			Metadata:   h.Metadata,
			Distance:   h.Distance,
			Similarity: 1 - h.Distance,
		}
		scores[i] = strconv.FormatFloat(results[i].Similarity, 'f', 3, 64)
	}
	r.logger.Info("retrieved chunks", "count", len(results), "similarity", scores)
	return results, nil
}

// Retrieve is Search for callers that proceed without context on failure:
// errors are logged and collapse to an empty result.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int, filter map[string]string) []domain.RetrievalResult {
	results, err := r.Search(ctx, query, topK, filter)
	if err != nil {
		r.logger.Error("error retrieving chunks", "error", err)
		return nil
	}
	return results
}

// FormatContext renders results as numbered policy references for an LLM prompt.
func FormatContext(results []domain.RetrievalResult) string {
	if len(results) == 0 {
		return NoContext
	}
	parts := make([]string, len(results))
	for i, res := range results {
		var b strings.Builder
		fmt.Fprintf(&b, "[Policy Reference %d]", i+1)
		if header := res.Metadata[domain.MetaSectionHeader]; header != "" {
			fmt.Fprintf(&b, "\nSection: %s", header)
		}
		source := res.Metadata[domain.MetaFilename]
		if source == "" {
			source = defaultSource
		}
		fmt.Fprintf(&b, "\nSource: %s", source)
		fmt.Fprintf(&b, "\nContent:\n%s\n", res.Text)
		parts[i] = b.String()
	}
	return strings.Join(parts, contextSeparator)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
