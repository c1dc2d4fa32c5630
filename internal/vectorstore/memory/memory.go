package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"policyrag/internal/domain"
	"policyrag/internal/vectorstore"
)

var _ domain.VectorStore = (*Storage)(nil)

// Storage is a simple in-memory vector store using brute-force cosine distance.
// Records are keyed by id; iteration follows first-insertion order.
type Storage struct {
	mu        sync.RWMutex
	dimension int
	order     []string
	records   map[string]domain.IndexRecord
}

// NewStorage creates an empty store. A zero dimension is fixed by the first upsert.
func NewStorage(dimension int) *Storage {
	return &Storage{dimension: dimension, records: make(map[string]domain.IndexRecord)}
}

// Upsert inserts or replaces records by id.
func (s *Storage) Upsert(ctx context.Context, records []domain.IndexRecord) error {
	if len(records) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := vectorstore.CheckRecords(records, s.dimension); err != nil {
		return err
	}
	if s.dimension == 0 {
		s.dimension = len(records[0].Embedding)
	}
	for _, r := range records {
		if _, exists := s.records[r.ID]; !exists {
			s.order = append(s.order, r.ID)
		}
		s.records[r.ID] = domain.IndexRecord{
			ID:        r.ID,
			Embedding: slices.Clone(r.Embedding),
			Document:  r.Document,
			Metadata:  vectorstore.CloneMetadata(r.Metadata),
		}
	}
	return nil
}

// Query returns the k nearest records matching where, closest first.
func (s *Storage) Query(ctx context.Context, embedding []float32, k int, where map[string]string) ([]domain.QueryHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if k <= 0 || len(s.records) == 0 {
		return nil, nil
	}
	if len(embedding) != s.dimension {
		return nil, fmt.Errorf("query has %d dimensions, store has %d: %w", len(embedding), s.dimension, domain.ErrDimensionMismatch)
	}

	hits := make([]domain.QueryHit, 0, len(s.order))
	for _, id := range s.order {
		r := s.records[id]
		if !vectorstore.Matches(r.Metadata, where) {
			continue
		}
		hits = append(hits, domain.QueryHit{
			ID:       r.ID,
			Document: r.Document,
			Metadata: vectorstore.CloneMetadata(r.Metadata),
			Distance: vectorstore.CosineDistance(embedding, r.Embedding),
		})
	}
	vectorstore.SortHits(hits)
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

// Count returns the number of stored records.
func (s *Storage) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

// Reset removes every record.
func (s *Storage) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = nil
	s.records = make(map[string]domain.IndexRecord)
	return nil
}

func (s *Storage) Close() error { return nil }
