// Package chromem stores index records in an embedded chromem-go database,
// persisted to a directory on disk.
package chromem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/philippgille/chromem-go"

	"policyrag/internal/domain"
	"policyrag/internal/vectorstore"
)

var _ domain.VectorStore = (*Storage)(nil)

// errNoEmbedFunc is returned if chromem ever tries to embed text itself.
// Every record and query arrives with its embedding already computed.
var errNoEmbedFunc = errors.New("chromem collection has no embedding function")

// Config configures the chromem store.
type Config struct {
	// PersistDirectory holds the database files. Empty keeps everything in memory.
	PersistDirectory string
	Compress         bool
	Collection       string
	// Dimension is the expected vector size. Zero accepts the first size written.
	Dimension int
	Logger    *slog.Logger
}

// Storage is a domain.VectorStore backed by one chromem collection.
type Storage struct {
	mu         sync.RWMutex
	db         *chromem.DB
	collection *chromem.Collection
	name       string
	dimension  int
	logger     *slog.Logger
}

// New opens (or creates) the database and the named collection.
func New(cfg Config) (*Storage, error) {
	if cfg.Collection == "" {
		return nil, fmt.Errorf("chromem collection name is empty: %w", domain.ErrInvalidInput)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var db *chromem.DB
	if cfg.PersistDirectory == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(cfg.PersistDirectory, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("open chromem db at %s: %w", cfg.PersistDirectory, err)
		}
	}

	s := &Storage{db: db, name: cfg.Collection, dimension: cfg.Dimension, logger: cfg.Logger}
	if err := s.open(); err != nil {
		return nil, err
	}
	if err := s.checkStoredDimension(); err != nil {
		return nil, err
	}
	s.logger.Debug("chromem collection opened",
		"collection", s.name, "path", cfg.PersistDirectory, "documents", s.collection.Count())
	return s, nil
}

func (s *Storage) open() error {
	metadata := map[string]string{"hnsw:space": "cosine"}
	c, err := s.db.GetOrCreateCollection(s.name, metadata, noEmbed)
	if err != nil {
		return fmt.Errorf("open collection %s: %w", s.name, err)
	}
	s.collection = c
	return nil
}

// checkStoredDimension rejects a persisted collection whose vectors were
// written with a different dimension. chromem keeps no per-collection
// dimension, so one stored vector is fetched with a unit query of the
// expected size; a length mismatch makes that query fail.
func (s *Storage) checkStoredDimension() error {
	if s.dimension == 0 || s.collection.Count() == 0 {
		return nil
	}
	unit := make([]float32, s.dimension)
	unit[0] = 1
	res, err := s.collection.QueryEmbedding(context.Background(), unit, 1, nil, nil)
	if err != nil {
		return fmt.Errorf("collection %s does not hold %d-dimensional vectors (%v), remove it or set another collection name: %w",
			s.name, s.dimension, err, domain.ErrDimensionMismatch)
	}
	if len(res) > 0 && len(res[0].Embedding) != s.dimension {
		return fmt.Errorf("collection %s holds %d-dimensional vectors, embedder produces %d: %w",
			s.name, len(res[0].Embedding), s.dimension, domain.ErrDimensionMismatch)
	}
	return nil
}

func noEmbed(context.Context, string) ([]float32, error) { return nil, errNoEmbedFunc }

// Upsert writes records, replacing any with the same id.
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

	docs := make([]chromem.Document, len(records))
	for i, r := range records {
		docs[i] = chromem.Document{
			ID:        r.ID,
			Metadata:  vectorstore.CloneMetadata(r.Metadata),
			Embedding: r.Embedding,
			Content:   r.Document,
		}
	}
	if err := s.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("add %d documents to %s: %w", len(docs), s.name, err)
	}
	return nil
}

// Query returns up to k hits matching where, closest first.
func (s *Storage) Query(ctx context.Context, embedding []float32, k int, where map[string]string) ([]domain.QueryHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := s.collection.Count()
	if k <= 0 || count == 0 {
		return nil, nil
	}
	if s.dimension > 0 && len(embedding) != s.dimension {
		return nil, fmt.Errorf("query has %d dimensions, store has %d: %w", len(embedding), s.dimension, domain.ErrDimensionMismatch)
	}
	// chromem rejects nResults above the collection size.
	n := min(k, count)
	if len(where) == 0 {
		where = nil
	}
	results, err := s.collection.QueryEmbedding(ctx, embedding, n, where, nil)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", s.name, err)
	}

	hits := make([]domain.QueryHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, domain.QueryHit{
			ID:       r.ID,
			Document: r.Content,
			Metadata: vectorstore.CloneMetadata(r.Metadata),
			Distance: 1 - float64(r.Similarity),
		})
	}
	vectorstore.SortHits(hits)
	return hits, nil
}

// Count returns the number of documents in the collection.
func (s *Storage) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collection.Count(), nil
}

// Reset drops the collection and recreates it empty.
func (s *Storage) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.DeleteCollection(s.name); err != nil {
		return fmt.Errorf("delete collection %s: %w", s.name, err)
	}
	s.logger.Info("collection reset", "collection", s.name)
	return s.open()
}

// Close is a no-op; persistent writes are flushed as documents are added.
func (s *Storage) Close() error { return nil }
