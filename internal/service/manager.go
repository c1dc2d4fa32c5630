package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"policyrag/internal/chunker"
	"policyrag/internal/domain"
	"policyrag/internal/loader"
)

// Components are the long-lived collaborators owned by a Manager.
// Manifest may be nil.
type Components struct {
	Embedder domain.Embedder
	Store    domain.VectorStore
	Manifest domain.Manifest
}

// Factory opens the embedder, the store and the manifest. It runs once, inside Init.
type Factory func(ctx context.Context) (*Components, error)

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Factory         Factory
	Chunker         domain.Chunker
	BatchSize       int
	TopK            int
	CollectionName  string
	PolicyDirectory string
	Pattern         string
	Logger          *slog.Logger
}

// Stats summarizes the index for status reporting.
type Stats struct {
	Collection string                 `json:"collection"`
	Chunks     int                    `json:"chunks"`
	Model      string                 `json:"model"`
	Dimension  int                    `json:"dimension"`
	Documents  []domain.ManifestEntry `json:"documents,omitempty"`
}

// Manager owns the ingestion pipeline and the retriever and shares one
// embedder between them, so queries and indexed chunks live in the same
// vector space. Every method except Init and Close requires a successful Init.
type Manager struct {
	cfg    ManagerConfig
	logger *slog.Logger

	once    sync.Once
	ready   atomic.Bool
	initErr error

	comps     *Components
	pipeline  *Pipeline
	retriever *Retriever
}

// NewManager wires a manager from cfg. Call Init before use.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Chunker == nil {
		cfg.Chunker = chunker.NewMarkdownChunker()
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.Pattern == "" {
		cfg.Pattern = loader.DefaultPattern
	}
	return &Manager{cfg: cfg, logger: cfg.Logger}
}

// Init builds the components exactly once. Concurrent callers block until
// the first call finishes and all observe its result; a failed Init stays failed.
func (m *Manager) Init(ctx context.Context) error {
	m.once.Do(func() {
		m.initErr = m.init(ctx)
	})
	return m.initErr
}

func (m *Manager) init(ctx context.Context) error {
	if m.cfg.Factory == nil {
		return fmt.Errorf("manager has no factory: %w", domain.ErrFailedPrecondition)
	}
	m.logger.Info("initializing policy retrieval")
	comps, err := m.cfg.Factory(ctx)
	if err != nil {
		m.logger.Error("failed to initialize policy retrieval", "error", err)
		return fmt.Errorf("initialize components: %w", err)
	}
	if comps == nil || comps.Embedder == nil || comps.Store == nil {
		return fmt.Errorf("factory returned incomplete components: %w", domain.ErrFailedPrecondition)
	}
	m.comps = comps
	m.pipeline = NewPipeline(PipelineConfig{
		Loader:    loader.New(m.logger),
		Chunker:   m.cfg.Chunker,
		Embedder:  comps.Embedder,
		Store:     comps.Store,
		Manifest:  comps.Manifest,
		BatchSize: m.cfg.BatchSize,
		Logger:    m.logger,
	})
	m.retriever = NewRetriever(comps.Embedder, comps.Store, m.cfg.TopK, m.logger)
	m.ready.Store(true)
	m.logger.Info("policy retrieval initialized", "model", comps.Embedder.Model(), "dimension", comps.Embedder.Dimension())
	return nil
}

func (m *Manager) check() error {
	if !m.ready.Load() {
		return fmt.Errorf("manager not initialized: %w", domain.ErrNotReady)
	}
	return nil
}

// EnsureIngested ingests the policy directory when the index is empty and
// returns the number of chunks written. A missing directory is created.
func (m *Manager) EnsureIngested(ctx context.Context) (int, error) {
	if err := m.check(); err != nil {
		return 0, err
	}
	count, err := m.comps.Store.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count index: %w", err)
	}
	if count > 0 {
		m.logger.Info("collection already populated", "chunks", count)
		return 0, nil
	}

	m.logger.Info("collection is empty, starting ingestion", "dir", m.cfg.PolicyDirectory)
	if _, err := os.Stat(m.cfg.PolicyDirectory); errors.Is(err, os.ErrNotExist) {
		m.logger.Warn("policy directory not found, creating it", "dir", m.cfg.PolicyDirectory)
		if err := os.MkdirAll(m.cfg.PolicyDirectory, 0o755); err != nil {
			m.logger.Warn("cannot create policy directory", "dir", m.cfg.PolicyDirectory, "error", err)
		}
	}
	n, err := m.pipeline.IngestFromDirectory(ctx, m.cfg.PolicyDirectory, m.cfg.Pattern)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		m.logger.Warn("no documents were ingested; add policy documents", "dir", m.cfg.PolicyDirectory)
	}
	return n, nil
}

// Retrieve returns the best matches for query, or nothing on any failure.
func (m *Manager) Retrieve(ctx context.Context, query string, topK int, filter map[string]string) []domain.RetrievalResult {
	if err := m.check(); err != nil {
		m.logger.Error("error retrieving chunks", "error", err)
		return nil
	}
	return m.retriever.Retrieve(ctx, query, topK, filter)
}

// Search is Retrieve with failures reported to the caller.
func (m *Manager) Search(ctx context.Context, query string, topK int, filter map[string]string) ([]domain.RetrievalResult, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	return m.retriever.Search(ctx, query, topK, filter)
}

// FormatContext renders results for an LLM prompt.
func (m *Manager) FormatContext(results []domain.RetrievalResult) string {
	return FormatContext(results)
}

// IngestDocuments ingests the given files and returns the number of chunks written.
func (m *Manager) IngestDocuments(ctx context.Context, paths []string) (int, error) {
	if err := m.check(); err != nil {
		return 0, err
	}
	return m.pipeline.IngestDocuments(ctx, paths)
}

// IngestFromDirectory ingests dir; an empty dir or pattern uses the configured one.
func (m *Manager) IngestFromDirectory(ctx context.Context, dir, pattern string) (int, error) {
	if err := m.check(); err != nil {
		return 0, err
	}
	if dir == "" {
		dir = m.cfg.PolicyDirectory
	}
	if pattern == "" {
		pattern = m.cfg.Pattern
	}
	return m.pipeline.IngestFromDirectory(ctx, dir, pattern)
}

// Stats reports the collection size, embedder and ingested documents.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	if err := m.check(); err != nil {
		return Stats{}, err
	}
	count, err := m.comps.Store.Count(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("count index: %w", err)
	}
	st := Stats{
		Collection: m.cfg.CollectionName,
		Chunks:     count,
		Model:      m.comps.Embedder.Model(),
		Dimension:  m.comps.Embedder.Dimension(),
	}
	if m.comps.Manifest != nil {
		if st.Documents, err = m.comps.Manifest.List(ctx); err != nil {
			return Stats{}, fmt.Errorf("list manifest: %w", err)
		}
	}
	return st, nil
}

// Reset empties the index and the manifest.
func (m *Manager) Reset(ctx context.Context) error {
	if err := m.check(); err != nil {
		return err
	}
	if err := m.comps.Store.Reset(ctx); err != nil {
		return fmt.Errorf("reset index: %w", err)
	}
	if m.comps.Manifest != nil {
		if err := m.comps.Manifest.Clear(ctx); err != nil {
			return fmt.Errorf("clear manifest: %w", err)
		}
	}
	m.logger.Info("index reset", "collection", m.cfg.CollectionName)
	return nil
}

// Close releases the store, the embedder and the manifest.
func (m *Manager) Close() error {
	if m.comps == nil {
		return nil
	}
	errs := []error{m.comps.Store.Close(), m.comps.Embedder.Close()}
	if m.comps.Manifest != nil {
		errs = append(errs, m.comps.Manifest.Close())
	}
	return errors.Join(errs...)
}
