package service

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"policyrag/internal/config"
	"policyrag/internal/domain"
	"policyrag/internal/embedding/hashing"
	"policyrag/internal/logging"
	"policyrag/internal/vectorstore/memory"
)

// spyStore wraps the memory store, counts writes and can be made to fail.
type spyStore struct {
	*memory.Storage
	mu       sync.Mutex
	upserts  int
	queryErr error
	countErr error
}

func newSpyStore() *spyStore { return &spyStore{Storage: memory.NewStorage(0)} }

func (s *spyStore) Upsert(ctx context.Context, records []domain.IndexRecord) error {
	s.mu.Lock()
	s.upserts++
	s.mu.Unlock()
	return s.Storage.Upsert(ctx, records)
}

func (s *spyStore) Query(ctx context.Context, emb []float32, k int, where map[string]string) ([]domain.QueryHit, error) {
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	return s.Storage.Query(ctx, emb, k, where)
}

func (s *spyStore) Count(ctx context.Context) (int, error) {
	if s.countErr != nil {
		return 0, s.countErr
	}
	return s.Storage.Count(ctx)
}

// failingEmbedder embeds nothing.
type failingEmbedder struct{ *hashing.Embedder }

func (failingEmbedder) EmbedBatch(context.Context, []string, int) ([][]float32, error) {
	return nil, errors.New("model offline")
}

func (failingEmbedder) EmbedText(context.Context, string) ([]float32, error) {
	return nil, errors.New("model offline")
}

// memManifest is an in-memory domain.Manifest.
type memManifest struct {
	mu      sync.Mutex
	entries map[string]domain.ManifestEntry
}

func newMemManifest() *memManifest {
	return &memManifest{entries: map[string]domain.ManifestEntry{}}
}

func (m *memManifest) Get(_ context.Context, source string) (domain.ManifestEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[source]
	if !ok {
		return domain.ManifestEntry{}, domain.ErrNotFound
	}
	return e, nil
}

func (m *memManifest) Put(_ context.Context, e domain.ManifestEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.Source] = e
	return nil
}

func (m *memManifest) List(context.Context) ([]domain.ManifestEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ManifestEntry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	return out, nil
}

func (m *memManifest) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = map[string]domain.ManifestEntry{}
	return nil
}

func (m *memManifest) Close() error { return nil }

func newEmbedder(t *testing.T) *hashing.Embedder {
	t.Helper()
	e, err := hashing.New(64, 2)
	require.NoError(t, err)
	return e
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// bufferLogger returns a debug-level text logger writing into buf.
func bufferLogger(buf *bytes.Buffer) *slog.Logger {
	return logging.NewWithWriter(config.LogConfig{Level: "debug"}, buf)
}

func repeat(word string, n int) string {
	return strings.TrimSpace(strings.Repeat(word+" ", n))
}
