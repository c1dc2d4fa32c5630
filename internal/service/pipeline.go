package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"policyrag/internal/domain"
	"policyrag/internal/embedding"
	"policyrag/internal/loader"
)

// PipelineConfig wires the ingestion pipeline. Manifest is optional.
type PipelineConfig struct {
	Loader    *loader.Loader
	Chunker   domain.Chunker
	Embedder  domain.Embedder
	Store     domain.VectorStore
	Manifest  domain.Manifest
	BatchSize int
	Logger    *slog.Logger
}

// Pipeline turns documents on disk into index records.
type Pipeline struct {
	loader    *loader.Loader
	chunker   domain.Chunker
	embedder  domain.Embedder
	store     domain.VectorStore
	manifest  domain.Manifest
	batchSize int
	logger    *slog.Logger
	now       func() time.Time
}

// NewPipeline builds an ingestion pipeline from cfg.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Loader == nil {
		cfg.Loader = loader.New(cfg.Logger)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = embedding.DefaultBatchSize
	}
	return &Pipeline{
		loader:    cfg.Loader,
		chunker:   cfg.Chunker,
		embedder:  cfg.Embedder,
		store:     cfg.Store,
		manifest:  cfg.Manifest,
		batchSize: cfg.BatchSize,
		logger:    cfg.Logger,
		now:       time.Now,
	}
}

// ingested tracks one document's contribution to a batch.
type ingested struct {
	source   string
	filename string
	hash     string
	ids      []string
}

// IngestDocuments loads, chunks, embeds and stores the given files and
// returns the number of chunks written. A document that fails to load is
// logged and skipped. Embedding and store failures abort the batch.
func (p *Pipeline) IngestDocuments(ctx context.Context, paths []string) (int, error) {
	var (
		chunks []domain.Chunk
		docs   []ingested
	)
	for _, path := range paths {
		doc, err := p.loader.Load(path)
		if err != nil {
			p.logger.Error("skipping document", "path", path, "error", err)
			continue
		}
		docChunks := p.chunker.Chunk(doc.Content, doc.Metadata)
		kept := docChunks[:0]
		for _, c := range docChunks {
			if strings.TrimSpace(c.Text) != "" {
				kept = append(kept, c)
			}
		}
		entry := ingested{
			source:   doc.Metadata[domain.MetaSource],
			filename: doc.Metadata[domain.MetaFilename],
			hash:     contentHash(doc.Content),
		}
		for _, c := range kept {
			entry.ids = append(entry.ids, c.ID)
		}
		p.logger.Info("chunked document", "filename", entry.filename, "chunks", len(kept))
		chunks = append(chunks, kept...)
		docs = append(docs, entry)
	}

	chunks = dedupeByID(chunks, p.logger)
	if len(chunks) == 0 {
		p.logger.Warn("no chunks to ingest", "documents", len(paths))
		return 0, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	p.logger.Info("generating embeddings", "chunks", len(texts), "model", p.embedder.Model())
	vectors, err := p.embedder.EmbedBatch(ctx, texts, p.batchSize)
	if err != nil {
		return 0, fmt.Errorf("embed %d chunks: %w", len(texts), err)
	}

	records := make([]domain.IndexRecord, len(chunks))
	for i, c := range chunks {
		records[i] = domain.IndexRecord{
			ID:        c.ID,
			Embedding: vectors[i],
			Document:  c.Text,
			Metadata:  recordMetadata(c),
		}
	}
	if err := p.store.Upsert(ctx, records); err != nil {
		return 0, fmt.Errorf("upsert %d records: %w", len(records), err)
	}
	if total, err := p.store.Count(ctx); err != nil {
		p.logger.Warn("ingested chunks; collection size unavailable", "chunks", len(records), "documents", len(docs), "error", err)
	} else {
		p.logger.Info("ingested chunks", "chunks", len(records), "documents", len(docs), "collection_size", total)
	}

	p.record(ctx, docs)
	return len(records), nil
}

// IngestFromDirectory ingests every file in dir matching pattern. A missing
// or unreadable directory is logged and yields 0.
func (p *Pipeline) IngestFromDirectory(ctx context.Context, dir, pattern string) (int, error) {
	paths, err := p.loader.Discover(dir, pattern)
	if err != nil {
		p.logger.Warn("cannot list policy directory", "dir", dir, "pattern", pattern, "error", err)
		return 0, nil
	}
	if len(paths) == 0 {
		return 0, nil
	}
	return p.IngestDocuments(ctx, paths)
}

// record updates the manifest and warns about chunk ids that a previous
// ingestion wrote but this one did not. Those records stay in the store.
func (p *Pipeline) record(ctx context.Context, docs []ingested) {
	if p.manifest == nil {
		return
	}
	for _, d := range docs {
		prev, err := p.manifest.Get(ctx, d.source)
		switch {
		case err == nil:
			if stale := staleIDs(prev.ChunkIDs, d.ids); len(stale) > 0 {
				p.logger.Warn("document shrank; previous chunks remain in the index",
					"filename", d.filename, "stale_ids", stale)
			}
		case !errors.Is(err, domain.ErrNotFound):
			p.logger.Warn("manifest lookup failed", "source", d.source, "error", err)
		}
		entry := domain.ManifestEntry{
			Source:      d.source,
			Filename:    d.filename,
			ContentHash: d.hash,
			ChunkIDs:    d.ids,
			IngestedAt:  p.now().Unix(),
		}
		if entry.ChunkIDs == nil {
			entry.ChunkIDs = []string{}
		}
		if err := p.manifest.Put(ctx, entry); err != nil {
			p.logger.Warn("manifest update failed", "source", d.source, "error", err)
		}
	}
}

func recordMetadata(c domain.Chunk) map[string]string {
	meta := make(map[string]string, len(c.Metadata)+4)
	maps.Copy(meta, c.Metadata)
	meta[domain.MetaChunkID] = c.ID
	meta[domain.MetaTextLength] = strconv.Itoa(utf8.RuneCountInString(c.Text))
	meta[domain.MetaStartIndex] = strconv.Itoa(c.StartIndex)
	meta[domain.MetaEndIndex] = strconv.Itoa(c.EndIndex)
	return meta
}

// dedupeByID keeps the last chunk for each id, at the position of its first occurrence.
func dedupeByID(chunks []domain.Chunk, logger *slog.Logger) []domain.Chunk {
	pos := make(map[string]int, len(chunks))
	out := make([]domain.Chunk, 0, len(chunks))
	for _, c := range chunks {
		if i, ok := pos[c.ID]; ok {
			logger.Warn("duplicate chunk id in batch; keeping the later chunk", "chunk_id", c.ID)
			out[i] = c
			continue
		}
		pos[c.ID] = len(out)
		out = append(out, c)
	}
	return out
}

func staleIDs(before, after []string) []string {
	keep := make(map[string]struct{}, len(after))
	for _, id := range after {
		keep[id] = struct{}{}
	}
	var stale []string
	for _, id := range before {
		if _, ok := keep[id]; !ok {
			stale = append(stale, id)
		}
	}
	return stale
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
