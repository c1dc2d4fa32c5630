package domain

import "context"

// Metadata keys shared by the loader, chunker, pipeline and retrieval layers.
const (
	MetaSource        = "source"
	MetaFilename      = "filename"
	MetaFileType      = "file_type"
	MetaFileSize      = "file_size"
	MetaSectionHeader = "section_header"
	MetaChunkID       = "chunk_id"
	MetaTextLength    = "text_length"
	MetaStartIndex    = "start_index"
	MetaEndIndex      = "end_index"
)

// Document represents a single policy file loaded into the system.
// It is immutable once loaded and discarded after chunking.
type Document struct {
	Content  string
	Metadata map[string]string
}

// Chunk is a bounded, possibly overlapping slice of a document used for indexing.
// Offsets are measured in characters from the start of the document.
type Chunk struct {
	ID         string
	Text       string
	Metadata   map[string]string
	StartIndex int
	EndIndex   int
}

// IndexRecord is the tuple persisted in a vector store.
type IndexRecord struct {
	ID        string
	Embedding []float32
	Document  string
	Metadata  map[string]string
}

// QueryHit is a single nearest-neighbour match returned by a vector store.
// Distance is the cosine distance (1 - cosine similarity).
type QueryHit struct {
	ID       string
	Document string
	Metadata map[string]string
	Distance float64
}

// RetrievalResult represents a matching chunk with its distance and similarity.
type RetrievalResult struct {
	Text       string            `json:"text"`
	Metadata   map[string]string `json:"metadata"`
	Distance   float64           `json:"distance"`
	Similarity float64           `json:"similarity"`
}

// Chunker splits a document's content into chunks suitable for retrieval indexing.
type Chunker interface {
	Chunk(content string, metadata map[string]string) []Chunk
}

// Embedder converts free text into fixed-dimension, L2-normalized vectors.
// EmbedBatch must return vectors in input order.
type Embedder interface {
	Model() string
	Dimension() int
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string, batchSize int) ([][]float32, error)
	Close() error
}

// VectorStore persists index records and supports nearest-neighbour search.
// Upsert is keyed by record ID; later writes replace earlier ones.
type VectorStore interface {
	Upsert(ctx context.Context, records []IndexRecord) error
	Query(ctx context.Context, embedding []float32, k int, where map[string]string) ([]QueryHit, error)
	Count(ctx context.Context) (int, error)
	Reset(ctx context.Context) error
	Close() error
}

// ManifestEntry describes the last ingestion of one source document.
type ManifestEntry struct {
	Source      string   `json:"source"`
	Filename    string   `json:"filename"`
	ContentHash string   `json:"content_hash"`
	ChunkIDs    []string `json:"chunk_ids"`
	IngestedAt  int64    `json:"ingested_at"`
}

// Manifest keeps a per-document record of what was written to the index.
type Manifest interface {
	Get(ctx context.Context, source string) (ManifestEntry, error)
	Put(ctx context.Context, entry ManifestEntry) error
	List(ctx context.Context) ([]ManifestEntry, error)
	Clear(ctx context.Context) error
	Close() error
}
