package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Embedder and vector store implementations.
const (
	EmbedderHashing = "hashing"
	EmbedderOllama  = "ollama"
	EmbedderOpenAI  = "openai"
	EmbedderGemini  = "gemini"

	StoreChromem = "chromem"
	StoreMemory  = "memory"
	StoreQdrant  = "qdrant"
)

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries"`
}

// OllamaEmbedderConfig holds configuration for a local Ollama server.
type OllamaEmbedderConfig struct {
	BaseURL           string  `yaml:"base_url"`
	TimeoutSecs       int     `yaml:"timeout_secs"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// GeminiEmbedderConfig holds configuration for the Google Generative AI embedder.
type GeminiEmbedderConfig struct {
	APIKeyEnv string `yaml:"api_key_env"`
}

// CacheConfig enables the Redis embedding cache when URL is set.
type CacheConfig struct {
	RedisURL string `yaml:"redis_url"`
	TTLHours int    `yaml:"ttl_hours"`
}

// EmbedderConfig selects and configures the embedding provider.
type EmbedderConfig struct {
	Type      string                `yaml:"type"`
	Model     string                `yaml:"model"`
	Dimension int                   `yaml:"dimension"`
	BatchSize int                   `yaml:"batch_size"`
	Workers   int                   `yaml:"workers"`
	OpenAI    *OpenAIEmbedderConfig `yaml:"openai,omitempty"`
	Ollama    *OllamaEmbedderConfig `yaml:"ollama,omitempty"`
	Gemini    *GeminiEmbedderConfig `yaml:"gemini,omitempty"`
	Cache     CacheConfig           `yaml:"cache"`
}

// ChunkerConfig configures how documents are split into chunks.
type ChunkerConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
	MinChunkSize int `yaml:"min_chunk_size"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type             string        `yaml:"type"`
	CollectionName   string        `yaml:"collection_name"`
	PersistDirectory string        `yaml:"persist_directory"`
	Compress         bool          `yaml:"compress"`
	Qdrant           *QdrantConfig `yaml:"qdrant,omitempty"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKey      string `yaml:"api_key"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// RetrievalConfig configures the retrieval service.
type RetrievalConfig struct {
	TopK int `yaml:"top_k"`
}

// IngestionConfig configures where policy documents come from.
type IngestionConfig struct {
	PolicyDirectory string `yaml:"policy_directory"`
	Pattern         string `yaml:"pattern"`
	ManifestPath    string `yaml:"manifest_path"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Embedder    EmbedderConfig    `yaml:"embedder"`
	Chunker     ChunkerConfig     `yaml:"chunker"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Ingestion   IngestionConfig   `yaml:"ingestion"`
	Log         LogConfig         `yaml:"log"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
// Environment overrides are applied last in both cases.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := Default()
			ApplyEnv(cfg)
			return cfg, nil
		}
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyConfigDefaults(cfg)
	ApplyEnv(cfg)
	return cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/policyrag/config.yaml.
// If neither exists, it writes defaults to ~/.config/policyrag/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := Default()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	ApplyEnv(cfg)
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "policyrag", "config.yaml"), nil
}

// Default returns the built-in configuration.
func Default() *AppConfig {
	return &AppConfig{
		Embedder: EmbedderConfig{
			Type:      EmbedderHashing,
			Dimension: 384,
			BatchSize: 32,
			Workers:   4,
			Cache:     CacheConfig{TTLHours: 24 * 7},
		},
		Chunker: ChunkerConfig{ChunkSize: 500, ChunkOverlap: 100, MinChunkSize: 100},
		VectorStore: VectorStoreConfig{
			Type:             StoreChromem,
			CollectionName:   "hr_policies",
			PersistDirectory: "./chroma_db",
		},
		Retrieval: RetrievalConfig{TopK: 3},
		Ingestion: IngestionConfig{
			PolicyDirectory: "./docs/policies",
			Pattern:         "*.md",
			ManifestPath:    "./chroma_db/manifest.db",
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

func applyConfigDefaults(cfg *AppConfig) {
	def := Default()
	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = def.Embedder.Type
	}
	if cfg.Embedder.BatchSize == 0 {
		cfg.Embedder.BatchSize = def.Embedder.BatchSize
	}
	if cfg.Embedder.Workers == 0 {
		cfg.Embedder.Workers = def.Embedder.Workers
	}
	if cfg.Embedder.Type == EmbedderHashing && cfg.Embedder.Dimension == 0 {
		cfg.Embedder.Dimension = def.Embedder.Dimension
	}
	if cfg.Embedder.Type == EmbedderOpenAI {
		if cfg.Embedder.OpenAI == nil {
			cfg.Embedder.OpenAI = &OpenAIEmbedderConfig{}
		}
		if cfg.Embedder.OpenAI.BaseURL == "" {
			cfg.Embedder.OpenAI.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.Embedder.OpenAI.APIKeyEnv == "" {
			cfg.Embedder.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
		}
		if cfg.Embedder.OpenAI.TimeoutSecs == 0 {
			cfg.Embedder.OpenAI.TimeoutSecs = 30
		}
		if cfg.Embedder.OpenAI.MaxRetries == 0 {
			cfg.Embedder.OpenAI.MaxRetries = 5
		}
		if cfg.Embedder.Model == "" {
			cfg.Embedder.Model = "text-embedding-3-small"
		}
	}
	if cfg.Embedder.Type == EmbedderOllama {
		if cfg.Embedder.Ollama == nil {
			cfg.Embedder.Ollama = &OllamaEmbedderConfig{}
		}
		if cfg.Embedder.Ollama.BaseURL == "" {
			cfg.Embedder.Ollama.BaseURL = "http://localhost:11434"
		}
		if cfg.Embedder.Ollama.TimeoutSecs == 0 {
			cfg.Embedder.Ollama.TimeoutSecs = 30
		}
		if cfg.Embedder.Model == "" {
			cfg.Embedder.Model = "all-minilm"
		}
	}
	if cfg.Embedder.Type == EmbedderGemini {
		if cfg.Embedder.Gemini == nil {
			cfg.Embedder.Gemini = &GeminiEmbedderConfig{}
		}
		if cfg.Embedder.Gemini.APIKeyEnv == "" {
			cfg.Embedder.Gemini.APIKeyEnv = "GEMINI_API_KEY"
		}
		if cfg.Embedder.Model == "" {
			cfg.Embedder.Model = "text-embedding-004"
		}
	}
	if cfg.Chunker.ChunkSize == 0 {
		cfg.Chunker.ChunkSize = def.Chunker.ChunkSize
	}
	if cfg.VectorStore.Type == "" {
		cfg.VectorStore.Type = def.VectorStore.Type
	}
	if cfg.VectorStore.CollectionName == "" {
		cfg.VectorStore.CollectionName = def.VectorStore.CollectionName
	}
	if cfg.VectorStore.Type == StoreQdrant {
		if cfg.VectorStore.Qdrant == nil {
			cfg.VectorStore.Qdrant = &QdrantConfig{}
		}
		if cfg.VectorStore.Qdrant.URL == "" {
			cfg.VectorStore.Qdrant.URL = "http://localhost:6333"
		}
		if cfg.VectorStore.Qdrant.TimeoutSecs == 0 {
			cfg.VectorStore.Qdrant.TimeoutSecs = 15
		}
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = def.Retrieval.TopK
	}
	if cfg.Ingestion.Pattern == "" {
		cfg.Ingestion.Pattern = def.Ingestion.Pattern
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = def.Log.Format
	}
}

// ApplyEnv overrides configuration values from POLICYRAG_* environment variables.
func ApplyEnv(cfg *AppConfig) {
	setInt(&cfg.Chunker.ChunkSize, "POLICYRAG_CHUNK_SIZE")
	setInt(&cfg.Chunker.ChunkOverlap, "POLICYRAG_CHUNK_OVERLAP")
	setInt(&cfg.Chunker.MinChunkSize, "POLICYRAG_MIN_CHUNK_SIZE")
	setInt(&cfg.Retrieval.TopK, "POLICYRAG_TOP_K")
	setInt(&cfg.Embedder.Dimension, "POLICYRAG_EMBEDDING_DIMENSION")
	setInt(&cfg.Embedder.BatchSize, "POLICYRAG_EMBEDDING_BATCH_SIZE")
	setString(&cfg.Embedder.Type, "POLICYRAG_EMBEDDER")
	setString(&cfg.Embedder.Model, "POLICYRAG_EMBEDDING_MODEL")
	setString(&cfg.Embedder.Cache.RedisURL, "POLICYRAG_REDIS_URL")
	setString(&cfg.VectorStore.Type, "POLICYRAG_VECTOR_STORE")
	setString(&cfg.VectorStore.CollectionName, "POLICYRAG_COLLECTION_NAME")
	setString(&cfg.VectorStore.PersistDirectory, "POLICYRAG_PERSIST_DIRECTORY")
	setString(&cfg.Ingestion.PolicyDirectory, "POLICYRAG_POLICY_DIRECTORY")
	setString(&cfg.Ingestion.ManifestPath, "POLICYRAG_MANIFEST_PATH")
	setString(&cfg.Log.Level, "POLICYRAG_LOG_LEVEL")
	setString(&cfg.Log.Format, "POLICYRAG_LOG_FORMAT")
	applyConfigDefaults(cfg)
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// Validate reports configuration that would make the pipeline misbehave.
func (c *AppConfig) Validate() error {
	var errs []error
	if c.Chunker.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("chunker.chunk_size must be positive, got %d", c.Chunker.ChunkSize))
	}
	if c.Chunker.ChunkOverlap < 0 || c.Chunker.ChunkOverlap >= c.Chunker.ChunkSize {
		errs = append(errs, fmt.Errorf("chunker.chunk_overlap must be in [0, chunk_size), got %d", c.Chunker.ChunkOverlap))
	}
	if c.Chunker.MinChunkSize < 0 {
		errs = append(errs, fmt.Errorf("chunker.min_chunk_size must not be negative, got %d", c.Chunker.MinChunkSize))
	}
	if c.Retrieval.TopK <= 0 {
		errs = append(errs, fmt.Errorf("retrieval.top_k must be positive, got %d", c.Retrieval.TopK))
	}
	switch c.Embedder.Type {
	case EmbedderHashing, EmbedderOllama, EmbedderOpenAI, EmbedderGemini:
	default:
		errs = append(errs, fmt.Errorf("unknown embedder: %s", c.Embedder.Type))
	}
	switch c.VectorStore.Type {
	case StoreChromem, StoreMemory, StoreQdrant:
	default:
		errs = append(errs, fmt.Errorf("unknown vector store: %s", c.VectorStore.Type))
	}
	return errors.Join(errs...)
}
