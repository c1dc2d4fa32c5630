// Package bootstrap assembles the embedder, vector store and manifest selected
// by the configuration and hands them to a service.Manager.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"policyrag/internal/chunker"
	"policyrag/internal/config"
	"policyrag/internal/domain"
	"policyrag/internal/embedding/cache"
	"policyrag/internal/embedding/gemini"
	"policyrag/internal/embedding/hashing"
	"policyrag/internal/embedding/ollama"
	"policyrag/internal/embedding/openai"
	"policyrag/internal/manifest"
	"policyrag/internal/service"
	"policyrag/internal/vectorstore/chromem"
	"policyrag/internal/vectorstore/memory"
	"policyrag/internal/vectorstore/qdrant"
)

// NewManager returns a Manager whose components are built from cfg on Init.
func NewManager(cfg *config.AppConfig, logger *slog.Logger) *service.Manager {
	return service.NewManager(service.ManagerConfig{
		Factory: Factory(cfg, logger),
		Chunker: chunker.NewMarkdownChunker(
			chunker.WithChunkSize(cfg.Chunker.ChunkSize),
			chunker.WithOverlap(cfg.Chunker.ChunkOverlap),
			chunker.WithMinChunkSize(cfg.Chunker.MinChunkSize),
		),
		BatchSize:       cfg.Embedder.BatchSize,
		TopK:            cfg.Retrieval.TopK,
		CollectionName:  cfg.VectorStore.CollectionName,
		PolicyDirectory: cfg.Ingestion.PolicyDirectory,
		Pattern:         cfg.Ingestion.Pattern,
		Logger:          logger,
	})
}

// Factory opens the configured components. On failure anything already
// opened is closed again.
func Factory(cfg *config.AppConfig, logger *slog.Logger) service.Factory {
	return func(ctx context.Context) (*service.Components, error) {
		emb, err := NewEmbedder(ctx, cfg.Embedder, logger)
		if err != nil {
			return nil, fmt.Errorf("embedder: %w", err)
		}
		st, err := NewStore(ctx, cfg.VectorStore, emb.Dimension(), logger)
		if err != nil {
			_ = emb.Close()
			return nil, fmt.Errorf("vector store: %w", err)
		}
		mf, err := NewManifest(cfg.Ingestion)
		if err != nil {
			_ = st.Close()
			_ = emb.Close()
			return nil, fmt.Errorf("manifest: %w", err)
		}
		comps := &service.Components{Embedder: emb, Store: st}
		if mf != nil {
			comps.Manifest = mf
		}
		return comps, nil
	}
}

// NewEmbedder creates the configured embedding provider, wrapped in the Redis
// cache when one is configured and reachable.
func NewEmbedder(ctx context.Context, cfg config.EmbedderConfig, logger *slog.Logger) (domain.Embedder, error) {
	var (
		emb domain.Embedder
		err error
	)
	switch cfg.Type {
	case config.EmbedderHashing, "":
		emb, err = hashing.New(cfg.Dimension, cfg.Workers)
	case config.EmbedderOllama:
		if cfg.Ollama == nil {
			return nil, fmt.Errorf("ollama embedder config missing: %w", domain.ErrFailedPrecondition)
		}
		emb, err = ollama.New(ctx, ollama.Config{
			BaseURL:           cfg.Ollama.BaseURL,
			Model:             cfg.Model,
			Timeout:           time.Duration(cfg.Ollama.TimeoutSecs) * time.Second,
			RequestsPerSecond: cfg.Ollama.RequestsPerSecond,
			Workers:           cfg.Workers,
			Logger:            logger,
		})
	case config.EmbedderOpenAI:
		if cfg.OpenAI == nil {
			return nil, fmt.Errorf("openai embedder config missing: %w", domain.ErrFailedPrecondition)
		}
		emb, err = openai.NewClient(ctx, openai.Config{
			BaseURL:    cfg.OpenAI.BaseURL,
			APIKeyEnv:  cfg.OpenAI.APIKeyEnv,
			Model:      cfg.Model,
			Timeout:    time.Duration(cfg.OpenAI.TimeoutSecs) * time.Second,
			MaxRetries: cfg.OpenAI.MaxRetries,
			Workers:    cfg.Workers,
			Logger:     logger,
		})
	case config.EmbedderGemini:
		if cfg.Gemini == nil {
			return nil, fmt.Errorf("gemini embedder config missing: %w", domain.ErrFailedPrecondition)
		}
		emb, err = gemini.New(ctx, gemini.Config{
			APIKey:  os.Getenv(cfg.Gemini.APIKeyEnv),
			Model:   cfg.Model,
			Workers: cfg.Workers,
			Logger:  logger,
		})
	default:
		return nil, fmt.Errorf("unknown embedder %q: %w", cfg.Type, domain.ErrInvalidInput)
	}
	if err != nil {
		return nil, err
	}
	if cfg.Cache.RedisURL == "" {
		return emb, nil
	}
	return withCache(ctx, emb, cfg.Cache, logger), nil
}

func withCache(ctx context.Context, emb domain.Embedder, cfg config.CacheConfig, logger *slog.Logger) domain.Embedder {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Warn("invalid redis url, embedding cache disabled", "error", err)
		return emb
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable, embedding cache disabled", "addr", opts.Addr, "error", err)
		_ = client.Close()
		return emb
	}
	logger.Info("embedding cache enabled", "addr", opts.Addr, "ttl_hours", cfg.TTLHours)
	return cache.New(client, emb, time.Duration(cfg.TTLHours)*time.Hour, logger)
}

// NewStore creates the configured vector store for vectors of dimension dim.
func NewStore(ctx context.Context, cfg config.VectorStoreConfig, dim int, logger *slog.Logger) (domain.VectorStore, error) {
	switch cfg.Type {
	case config.StoreChromem, "":
		return chromem.New(chromem.Config{
			PersistDirectory: cfg.PersistDirectory,
			Compress:         cfg.Compress,
			Collection:       cfg.CollectionName,
			Dimension:        dim,
			Logger:           logger,
		})
	case config.StoreMemory:
		return memory.NewStorage(dim), nil
	case config.StoreQdrant:
		if cfg.Qdrant == nil {
			return nil, fmt.Errorf("qdrant config missing: %w", domain.ErrFailedPrecondition)
		}
		return qdrant.New(ctx, qdrant.Config{
			URL:        cfg.Qdrant.URL,
			APIKey:     cfg.Qdrant.APIKey,
			Collection: cfg.CollectionName,
			Dimension:  dim,
			Timeout:    time.Duration(cfg.Qdrant.TimeoutSecs) * time.Second,
			Logger:     logger,
		})
	default:
		return nil, fmt.Errorf("unknown vector store %q: %w", cfg.Type, domain.ErrInvalidInput)
	}
}

// NewManifest opens the ingestion manifest. An empty path disables it and returns nil.
func NewManifest(cfg config.IngestionConfig) (*manifest.Store, error) {
	if cfg.ManifestPath == "" {
		return nil, nil
	}
	return manifest.Open(cfg.ManifestPath)
}
