package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xhad/lumina/internal/types"
	"github.com/xhad/lumina/pkg/chunker"
	cfgPkg "github.com/xhad/lumina/pkg/config"
	"github.com/xhad/lumina/pkg/extract"
	"github.com/xhad/lumina/pkg/ingest"
	"github.com/xhad/lumina/pkg/llm"
	"github.com/xhad/lumina/pkg/rag"
	"github.com/xhad/lumina/pkg/retry"
	"github.com/xhad/lumina/pkg/scraper"
	"github.com/xhad/lumina/pkg/store"
)

// app holds the components every command shares, built once from the configuration.
type app struct {
	config   *cfgPkg.Config
	logger   *slog.Logger
	store    types.VectorStore
	embedder *llm.Embedder
	chat     *llm.ChatEngine
	engine   *rag.Engine
}

func retryPolicy(config *cfgPkg.Config) retry.Policy {
	return retry.Policy{
		MaxAttempts: config.LLM.MaxRetries,
		BaseDelay:   config.LLM.BackoffBase,
		MaxDelay:    config.LLM.BackoffMax,
		Multiplier:  2,
	}
}

// openStore opens the pgvector store, or an in-process one for a memory:// URL.
func openStore(ctx context.Context, config *cfgPkg.Config, logger *slog.Logger) (types.VectorStore, error) {
	if config.UsesMemoryStore() {
		logger.Warn("memory_store_selected", "dimension", config.Database.VectorDim)
		return store.NewMemoryStore(config.Database.VectorDim), nil
	}

	vs, err := store.NewWithConfig(ctx, store.VectorStoreConfig{
		ConnString:    config.Database.URL,
		TableName:     config.Database.TableName,
		VectorDim:     config.Database.VectorDim,
		CandidatePool: config.Database.CandidatePool,
		AutoMigrate:   *config.Database.AutoMigrate,
		Retry:         retryPolicy(config),
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector store: %w", err)
	}
	return vs, nil
}

func newApp(ctx context.Context, config *cfgPkg.Config, logger *slog.Logger) (*app, error) {
	if config == nil {
		return nil, errNoConfig
	}

	pc := config.ProviderConfig()
	provider, err := llm.NewProvider(pc)
	if err != nil {
		return nil, err
	}
	logger.Debug("provider_selected", "provider", provider.Kind)

	embedder, err := llm.NewEmbedderWithConfig(provider.Embeddings, llm.EmbedderConfig{
		Model:     pc.EmbeddingModel,
		Dimension: config.Database.VectorDim,
		BatchSize: config.LLM.BatchSize,
		Timeout:   config.LLM.Timeout,
		RateLimit: config.LLM.RateLimit,
		Retry:     retryPolicy(config),
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	counter := llm.NewTokenCounter(pc.ChatModel, logger)
	chat, err := llm.NewWithConfig(provider.Chat, llm.ChatConfig{
		Model:     pc.ChatModel,
		MaxTokens: config.LLM.MaxTokens,
		Timeout:   config.LLM.Timeout,
		RateLimit: config.LLM.RateLimit,
		Retry:     retryPolicy(config),
		Counter:   counter,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize chat engine: %w", err)
	}

	vs, err := openStore(ctx, config, logger)
	if err != nil {
		return nil, err
	}

	engine, err := rag.NewEngine(rag.EngineConfig{
		Embedder:      embedder,
		Store:         vs,
		Generator:     chat,
		Counter:       counter,
		TopK:          config.Retrieval.TopK,
		ContextBudget: config.LLM.ContextBudget,
		Temperature:   config.LLM.Temperature,
		Logger:        logger,
	})
	if err != nil {
		vs.Close()
		return nil, err
	}

	return &app{
		config:   config,
		logger:   logger,
		store:    vs,
		embedder: embedder,
		chat:     chat,
		engine:   engine,
	}, nil
}

// pipeline builds an ingestion pipeline reporting each finished source to onSource.
func (a *app) pipeline(onSource func(sourceRef string, chunkIDs []string, err error)) (*ingest.Pipeline, error) {
	return ingest.New(ingest.PipelineConfig{
		Chunker: chunker.NewWithConfig(chunker.ChunkerConfig{
			ChunkSize:    a.config.Chunking.ChunkSize,
			ChunkOverlap: a.config.Chunking.Overlap(),
		}),
		Embedder:  a.embedder,
		Store:     a.store,
		Extractor: extract.New(),
		Logger:    a.logger,
		OnSource:  onSource,
	})
}

func (a *app) scraperConfig() scraper.ScraperConfig {
	return scraper.ScraperConfig{
		MaxDepth:          a.config.Scraper.MaxDepth,
		MaxPages:          a.config.Scraper.MaxPages,
		RateLimit:         a.config.Scraper.RateLimit,
		IgnorePatterns:    a.config.Scraper.IgnorePatterns,
		AllowedExtensions: a.config.Scraper.AllowedExtensions,
		Logger:            a.logger,
	}
}

func (a *app) Close() {
	a.store.Close()
}
