package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ent0n29/recall/internal/assistant"
	"github.com/ent0n29/recall/internal/completion"
	"github.com/ent0n29/recall/internal/config"
	"github.com/ent0n29/recall/internal/conversation"
	"github.com/ent0n29/recall/internal/embedding"
	"github.com/ent0n29/recall/internal/history"
	"github.com/ent0n29/recall/internal/httpapi"
	"github.com/ent0n29/recall/internal/memory"
	"github.com/ent0n29/recall/internal/observability"
	"github.com/ent0n29/recall/internal/prompts"
	"github.com/ent0n29/recall/internal/ranking"
	"github.com/ent0n29/recall/internal/vectorstore"
)

type BuildResult struct {
	Config    config.Config
	API       *httpapi.Server
	Assistant *assistant.Service
	Metrics   *observability.Metrics

	instructions []prompts.Source

	// Cleanup should be called on shutdown to release external resources (DB, vector index).
	Cleanup func() error
}

// Build constructs every service handle from cfg. Handles are opened here and
// released by Cleanup.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	var closers []func() error
	cleanup := func() error {
		var errs []string
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				errs = append(errs, err.Error())
			}
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}
	fail := func(err error) (*BuildResult, error) {
		_ = cleanup()
		return nil, err
	}

	store, err := memory.NewStore(ctx, memory.Options{
		DatabaseURL:     cfg.DatabaseURL,
		MongoDatabase:   cfg.MongoDatabase,
		MongoCollection: cfg.MongoCollection,
	})
	if err != nil {
		return nil, fmt.Errorf("memory store init failed: %w", err)
	}
	closers = append(closers, store.Close)

	strategy := history.Strategy(cfg.HistoryStrategy)

	var (
		batch   ranking.BatchEmbedder
		search  history.VectorSearcher
		writer  conversation.VectorWriter
		vectors assistant.VectorIndex
	)
	if strategy == history.StrategyEmbedding || strategy == history.StrategyVector {
		embedder, err := embedding.NewEmbedder(ctx, embedding.Config{
			Mode:         cfg.EmbeddingMode,
			Model:        cfg.EmbeddingModel,
			BaseURL:      cfg.EmbeddingBaseURL,
			APIKey:       cfg.EmbeddingAPIKey,
			GeminiAPIKey: cfg.GeminiAPIKey,
			Dimension:    cfg.EmbeddingDim,
			CacheSize:    cfg.EmbeddingCacheSize,
			Logger:       logger,
		})
		if err != nil {
			return fail(fmt.Errorf("embedder init failed: %w", err))
		}
		batch = embedder

		if strategy == history.StrategyVector {
			index, err := openIndex(ctx, cfg)
			if err != nil {
				return fail(err)
			}
			closers = append(closers, index.Close)
			adapter := vectorstore.NewAdapter(index, embedder, logger)
			search, writer, vectors = adapter, adapter, adapter
		}
	}

	selector, err := history.NewSelector(history.Config{
		Strategy:      strategy,
		RecentLimit:   cfg.HistoryRecentLimit,
		LexicalTopK:   cfg.HistoryLexicalTopK,
		EmbeddingTopK: cfg.HistoryEmbedTopK,
		VectorTopK:    cfg.HistoryVectorTopK,
		BM25:          ranking.BM25Params{K1: cfg.BM25K1, B: cfg.BM25B, Epsilon: cfg.BM25Epsilon},
	}, store, batch, search, logger)
	if err != nil {
		return fail(fmt.Errorf("history selector init failed: %w", err))
	}

	generator, err := completion.NewGenerator(ctx, completion.Config{
		Mode:            cfg.GeneratorMode,
		GeminiAPIKey:    cfg.GeminiAPIKey,
		GeminiModel:     cfg.GeminiModel,
		OpenAIAPIKey:    cfg.OpenAIAPIKey,
		OpenAIBaseURL:   cfg.OpenAIBaseURL,
		OpenAIModel:     cfg.OpenAIModel,
		HTTPURL:         cfg.GeneratorHTTPURL,
		CLIPath:         cfg.GeneratorCLIPath,
		Temperature:     cfg.GeneratorTemp,
		TopP:            cfg.GeneratorTopP,
		TopK:            cfg.GeneratorTopK,
		MaxOutputTokens: cfg.GeneratorMaxTokens,
		Logger:          logger,
	})
	if err != nil {
		return fail(fmt.Errorf("generator init failed: %w", err))
	}

	assistantInstruction, err := prompts.NewSource(cfg.AssistantPromptFile, prompts.DefaultAssistantInstruction, logger)
	if err != nil {
		return fail(fmt.Errorf("assistant instruction: %w", err))
	}
	enhanceInstruction, err := prompts.NewSource(cfg.EnhancePromptFile, prompts.DefaultQueryEnhancementInstruction, logger)
	if err != nil {
		return fail(fmt.Errorf("query enhancement instruction: %w", err))
	}

	persister, err := conversation.NewPersister(conversation.Config{
		Policy:    conversation.Policy(cfg.PersistPolicy),
		RedactPII: cfg.PersistRedactPII,
	}, store, writer, metrics, logger)
	if err != nil {
		return fail(fmt.Errorf("persister init failed: %w", err))
	}

	svc, err := assistant.NewService(assistant.Deps{
		Store:     store,
		Selector:  selector,
		Invoker:   completion.NewInvoker(generator, assistantInstruction, logger),
		Enhancer:  completion.NewEnhancer(generator, enhanceInstruction),
		Persister: persister,
		Vectors:   vectors,
		Metrics:   metrics,
		Logger:    logger,
	})
	if err != nil {
		return fail(err)
	}

	logger.Info("service assembled",
		"history_strategy", strategy,
		"persist_policy", persister.Policy(),
		"vector_index", vectors != nil,
	)

	return &BuildResult{
		Config:       cfg,
		API:          httpapi.New(cfg, svc, metrics, logger),
		Assistant:    svc,
		Metrics:      metrics,
		instructions: []prompts.Source{assistantInstruction, enhanceInstruction},
		Cleanup:      cleanup,
	}, nil
}

// WatchInstructions reloads file-backed system instructions on change until
// ctx is done.
func (b *BuildResult) WatchInstructions(ctx context.Context) error {
	for _, src := range b.instructions {
		fs, ok := src.(*prompts.FileSource)
		if !ok {
			continue
		}
		if err := fs.Watch(ctx); err != nil {
			return err
		}
	}
	return nil
}

func openIndex(ctx context.Context, cfg config.Config) (vectorstore.Index, error) {
	index, err := vectorstore.NewIndex(ctx, vectorstore.Config{
		Mode:           cfg.VectorIndexMode,
		Name:           cfg.VectorIndexName,
		Dimension:      cfg.EmbeddingDim,
		WeaviateURL:    cfg.WeaviateURL,
		WeaviateAPIKey: cfg.WeaviateAPIKey,
		PostgresURL:    cfg.VectorPostgresURL(),
	})
	if err != nil {
		return nil, fmt.Errorf("vector index init failed: %w", err)
	}
	return index, nil
}

// SetupIndex ensures the vector index schema exists and, when selfTest is set,
// verifies namespace isolation against it.
func SetupIndex(ctx context.Context, cfg config.Config, selfTest bool, logger *slog.Logger) error {
	index, err := openIndex(ctx, cfg)
	if err != nil {
		return err
	}
	defer index.Close()
	if !selfTest {
		return nil
	}
	return vectorstore.SelfTest(ctx, index, cfg.EmbeddingDim, logger)
}
