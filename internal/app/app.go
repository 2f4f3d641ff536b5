// Package app wires configured services together.
package app

import (
	"context"
	"fmt"

	"github.com/xhad/reimburse/internal/types"
	"github.com/xhad/reimburse/pkg/classifier"
	"github.com/xhad/reimburse/pkg/config"
	"github.com/xhad/reimburse/pkg/extractor"
	"github.com/xhad/reimburse/pkg/indexer"
	"github.com/xhad/reimburse/pkg/ingest"
	"github.com/xhad/reimburse/pkg/llm"
	"github.com/xhad/reimburse/pkg/logger"
	"github.com/xhad/reimburse/pkg/processor"
	"github.com/xhad/reimburse/pkg/rag"
	"github.com/xhad/reimburse/pkg/store"
)

// App owns every long-lived service handle.
type App struct {
	Config  *config.Config
	Log     *logger.Logger
	Ingest  *ingest.Orchestrator
	Chatbot *rag.Chatbot

	closers []func()
}

func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}

	completer, embedder, err := a.models(ctx)
	if err != nil {
		return nil, err
	}

	vectorStore, err := store.NewWithConfig(ctx, store.VectorStoreConfig{
		ConnString:  cfg.Database.URL,
		TableName:   cfg.Database.TableName,
		VectorDim:   cfg.Database.VectorDim,
		SearchLimit: cfg.Database.SearchLimit,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize vector store: %w", err)
	}
	a.closers = append(a.closers, vectorStore.Close)

	proc := processor.NewWithConfig(processor.ProcessorConfig{
		MaxEmbedChars: cfg.Processor.MaxEmbedChars,
	})

	a.Ingest = ingest.NewWithConfig(
		ingest.OrchestratorConfig{UploadDir: cfg.Server.UploadDir, Log: log},
		extractor.NewWithConfig(extractor.ExtractorConfig{Log: log}),
		classifier.New(completer, classifier.ClassifierConfig{RateLimit: cfg.LLM.RateLimit, Log: log}),
		indexer.New(embedder, vectorStore, proc, log),
		proc,
	)

	a.Chatbot = rag.NewWithConfig(
		rag.ChatbotConfig{TopK: cfg.Database.SearchLimit, Log: log},
		completer, embedder, vectorStore,
	)

	log.Info("services initialized",
		"provider", cfg.LLM.Provider,
		"model", cfg.LLM.Model,
		"embedding_model", cfg.LLM.EmbeddingModel,
		"table", cfg.Database.TableName,
	)
	return a, nil
}

func (a *App) models(ctx context.Context) (types.Completer, types.Embedder, error) {
	cfg := a.Config.LLM

	switch cfg.Provider {
	case config.ProviderGemini:
		client, err := llm.NewGemini(ctx, llm.GeminiConfig{
			APIKey:         cfg.APIKey,
			Model:          cfg.Model,
			EmbeddingModel: cfg.EmbeddingModel,
			Temperature:    cfg.Temperature,
			MaxTokens:      cfg.MaxTokens,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize gemini: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := client.Close(); err != nil {
				a.Log.Warn("failed to close gemini client", "error", err)
			}
		})
		return client, client, nil

	case config.ProviderOllama:
		chatEngine, err := llm.NewWithConfig(llm.ChatConfig{
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			BaseURL:     cfg.BaseURL,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize chat engine: %w", err)
		}
		embedder, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
			Model:   cfg.EmbeddingModel,
			BaseURL: cfg.BaseURL,
		})
		if err != nil {
			return nil, nil, err
		}
		return chatEngine, embedder, nil

	default:
		return nil, nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}

// Close releases handles in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
