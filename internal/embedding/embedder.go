// Package embedding turns text into fixed-dimension dense vectors.
package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Embedder computes dense vectors. Implementations must be deterministic for
// identical input text and safe for concurrent use.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// DefaultLocalModel is the sentence-transformers model the 384-dim default
// corresponds to. OpenAI-compatible servers can serve it under this name.
const DefaultLocalModel = "all-MiniLM-L6-v2"

const defaultGeminiModel = "text-embedding-004"

// Config controls embedder construction.
type Config struct {
	Mode         string
	Model        string
	BaseURL      string
	APIKey       string
	GeminiAPIKey string
	Dimension    int
	CacheSize    int
	Logger       *slog.Logger
}

// NewEmbedder builds the embedder selected by cfg.Mode and wraps it in an LRU
// cache when cfg.CacheSize > 0.
func NewEmbedder(ctx context.Context, cfg Config) (Embedder, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive")
	}
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}
	if mode == "auto" {
		switch {
		case strings.TrimSpace(cfg.BaseURL) != "" || strings.TrimSpace(cfg.APIKey) != "":
			mode = "openai"
		case strings.TrimSpace(cfg.GeminiAPIKey) != "":
			mode = "gemini"
		default:
			mode = "hash"
		}
	}

	var (
		base Embedder
		err  error
	)
	switch mode {
	case "openai":
		base = NewOpenAIEmbedder(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Dimension)
	case "gemini":
		model := cfg.Model
		if model == "" || model == DefaultLocalModel {
			model = defaultGeminiModel
		}
		base, err = NewGeminiEmbedder(ctx, cfg.GeminiAPIKey, model, cfg.Dimension)
		if err != nil {
			return nil, err
		}
	case "hash":
		base = NewHashEmbedder(cfg.Dimension)
	default:
		return nil, fmt.Errorf("unsupported embedding mode %q", cfg.Mode)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("embedding backend ready", "mode", mode, "dimension", cfg.Dimension)

	if cfg.CacheSize > 0 {
		return NewCachedEmbedder(base, cfg.CacheSize)
	}
	return base, nil
}

func checkDimension(vec []float32, want int) error {
	if want > 0 && len(vec) != want {
		return fmt.Errorf("embedding has %d dimensions, want %d", len(vec), want)
	}
	return nil
}
