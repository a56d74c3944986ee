// Package completion wraps the text generation capability: backend
// selection, payload packaging, and query enhancement.
package completion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

var (
	ErrNoInput       = errors.New("no input provided")
	ErrEmptyResponse = errors.New("generator returned an empty response")
)

// GenerateRequest is one stateless generation call. Backends keep no memory
// between calls; continuity comes from history embedded in Prompt.
type GenerateRequest struct {
	SystemInstruction string
	Prompt            string
}

type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// Config controls generator construction.
type Config struct {
	Mode string

	GeminiAPIKey  string
	GeminiModel   string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
	HTTPURL       string
	CLIPath       string

	Temperature     float64
	TopP            float64
	TopK            int
	MaxOutputTokens int

	Logger *slog.Logger
}

// NewGenerator builds the backend named by cfg.Mode. "auto" prefers Gemini,
// then OpenAI, then the HTTP endpoint, then an existing CLI, then the mock.
func NewGenerator(ctx context.Context, cfg Config) (Generator, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}
	if mode == "auto" {
		mode = autoMode(cfg)
	}

	var (
		gen Generator
		err error
	)
	switch mode {
	case "gemini":
		gen, err = NewGeminiGenerator(ctx, cfg)
	case "openai":
		if strings.TrimSpace(cfg.OpenAIAPIKey) == "" && strings.TrimSpace(cfg.OpenAIBaseURL) == "" {
			return nil, errors.New("openai generator requires OPENAI_API_KEY or OPENAI_BASE_URL")
		}
		gen = NewOpenAIGenerator(cfg)
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("generator HTTP url is required for http mode")
		}
		gen = NewHTTPGenerator(cfg.HTTPURL)
	case "cli":
		if strings.TrimSpace(cfg.CLIPath) == "" {
			return nil, errors.New("generator CLI path is required for cli mode")
		}
		gen = NewCLIGenerator(cfg.CLIPath)
	case "mock":
		gen = NewMockGenerator()
	default:
		return nil, fmt.Errorf("unsupported generator mode %q", cfg.Mode)
	}
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("generator ready", "mode", mode)
	return gen, nil
}

func autoMode(cfg Config) string {
	switch {
	case strings.TrimSpace(cfg.GeminiAPIKey) != "":
		return "gemini"
	case strings.TrimSpace(cfg.OpenAIAPIKey) != "":
		return "openai"
	case strings.TrimSpace(cfg.HTTPURL) != "":
		return "http"
	}
	if cliPath := strings.TrimSpace(cfg.CLIPath); cliPath != "" {
		if _, err := exec.LookPath(cliPath); err == nil {
			return "cli"
		}
	}
	return "mock"
}
