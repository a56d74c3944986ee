package completion

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ent0n29/recall/internal/prompts"
)

type EnhanceRequest struct {
	Query   string         `json:"query"`
	Context map[string]any `json:"context,omitempty"`
}

// EnhanceResult mirrors the model's reply contract. EnhancedQuery always
// holds a usable query; Error is the model-reported problem, if any.
type EnhanceResult struct {
	EnhancedQuery string  `json:"enhancedQuery"`
	Error         *string `json:"error"`
}

// Enhancer rewrites code questions into keyword-rich similarity queries.
type Enhancer struct {
	generator   Generator
	instruction prompts.Source
}

func NewEnhancer(generator Generator, instruction prompts.Source) *Enhancer {
	if instruction == nil {
		instruction = prompts.Static(prompts.DefaultQueryEnhancementInstruction)
	}
	return &Enhancer{generator: generator, instruction: instruction}
}

func (e *Enhancer) Enhance(ctx context.Context, req EnhanceRequest) (EnhanceResult, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return EnhanceResult{}, ErrNoInput
	}
	prompt, err := json.Marshal(req)
	if err != nil {
		return EnhanceResult{}, fmt.Errorf("marshal enhance request: %w", err)
	}

	out, err := e.generator.Generate(ctx, GenerateRequest{
		SystemInstruction: e.instruction.Current(),
		Prompt:            string(prompt),
	})
	if err != nil {
		return EnhanceResult{}, fmt.Errorf("enhance query: %w", err)
	}
	if strings.TrimSpace(out) == "" {
		return EnhanceResult{}, ErrEmptyResponse
	}
	return parseEnhanceReply(out, query), nil
}

// parseEnhanceReply accepts bare JSON, fenced JSON, or JSON surrounded by
// prose. Anything else falls back to the original query.
func parseEnhanceReply(out, original string) EnhanceResult {
	fallback := EnhanceResult{EnhancedQuery: original}

	body := strings.TrimSpace(out)
	start := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")
	if start < 0 || end <= start {
		return fallback
	}

	var reply struct {
		EnhancedQuery *string `json:"enhancedQuery"`
		Error         *string `json:"error"`
	}
	if err := json.Unmarshal([]byte(body[start:end+1]), &reply); err != nil {
		return fallback
	}

	res := EnhanceResult{EnhancedQuery: original, Error: reply.Error}
	if reply.EnhancedQuery != nil && strings.TrimSpace(*reply.EnhancedQuery) != "" {
		res.EnhancedQuery = strings.TrimSpace(*reply.EnhancedQuery)
	}
	return res
}
