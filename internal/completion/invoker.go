package completion

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/ent0n29/recall/internal/history"
	"github.com/ent0n29/recall/internal/prompts"
)

// NoInputMessage is reported when a generation is requested without a query.
const NoInputMessage = "Error: No input provided."

// Payload is serialized as JSON and sent as the generation prompt.
type Payload struct {
	Query   string                `json:"query"`
	Context string                `json:"context"`
	History history.RankedHistory `json:"history"`
}

// Result carries the generated text or a non-empty Error string. Err keeps
// the underlying cause for callers that classify failures.
type Result struct {
	Text  string
	Error string
	Err   error
}

// Invoker packages a payload for the generator. It never retries.
type Invoker struct {
	generator   Generator
	instruction prompts.Source
	logger      *slog.Logger
}

func NewInvoker(generator Generator, instruction prompts.Source, logger *slog.Logger) *Invoker {
	if instruction == nil {
		instruction = prompts.Static(prompts.DefaultAssistantInstruction)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{
		generator:   generator,
		instruction: instruction,
		logger:      logger.With("component", "completion"),
	}
}

func (i *Invoker) Invoke(ctx context.Context, p Payload) Result {
	if strings.TrimSpace(p.Query) == "" {
		return Result{Error: NoInputMessage, Err: ErrNoInput}
	}
	if p.History == nil {
		p.History = history.RankedHistory{}
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return Result{Error: err.Error(), Err: err}
	}

	text, err := i.generator.Generate(ctx, GenerateRequest{
		SystemInstruction: i.instruction.Current(),
		Prompt:            string(raw),
	})
	if err != nil {
		i.logger.Warn("generation failed", "err", err)
		return Result{Error: err.Error(), Err: err}
	}
	return Result{Text: text}
}

// JoinContext flattens request context strings into the payload field.
func JoinContext(parts []string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n")
}
