// Package history selects the prior turns that are re-injected into a
// generation request.
package history

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ent0n29/recall/internal/memory"
	"github.com/ent0n29/recall/internal/ranking"
	"github.com/ent0n29/recall/internal/vectorstore"
)

type Strategy string

const (
	StrategyFull      Strategy = "full"
	StrategyLexical   Strategy = "lexical"
	StrategyEmbedding Strategy = "embedding"
	StrategyVector    Strategy = "vector"
)

// Entry is the model-facing projection of a turn.
type Entry struct {
	UserPrompt string `json:"user_prompt"`
	AIResponse string `json:"ai_response"`
}

// RankedHistory is ordered by descending relevance, except under
// StrategyFull where it is chronological.
type RankedHistory []Entry

type TurnReader interface {
	RecentTurns(ctx context.Context, userID string, limit int) ([]memory.Turn, error)
}

type VectorSearcher interface {
	Search(ctx context.Context, userID, query string, topK int) []vectorstore.Match
}

type Config struct {
	Strategy      Strategy
	RecentLimit   int
	LexicalTopK   int
	EmbeddingTopK int
	VectorTopK    int
	BM25          ranking.BM25Params
}

type Selector struct {
	cfg      Config
	turns    TurnReader
	embedder ranking.BatchEmbedder
	vectors  VectorSearcher
	logger   *slog.Logger
}

// NewSelector checks that the collaborators the strategy needs are present.
// embedder and vectors may be nil for strategies that do not use them.
func NewSelector(cfg Config, turns TurnReader, embedder ranking.BatchEmbedder, vectors VectorSearcher, logger *slog.Logger) (*Selector, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Strategy {
	case StrategyFull, StrategyLexical:
	case StrategyEmbedding:
		if embedder == nil {
			return nil, fmt.Errorf("history strategy %q requires an embedder", cfg.Strategy)
		}
	case StrategyVector:
		if vectors == nil {
			return nil, fmt.Errorf("history strategy %q requires a vector store", cfg.Strategy)
		}
	default:
		return nil, fmt.Errorf("unsupported history strategy %q", cfg.Strategy)
	}
	if cfg.Strategy != StrategyVector && turns == nil {
		return nil, fmt.Errorf("history strategy %q requires a turn store", cfg.Strategy)
	}
	if cfg.BM25 == (ranking.BM25Params{}) {
		cfg.BM25 = ranking.DefaultBM25Params()
	}
	return &Selector{
		cfg:      cfg,
		turns:    turns,
		embedder: embedder,
		vectors:  vectors,
		logger:   logger.With("component", "history"),
	}, nil
}

func (s *Selector) Strategy() Strategy { return s.cfg.Strategy }

// Select never fails the request: a non-nil error means the history was
// degraded to empty and the caller should record it.
func (s *Selector) Select(ctx context.Context, userID, query string) (RankedHistory, error) {
	if s.cfg.Strategy == StrategyVector {
		return s.fromVectors(ctx, userID, query), nil
	}

	limit := s.cfg.RecentLimit
	if s.cfg.Strategy == StrategyFull {
		limit = 0
	}
	candidates, err := s.turns.RecentTurns(ctx, userID, limit)
	if err != nil {
		s.logger.Warn("load history candidates failed", "user_id", userID, "strategy", s.cfg.Strategy, "err", err)
		return RankedHistory{}, fmt.Errorf("load history: %w", err)
	}
	if len(candidates) == 0 {
		return RankedHistory{}, nil
	}

	switch s.cfg.Strategy {
	case StrategyFull:
		return project(candidates, nil), nil
	case StrategyLexical:
		return s.lexical(candidates, query), nil
	default:
		return s.embedded(ctx, userID, candidates, query)
	}
}

func (s *Selector) lexical(candidates []memory.Turn, query string) RankedHistory {
	corpus := make([][]string, len(candidates))
	for i, t := range candidates {
		corpus[i] = ranking.Tokenize(document(t), true)
	}
	idx := ranking.LexicalTopK(corpus, ranking.Tokenize(query, false), s.cfg.LexicalTopK, s.cfg.BM25)
	if len(idx) == 0 {
		return RankedHistory{}
	}
	return project(candidates, idx)
}

func (s *Selector) embedded(ctx context.Context, userID string, candidates []memory.Turn, query string) (RankedHistory, error) {
	corpus := make([]string, len(candidates))
	for i, t := range candidates {
		corpus[i] = document(t)
	}
	scored, err := ranking.EmbeddingTopK(ctx, s.embedder, corpus, query, s.cfg.EmbeddingTopK)
	if err != nil {
		s.logger.Warn("embedding ranking failed", "user_id", userID, "err", err)
		return RankedHistory{}, fmt.Errorf("rank history: %w", err)
	}
	idx := make([]int, len(scored))
	for i, sc := range scored {
		idx[i] = sc.Index
	}
	return project(candidates, idx), nil
}

func (s *Selector) fromVectors(ctx context.Context, userID, query string) RankedHistory {
	matches := s.vectors.Search(ctx, userID, query, s.cfg.VectorTopK)
	out := make(RankedHistory, 0, len(matches))
	for _, m := range matches {
		out = append(out, Entry{UserPrompt: m.Metadata.UserPrompt, AIResponse: m.Metadata.AIResponse})
	}
	return out
}

func document(t memory.Turn) string {
	return t.Prompt + " " + t.Response
}

// project maps idx into candidates, or every candidate in order when idx is nil.
func project(candidates []memory.Turn, idx []int) RankedHistory {
	if idx == nil {
		out := make(RankedHistory, len(candidates))
		for i, t := range candidates {
			out[i] = Entry{UserPrompt: t.Prompt, AIResponse: t.Response}
		}
		return out
	}
	out := make(RankedHistory, 0, len(idx))
	for _, i := range idx {
		t := candidates[i]
		out = append(out, Entry{UserPrompt: t.Prompt, AIResponse: t.Response})
	}
	return out
}
