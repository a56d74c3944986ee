package ranking

import (
	"context"
	"fmt"

	"github.com/viterin/vek/vek32"
)

// BatchEmbedder computes dense vectors for texts.
type BatchEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Scored pairs a corpus index with its relevance score.
type Scored struct {
	Index int
	Score float64
}

// Cosine returns the cosine similarity of a and b, or 0 when the lengths
// differ or either vector has zero norm.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	if vek32.Dot(a, a) == 0 || vek32.Dot(b, b) == 0 {
		return 0
	}
	return float64(vek32.CosineSimilarity(a, b))
}

// EmbeddingTopK embeds query and corpus and returns the k corpus entries most
// similar to the query, best first.
func EmbeddingTopK(ctx context.Context, e BatchEmbedder, corpus []string, query string, k int) ([]Scored, error) {
	if len(corpus) == 0 || k <= 0 {
		return nil, nil
	}
	qv, err := e.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	docs, err := e.EmbedBatch(ctx, corpus)
	if err != nil {
		return nil, fmt.Errorf("embed corpus: %w", err)
	}
	if len(docs) != len(corpus) {
		return nil, fmt.Errorf("embed corpus: got %d vectors for %d documents", len(docs), len(corpus))
	}

	scores := make([]float64, len(docs))
	for i, dv := range docs {
		scores[i] = Cosine(qv, dv)
	}
	top := topIndices(scores, k)
	out := make([]Scored, len(top))
	for i, idx := range top {
		out[i] = Scored{Index: idx, Score: scores[idx]}
	}
	return out, nil
}
