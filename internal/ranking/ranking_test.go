package ranking

import (
	"context"
	"errors"
	"hash/fnv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenizeKeepsStopwordsWhenAsked(t *testing.T) {
	assert.Equal(t, []string{"hello", "world"}, Tokenize("Hello, World!", false))
}

func TestTokenizeRemovesStopwords(t *testing.T) {
	got := Tokenize("The cache is warm and the index is cold", true)
	assert.NotContains(t, got, "the")
	assert.NotContains(t, got, "is")
	assert.NotContains(t, got, "and")
	assert.Equal(t, []string{"cache", "warm", "index", "cold"}, got)
}

func TestTokenizePreservesDuplicatesAndOrder(t *testing.T) {
	assert.Equal(t, []string{"go", "go", "gopher"}, Tokenize("go GO gopher", false))
}

func TestTokenizeDropsPunctuationOnlyTokens(t *testing.T) {
	assert.Equal(t, []string{"snake_case"}, Tokenize("__ snake_case", true))
}

func TestTokenizeEmpty(t *testing.T) {
	assert.Empty(t, Tokenize("", false))
	assert.Empty(t, Tokenize("   ...  ", true))
}

func TestBM25MatchingDocumentScoresHighest(t *testing.T) {
	corpus := [][]string{
		Tokenize("how do I bake bread at home", true),
		Tokenize("configure postgres replication slots", true),
		Tokenize("my cat sleeps all day", true),
	}
	query := Tokenize("postgres replication", false)

	scores := NewBM25(corpus, DefaultBM25Params()).Scores(query)
	require.Len(t, scores, 3)
	assert.Greater(t, scores[1], scores[0])
	assert.Greater(t, scores[1], scores[2])

	assert.Equal(t, []int{1}, LexicalTopK(corpus, query, 1, DefaultBM25Params()))
}

func TestBM25CommonTermsUseEpsilonFloor(t *testing.T) {
	corpus := [][]string{
		{"go", "channels", "select"},
		{"go", "maps", "keys"},
		{"go", "slices", "append"},
		{"go", "strings", "builder"},
	}
	m := NewBM25(corpus, DefaultBM25Params())
	// "go" appears everywhere so its raw idf is negative and gets floored.
	assert.Greater(t, m.idf["go"], 0.0)
	assert.Less(t, m.idf["go"], m.idf["maps"])
}

func TestLexicalTopKShortCircuits(t *testing.T) {
	corpus := [][]string{{"alpha"}, {"beta"}}
	assert.Nil(t, LexicalTopK(corpus, nil, 5, DefaultBM25Params()))
	assert.Nil(t, LexicalTopK([][]string{{}, {}}, []string{"alpha"}, 5, DefaultBM25Params()))
}

func TestLexicalTopKBoundsResult(t *testing.T) {
	corpus := make([][]string, 8)
	for i := range corpus {
		corpus[i] = []string{"term", "filler"}
	}
	assert.Len(t, LexicalTopK(corpus, []string{"term"}, 5, DefaultBM25Params()), 5)
}

type bagEmbedder struct {
	fail bool
}

func (b bagEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if b.fail {
		return nil, errors.New("embedding backend down")
	}
	vec := make([]float32, 32)
	for _, tok := range Tokenize(text, false) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		vec[h.Sum32()%32]++
	}
	return vec, nil
}

func (b bagEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := b.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func TestEmbeddingTopKIdenticalTextRanksFirst(t *testing.T) {
	corpus := []string{
		"weather in lisbon tomorrow",
		"explain goroutine scheduling",
		"recipe for pancakes",
	}
	got, err := EmbeddingTopK(context.Background(), bagEmbedder{}, corpus, "explain goroutine scheduling", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Index)
	assert.InDelta(t, 1.0, got[0].Score, 1e-5)
}

func TestEmbeddingTopKEmptyCorpus(t *testing.T) {
	got, err := EmbeddingTopK(context.Background(), bagEmbedder{}, nil, "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestEmbeddingTopKPropagatesEmbedderError(t *testing.T) {
	_, err := EmbeddingTopK(context.Background(), bagEmbedder{fail: true}, []string{"a"}, "a", 5)
	require.Error(t, err)
}

func TestCosineZeroVector(t *testing.T) {
	assert.Equal(t, 0.0, Cosine([]float32{0, 0}, []float32{1, 0}))
	assert.Equal(t, 0.0, Cosine([]float32{1}, []float32{1, 0}))
	assert.InDelta(t, 1.0, Cosine([]float32{2, 0}, []float32{1, 0}), 1e-6)
}
