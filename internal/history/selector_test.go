package history

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/recall/internal/embedding"
	"github.com/ent0n29/recall/internal/memory"
	"github.com/ent0n29/recall/internal/vectorstore"
)

func seed(t *testing.T, store *memory.InMemoryStore, user string, pairs ...[2]string) {
	t.Helper()
	for _, p := range pairs {
		require.NoError(t, store.SaveTurn(context.Background(), memory.Turn{UserID: user, Prompt: p[0], Response: p[1]}))
	}
}

func baseConfig(s Strategy) Config {
	return Config{Strategy: s, RecentLimit: 50, LexicalTopK: 5, EmbeddingTopK: 5, VectorTopK: 10}
}

func TestFullReturnsEveryTurnChronologically(t *testing.T) {
	store := memory.NewInMemoryStore()
	seed(t, store, "u", [2]string{"first", "a"}, [2]string{"second", "b"}, [2]string{"third", "c"})

	cfg := baseConfig(StrategyFull)
	cfg.RecentLimit = 1
	sel, err := NewSelector(cfg, store, nil, nil, nil)
	require.NoError(t, err)

	got, err := sel.Select(context.Background(), "u", "anything")
	require.NoError(t, err)
	assert.Equal(t, RankedHistory{
		{UserPrompt: "first", AIResponse: "a"},
		{UserPrompt: "second", AIResponse: "b"},
		{UserPrompt: "third", AIResponse: "c"},
	}, got)
}

func TestLexicalPutsMatchingTurnFirst(t *testing.T) {
	store := memory.NewInMemoryStore()
	seed(t, store, "u",
		[2]string{"how do I parse yaml", "use gopkg.in/yaml.v3"},
		[2]string{"postgres connection pooling", "use pgxpool"},
		[2]string{"what is a goroutine", "a lightweight thread"},
	)
	sel, err := NewSelector(baseConfig(StrategyLexical), store, nil, nil, nil)
	require.NoError(t, err)

	got, err := sel.Select(context.Background(), "u", "postgres pooling")
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "postgres connection pooling", got[0].UserPrompt)
	assert.LessOrEqual(t, len(got), 5)
}

func TestLexicalEmptyQueryShortCircuits(t *testing.T) {
	store := memory.NewInMemoryStore()
	seed(t, store, "u", [2]string{"hello", "world"})
	sel, err := NewSelector(baseConfig(StrategyLexical), store, nil, nil, nil)
	require.NoError(t, err)

	got, err := sel.Select(context.Background(), "u", "?!")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLexicalStopwordOnlyCorpusShortCircuits(t *testing.T) {
	store := memory.NewInMemoryStore()
	seed(t, store, "u", [2]string{"the", "is"})
	sel, err := NewSelector(baseConfig(StrategyLexical), store, nil, nil, nil)
	require.NoError(t, err)

	got, err := sel.Select(context.Background(), "u", "the")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestNoCandidatesSkipsRanker(t *testing.T) {
	emb := &countingEmbedder{HashEmbedder: embedding.NewHashEmbedder(16)}
	sel, err := NewSelector(baseConfig(StrategyEmbedding), memory.NewInMemoryStore(), emb, nil, nil)
	require.NoError(t, err)

	got, err := sel.Select(context.Background(), "nobody", "query")
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, emb.calls)
}

func TestEmbeddingRanksIdenticalTextFirst(t *testing.T) {
	store := memory.NewInMemoryStore()
	seed(t, store, "u",
		[2]string{"sorting slices", "sort.Slice"},
		[2]string{"reading files", "os.ReadFile"},
		[2]string{"parsing json", "encoding/json"},
	)
	sel, err := NewSelector(baseConfig(StrategyEmbedding), store, embedding.NewHashEmbedder(128), nil, nil)
	require.NoError(t, err)

	got, err := sel.Select(context.Background(), "u", "reading files os.ReadFile")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "reading files", got[0].UserPrompt)
}

func TestRecentLimitBoundsCandidates(t *testing.T) {
	store := memory.NewInMemoryStore()
	seed(t, store, "u", [2]string{"old golang question", "old"}, [2]string{"new rust question", "new"})

	cfg := baseConfig(StrategyEmbedding)
	cfg.RecentLimit = 1
	sel, err := NewSelector(cfg, store, embedding.NewHashEmbedder(32), nil, nil)
	require.NoError(t, err)

	got, err := sel.Select(context.Background(), "u", "old golang question old")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "new rust question", got[0].UserPrompt)
}

func TestVectorStrategyStaysInNamespace(t *testing.T) {
	ctx := context.Background()
	adapter := vectorstore.NewAdapter(vectorstore.NewMemoryIndex(), embedding.NewHashEmbedder(64), nil)
	require.True(t, adapter.Store(ctx, "alice", "alice secret", "one", "1"))
	require.True(t, adapter.Store(ctx, "bob", "bob question", "two", "2"))

	sel, err := NewSelector(baseConfig(StrategyVector), nil, nil, adapter, nil)
	require.NoError(t, err)

	got, err := sel.Select(ctx, "bob", "alice secret one")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "bob question", got[0].UserPrompt)
}

type brokenStore struct{}

func (brokenStore) RecentTurns(context.Context, string, int) ([]memory.Turn, error) {
	return nil, errors.New("connection refused")
}

func TestStoreFailureDegradesToEmpty(t *testing.T) {
	sel, err := NewSelector(baseConfig(StrategyLexical), brokenStore{}, nil, nil, nil)
	require.NoError(t, err)

	got, err := sel.Select(context.Background(), "u", "q")
	require.Error(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestNewSelectorValidatesCollaborators(t *testing.T) {
	_, err := NewSelector(baseConfig(StrategyEmbedding), memory.NewInMemoryStore(), nil, nil, nil)
	assert.Error(t, err)
	_, err = NewSelector(baseConfig(StrategyVector), nil, nil, nil, nil)
	assert.Error(t, err)
	_, err = NewSelector(baseConfig("newest"), memory.NewInMemoryStore(), nil, nil, nil)
	assert.Error(t, err)
}

type countingEmbedder struct {
	*embedding.HashEmbedder
	calls int
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	return c.HashEmbedder.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls++
	return c.HashEmbedder.EmbedBatch(ctx, texts)
}
