package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.BindAddr)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "lexical", cfg.HistoryStrategy)
	assert.Equal(t, "replace", cfg.PersistPolicy)
	assert.Equal(t, 50, cfg.HistoryRecentLimit)
	assert.Equal(t, 5, cfg.HistoryLexicalTopK)
	assert.Equal(t, 10, cfg.HistoryVectorTopK)
	assert.Equal(t, 384, cfg.EmbeddingDim)
	assert.Equal(t, "CODE_GENERATOR", cfg.MongoDatabase)
	assert.InDelta(t, 0.95, cfg.GeneratorTopP, 1e-9)
	assert.Equal(t, 8192, cfg.GeneratorMaxTokens)
}

func TestLoadRejectsUnknownStrategy(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("HISTORY_STRATEGY", "random")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HISTORY_STRATEGY")
}

func TestLoadWeaviateNeedsURL(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("VECTOR_INDEX_MODE", "weaviate")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadPgvectorFallsBackToDatabaseURL(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("VECTOR_INDEX_MODE", "pgvector")
	t.Setenv("DATABASE_URL", "postgres://localhost/recall")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/recall", cfg.VectorPostgresURL())
}

func TestLoadYAMLOverlayYieldsToEnv(t *testing.T) {
	setCoreEnvEmpty(t)
	path := filepath.Join(t.TempDir(), "recall.yaml")
	require.NoError(t, os.WriteFile(path, []byte("HISTORY_STRATEGY: embedding\nHISTORY_EMBEDDING_TOP_K: 10\nAPP_BIND_ADDR: \":7000\"\n"), 0o600))
	t.Setenv("APP_CONFIG_FILE", path)
	t.Setenv("APP_BIND_ADDR", ":9191")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "embedding", cfg.HistoryStrategy)
	assert.Equal(t, 10, cfg.HistoryEmbedTopK)
	assert.Equal(t, ":9191", cfg.BindAddr)
}

func TestLoadBadNumber(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("BM25_K1", "fast")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BM25_K1")
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_CONFIG_FILE",
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_LOG_LEVEL",
		"APP_LOG_FORMAT",
		"APP_ALLOW_ANY_ORIGIN",
		"HISTORY_STRATEGY",
		"HISTORY_RECENT_LIMIT",
		"HISTORY_LEXICAL_TOP_K",
		"HISTORY_EMBEDDING_TOP_K",
		"HISTORY_VECTOR_TOP_K",
		"BM25_K1",
		"BM25_B",
		"BM25_EPSILON",
		"PERSIST_POLICY",
		"PERSIST_REDACT_PII",
		"DATABASE_URL",
		"MONGO_DATABASE",
		"MONGO_COLLECTION",
		"VECTOR_INDEX_MODE",
		"VECTOR_INDEX_NAME",
		"VECTOR_DATABASE_URL",
		"WEAVIATE_URL",
		"WEAVIATE_API_KEY",
		"EMBEDDING_MODE",
		"EMBEDDING_MODEL",
		"EMBEDDING_BASE_URL",
		"EMBEDDING_API_KEY",
		"EMBEDDING_DIM",
		"EMBEDDING_CACHE_SIZE",
		"GENERATOR_MODE",
		"GEMINI_API_KEY",
		"GEMINI_MODEL",
		"OPENAI_API_KEY",
		"OPENAI_BASE_URL",
		"OPENAI_MODEL",
		"GENERATOR_HTTP_URL",
		"GENERATOR_CLI_PATH",
		"GENERATOR_TEMPERATURE",
		"GENERATOR_TOP_P",
		"GENERATOR_TOP_K",
		"GENERATOR_MAX_OUTPUT_TOKENS",
		"ASSISTANT_INSTRUCTION_FILE",
		"QUERY_ENHANCEMENT_INSTRUCTION_FILE",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
