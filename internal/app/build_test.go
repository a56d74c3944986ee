package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/recall/internal/config"
)

func testConfig(strategy string) config.Config {
	return config.Config{
		MetricsNamespace:   fmt.Sprintf("test_app_%d", time.Now().UnixNano()),
		HistoryStrategy:    strategy,
		HistoryRecentLimit: 50,
		HistoryLexicalTopK: 5,
		HistoryEmbedTopK:   5,
		HistoryVectorTopK:  5,
		PersistPolicy:      "replace",
		VectorIndexMode:    "memory",
		VectorIndexName:    "conversation-history",
		EmbeddingMode:      "hash",
		EmbeddingDim:       32,
		GeneratorMode:      "mock",
	}
}

func TestBuildServesAskPipeline(t *testing.T) {
	for _, strategy := range []string{"full", "lexical", "embedding", "vector"} {
		t.Run(strategy, func(t *testing.T) {
			res, err := Build(context.Background(), testConfig(strategy), nil)
			require.NoError(t, err)
			t.Cleanup(func() { _ = res.Cleanup() })

			ts := httptest.NewServer(res.API.Router())
			t.Cleanup(ts.Close)

			body, _ := json.Marshal(map[string]string{"query": "what is 2+2", "user_ID": "u1"})
			httpRes, err := http.Post(ts.URL+"/ask-ai", "application/json", bytes.NewReader(body))
			require.NoError(t, err)
			defer httpRes.Body.Close()
			assert.Equal(t, http.StatusOK, httpRes.StatusCode)

			stats, err := res.Assistant.Stats(context.Background(), "u1")
			require.NoError(t, err)
			assert.Equal(t, 1, stats.TotalConversations)
		})
	}
}

func TestBuildRejectsUnknownPolicy(t *testing.T) {
	cfg := testConfig("lexical")
	cfg.PersistPolicy = "upsert"
	_, err := Build(context.Background(), cfg, nil)
	require.Error(t, err)
}

func TestBuildWatchesInstructionFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "assistant.txt")
	require.NoError(t, os.WriteFile(path, []byte("be terse"), 0o600))

	cfg := testConfig("lexical")
	cfg.AssistantPromptFile = path
	res, err := Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = res.Cleanup() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, res.WatchInstructions(ctx))
}

func TestSetupIndexSelfTest(t *testing.T) {
	require.NoError(t, SetupIndex(context.Background(), testConfig("vector"), true, nil))

	cfg := testConfig("vector")
	cfg.VectorIndexMode = "faiss"
	require.Error(t, SetupIndex(context.Background(), cfg, false, nil))
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "warn", "json")
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.True(t, strings.Contains(out, `"msg":"shown"`), out)
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelInfo, parseLevel("chatty"))
}
