package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config contains all runtime settings for the recall service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	LogLevel         string
	LogFormat        string
	AllowAnyOrigin   bool

	HistoryStrategy     string
	HistoryRecentLimit  int
	HistoryLexicalTopK  int
	HistoryEmbedTopK    int
	HistoryVectorTopK   int
	BM25K1              float64
	BM25B               float64
	BM25Epsilon         float64
	PersistPolicy       string
	PersistRedactPII    bool
	DatabaseURL         string
	MongoDatabase       string
	MongoCollection     string
	VectorIndexMode     string
	VectorIndexName     string
	VectorDatabaseURL   string
	WeaviateURL         string
	WeaviateAPIKey      string
	EmbeddingMode       string
	EmbeddingModel      string
	EmbeddingBaseURL    string
	EmbeddingAPIKey     string
	EmbeddingDim        int
	EmbeddingCacheSize  int
	GeneratorMode       string
	GeminiAPIKey        string
	GeminiModel         string
	OpenAIAPIKey        string
	OpenAIBaseURL       string
	OpenAIModel         string
	GeneratorHTTPURL    string
	GeneratorCLIPath    string
	GeneratorTemp       float64
	GeneratorTopP       float64
	GeneratorTopK       int
	GeneratorMaxTokens  int
	AssistantPromptFile string
	EnhancePromptFile   string
}

// Valid option sets, checked by Load.
var (
	HistoryStrategies = []string{"full", "lexical", "embedding", "vector"}
	PersistPolicies   = []string{"append", "replace", "skip_identical"}
	VectorIndexModes  = []string{"memory", "weaviate", "pgvector"}
	EmbeddingModes    = []string{"auto", "openai", "gemini", "hash"}
	GeneratorModes    = []string{"auto", "gemini", "openai", "http", "cli", "mock"}
)

// Load reads environment variables and applies safe defaults. When
// APP_CONFIG_FILE names a YAML file of KEY: value pairs, those values are used
// for any key the environment leaves unset.
func Load() (Config, error) {
	src, err := newSource(strings.TrimSpace(os.Getenv("APP_CONFIG_FILE")))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		BindAddr:            src.str("APP_BIND_ADDR", ":8000"),
		MetricsNamespace:    src.str("APP_METRICS_NAMESPACE", "recall"),
		LogLevel:            strings.ToLower(src.str("APP_LOG_LEVEL", "info")),
		LogFormat:           strings.ToLower(src.str("APP_LOG_FORMAT", "text")),
		HistoryStrategy:     strings.ToLower(src.str("HISTORY_STRATEGY", "lexical")),
		PersistPolicy:       strings.ToLower(src.str("PERSIST_POLICY", "replace")),
		DatabaseURL:         src.str("DATABASE_URL", ""),
		MongoDatabase:       src.str("MONGO_DATABASE", "CODE_GENERATOR"),
		MongoCollection:     src.str("MONGO_COLLECTION", "users"),
		VectorIndexMode:     strings.ToLower(src.str("VECTOR_INDEX_MODE", "memory")),
		VectorIndexName:     src.str("VECTOR_INDEX_NAME", "conversation-history"),
		VectorDatabaseURL:   src.str("VECTOR_DATABASE_URL", ""),
		WeaviateURL:         src.str("WEAVIATE_URL", ""),
		WeaviateAPIKey:      src.str("WEAVIATE_API_KEY", ""),
		EmbeddingMode:       strings.ToLower(src.str("EMBEDDING_MODE", "auto")),
		EmbeddingModel:      src.str("EMBEDDING_MODEL", "all-MiniLM-L6-v2"),
		EmbeddingBaseURL:    src.str("EMBEDDING_BASE_URL", ""),
		EmbeddingAPIKey:     src.str("EMBEDDING_API_KEY", ""),
		GeneratorMode:       strings.ToLower(src.str("GENERATOR_MODE", "auto")),
		GeminiAPIKey:        src.str("GEMINI_API_KEY", ""),
		GeminiModel:         src.str("GEMINI_MODEL", "gemini-2.5-pro-exp-03-25"),
		OpenAIAPIKey:        src.str("OPENAI_API_KEY", ""),
		OpenAIBaseURL:       src.str("OPENAI_BASE_URL", ""),
		OpenAIModel:         src.str("OPENAI_MODEL", "gpt-4o-mini"),
		GeneratorHTTPURL:    src.str("GENERATOR_HTTP_URL", ""),
		GeneratorCLIPath:    src.str("GENERATOR_CLI_PATH", ""),
		AssistantPromptFile: src.str("ASSISTANT_INSTRUCTION_FILE", ""),
		EnhancePromptFile:   src.str("QUERY_ENHANCEMENT_INSTRUCTION_FILE", ""),
	}

	durations := []struct {
		key string
		dst *time.Duration
		def time.Duration
	}{
		{"APP_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout, 15 * time.Second},
	}
	for _, d := range durations {
		if *d.dst, err = src.duration(d.key, d.def); err != nil {
			return Config{}, err
		}
	}

	ints := []struct {
		key string
		dst *int
		def int
	}{
		{"HISTORY_RECENT_LIMIT", &cfg.HistoryRecentLimit, 50},
		{"HISTORY_LEXICAL_TOP_K", &cfg.HistoryLexicalTopK, 5},
		{"HISTORY_EMBEDDING_TOP_K", &cfg.HistoryEmbedTopK, 5},
		{"HISTORY_VECTOR_TOP_K", &cfg.HistoryVectorTopK, 10},
		// all-MiniLM-L6-v2 produces 384-dimensional vectors.
		{"EMBEDDING_DIM", &cfg.EmbeddingDim, 384},
		{"EMBEDDING_CACHE_SIZE", &cfg.EmbeddingCacheSize, 1024},
		{"GENERATOR_TOP_K", &cfg.GeneratorTopK, 64},
		{"GENERATOR_MAX_OUTPUT_TOKENS", &cfg.GeneratorMaxTokens, 8192},
	}
	for _, i := range ints {
		if *i.dst, err = src.int(i.key, i.def); err != nil {
			return Config{}, err
		}
	}

	floats := []struct {
		key string
		dst *float64
		def float64
	}{
		{"BM25_K1", &cfg.BM25K1, 1.5},
		{"BM25_B", &cfg.BM25B, 0.75},
		{"BM25_EPSILON", &cfg.BM25Epsilon, 0.25},
		{"GENERATOR_TEMPERATURE", &cfg.GeneratorTemp, 0},
		{"GENERATOR_TOP_P", &cfg.GeneratorTopP, 0.95},
	}
	for _, f := range floats {
		if *f.dst, err = src.float(f.key, f.def); err != nil {
			return Config{}, err
		}
	}

	if cfg.AllowAnyOrigin, err = src.bool("APP_ALLOW_ANY_ORIGIN", false); err != nil {
		return Config{}, err
	}
	if cfg.PersistRedactPII, err = src.bool("PERSIST_REDACT_PII", false); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if !oneOf(c.HistoryStrategy, HistoryStrategies) {
		return fmt.Errorf("invalid HISTORY_STRATEGY %q (expected %s)", c.HistoryStrategy, strings.Join(HistoryStrategies, "|"))
	}
	if !oneOf(c.PersistPolicy, PersistPolicies) {
		return fmt.Errorf("invalid PERSIST_POLICY %q (expected %s)", c.PersistPolicy, strings.Join(PersistPolicies, "|"))
	}
	if !oneOf(c.VectorIndexMode, VectorIndexModes) {
		return fmt.Errorf("invalid VECTOR_INDEX_MODE %q (expected %s)", c.VectorIndexMode, strings.Join(VectorIndexModes, "|"))
	}
	if !oneOf(c.EmbeddingMode, EmbeddingModes) {
		return fmt.Errorf("invalid EMBEDDING_MODE %q (expected %s)", c.EmbeddingMode, strings.Join(EmbeddingModes, "|"))
	}
	if !oneOf(c.GeneratorMode, GeneratorModes) {
		return fmt.Errorf("invalid GENERATOR_MODE %q (expected %s)", c.GeneratorMode, strings.Join(GeneratorModes, "|"))
	}
	if c.HistoryRecentLimit <= 0 {
		return fmt.Errorf("HISTORY_RECENT_LIMIT must be positive")
	}
	if c.HistoryLexicalTopK <= 0 || c.HistoryEmbedTopK <= 0 || c.HistoryVectorTopK <= 0 {
		return fmt.Errorf("history top-K values must be positive")
	}
	if c.EmbeddingDim <= 0 {
		return fmt.Errorf("EMBEDDING_DIM must be positive")
	}
	if c.EmbeddingCacheSize < 0 {
		return fmt.Errorf("EMBEDDING_CACHE_SIZE must be >= 0")
	}
	if c.BM25K1 < 0 || c.BM25B < 0 || c.BM25B > 1 {
		return fmt.Errorf("BM25_K1 must be >= 0 and BM25_B must be within [0,1]")
	}
	if c.VectorIndexMode == "weaviate" && c.WeaviateURL == "" {
		return fmt.Errorf("VECTOR_INDEX_MODE=weaviate requires WEAVIATE_URL")
	}
	if c.VectorIndexMode == "pgvector" && c.VectorDatabaseURL == "" && !IsPostgresURL(c.DatabaseURL) {
		return fmt.Errorf("VECTOR_INDEX_MODE=pgvector requires VECTOR_DATABASE_URL or a postgres DATABASE_URL")
	}
	return nil
}

// VectorPostgresURL resolves the connection string used by the pgvector index.
func (c Config) VectorPostgresURL() string {
	if c.VectorDatabaseURL != "" {
		return c.VectorDatabaseURL
	}
	return c.DatabaseURL
}

// IsPostgresURL reports whether url uses a postgres scheme.
func IsPostgresURL(url string) bool {
	u := strings.ToLower(strings.TrimSpace(url))
	return strings.HasPrefix(u, "postgres://") || strings.HasPrefix(u, "postgresql://")
}

func oneOf(v string, options []string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}

// source resolves keys from the environment first, then from the optional
// YAML file.
type source struct {
	file map[string]string
}

func newSource(path string) (source, error) {
	if path == "" {
		return source{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return source{}, fmt.Errorf("read APP_CONFIG_FILE: %w", err)
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return source{}, fmt.Errorf("parse APP_CONFIG_FILE: %w", err)
	}
	file := make(map[string]string, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		file[strings.ToUpper(strings.TrimSpace(k))] = fmt.Sprint(v)
	}
	return source{file: file}, nil
}

func (s source) lookup(key string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return strings.TrimSpace(s.file[key])
}

func (s source) str(key, fallback string) string {
	if v := s.lookup(key); v != "" {
		return v
	}
	return fallback
}

func (s source) duration(key string, fallback time.Duration) (time.Duration, error) {
	v := s.lookup(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func (s source) int(key string, fallback int) (int, error) {
	v := s.lookup(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func (s source) float(key string, fallback float64) (float64, error) {
	v := s.lookup(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func (s source) bool(key string, fallback bool) (bool, error) {
	v := strings.ToLower(s.lookup(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
