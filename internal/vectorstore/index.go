// Package vectorstore keeps per-user turn embeddings in a nearest-neighbour
// index. Every index operation is scoped to a namespace, and the Adapter
// always uses the caller's user id as that namespace, so one user's vectors
// are never visible to another user's queries.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrNamespaceRequired = errors.New("vector namespace is required")

// Metadata is stored alongside each vector.
type Metadata struct {
	UserPrompt string    `json:"user_prompt"`
	AIResponse string    `json:"ai_response"`
	Timestamp  time.Time `json:"timestamp"`
}

type Record struct {
	ID       string
	Vector   []float32
	Metadata Metadata
}

// Filter restricts matches to exact metadata values. Empty fields do not
// constrain the match.
type Filter struct {
	UserPrompt string
	AIResponse string
}

func (f Filter) empty() bool { return f.UserPrompt == "" && f.AIResponse == "" }

func (f Filter) matches(m Metadata) bool {
	if f.UserPrompt != "" && f.UserPrompt != m.UserPrompt {
		return false
	}
	if f.AIResponse != "" && f.AIResponse != m.AIResponse {
		return false
	}
	return true
}

// QueryRequest is a namespace-local search. A nil Vector returns filter
// matches without similarity ordering.
type QueryRequest struct {
	Vector []float32
	TopK   int
	Filter Filter
}

type Match struct {
	ID       string   `json:"id"`
	Score    float64  `json:"score"`
	Metadata Metadata `json:"metadata"`
}

// Index is a namespace-partitioned nearest-neighbour service. All methods
// return ErrNamespaceRequired for an empty namespace.
type Index interface {
	EnsureSchema(ctx context.Context) error
	Upsert(ctx context.Context, namespace string, rec Record) error
	Query(ctx context.Context, namespace string, req QueryRequest) ([]Match, error)
	Delete(ctx context.Context, namespace string, filter Filter) (int, error)
	Count(ctx context.Context, namespace string) (int, error)
	Close() error
}

type Config struct {
	Mode           string
	Name           string
	Dimension      int
	WeaviateURL    string
	WeaviateAPIKey string
	PostgresURL    string
}

// NewIndex opens the backend selected by cfg.Mode and ensures its schema.
func NewIndex(ctx context.Context, cfg Config) (Index, error) {
	var (
		idx Index
		err error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Mode)) {
	case "", "memory":
		idx = NewMemoryIndex()
	case "weaviate":
		idx, err = NewWeaviateIndex(cfg.WeaviateURL, cfg.WeaviateAPIKey, cfg.Name)
	case "pgvector":
		idx, err = NewPgVectorIndex(ctx, cfg.PostgresURL, cfg.Dimension)
	default:
		return nil, fmt.Errorf("unsupported vector index mode %q", cfg.Mode)
	}
	if err != nil {
		return nil, err
	}
	if err := idx.EnsureSchema(ctx); err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("ensure vector schema: %w", err)
	}
	return idx, nil
}

func requireNamespace(ns string) error {
	if strings.TrimSpace(ns) == "" {
		return ErrNamespaceRequired
	}
	return nil
}
