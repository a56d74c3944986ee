package vectorstore

import (
	"context"
	"log/slog"
	"time"
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Adapter scopes every index call to namespace = user id. Store and Search
// swallow failures: they are logged and reported as false / no matches.
type Adapter struct {
	index    Index
	embedder Embedder
	logger   *slog.Logger
	now      func() time.Time
}

func NewAdapter(index Index, embedder Embedder, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		index:    index,
		embedder: embedder,
		logger:   logger.With("component", "vectorstore"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Store embeds prompt + " " + response and upserts it under userID.
func (a *Adapter) Store(ctx context.Context, userID, prompt, response, id string) bool {
	vec, err := a.embedder.Embed(ctx, prompt+" "+response)
	if err != nil {
		a.logger.Warn("embed turn failed", "user_id", userID, "err", err)
		return false
	}
	rec := Record{
		ID:     id,
		Vector: vec,
		Metadata: Metadata{
			UserPrompt: prompt,
			AIResponse: response,
			Timestamp:  a.now(),
		},
	}
	if err := a.index.Upsert(ctx, userID, rec); err != nil {
		a.logger.Warn("vector upsert failed", "user_id", userID, "id", id, "err", err)
		return false
	}
	return true
}

// Search returns up to topK matches for query in userID's namespace, or an
// empty slice on any failure.
func (a *Adapter) Search(ctx context.Context, userID, query string, topK int) []Match {
	vec, err := a.embedder.Embed(ctx, query)
	if err != nil {
		a.logger.Warn("embed query failed", "user_id", userID, "err", err)
		return []Match{}
	}
	matches, err := a.index.Query(ctx, userID, QueryRequest{Vector: vec, TopK: topK})
	if err != nil {
		a.logger.Warn("vector query failed", "user_id", userID, "err", err)
		return []Match{}
	}
	return matches
}

// IsDuplicate reports whether userID already has a vector whose metadata
// matches prompt and response exactly.
func (a *Adapter) IsDuplicate(ctx context.Context, userID, prompt, response string) bool {
	matches, err := a.index.Query(ctx, userID, QueryRequest{
		TopK:   1,
		Filter: Filter{UserPrompt: prompt, AIResponse: response},
	})
	if err != nil {
		a.logger.Warn("vector duplicate check failed", "user_id", userID, "err", err)
		return false
	}
	return len(matches) > 0
}

// DeletePrompt removes every vector in userID's namespace stored for prompt.
func (a *Adapter) DeletePrompt(ctx context.Context, userID, prompt string) (int, error) {
	return a.index.Delete(ctx, userID, Filter{UserPrompt: prompt})
}

func (a *Adapter) Count(ctx context.Context, userID string) (int, error) {
	return a.index.Count(ctx, userID)
}
