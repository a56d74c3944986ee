package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

var selfTestUsers = []string{"user001", "user002", "user003"}

const selfTestPrompt = "recall namespace isolation probe"

// SelfTest writes one probe vector into three namespaces and checks that
// each namespace only ever returns its own probe. Probes are deleted before
// returning.
func SelfTest(ctx context.Context, index Index, dimension int, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if dimension <= 0 {
		return fmt.Errorf("self test needs a positive dimension")
	}

	ids := make(map[string]string, len(selfTestUsers))
	vectors := make(map[string][]float32, len(selfTestUsers))
	defer func() {
		for _, user := range selfTestUsers {
			if _, err := index.Delete(ctx, user, Filter{UserPrompt: selfTestPrompt}); err != nil {
				logger.Warn("self test cleanup failed", "namespace", user, "err", err)
			}
		}
	}()

	for i, user := range selfTestUsers {
		vec := make([]float32, dimension)
		vec[i%dimension] = 1
		ids[user] = uuid.NewString()
		vectors[user] = vec
		err := index.Upsert(ctx, user, Record{
			ID:     ids[user],
			Vector: vec,
			Metadata: Metadata{
				UserPrompt: selfTestPrompt,
				AIResponse: "probe for " + user,
				Timestamp:  time.Now().UTC(),
			},
		})
		if err != nil {
			return fmt.Errorf("upsert probe for %s: %w", user, err)
		}
	}

	for _, user := range selfTestUsers {
		matches, err := index.Query(ctx, user, QueryRequest{Vector: vectors[user], TopK: 10})
		if err != nil {
			return fmt.Errorf("query probe for %s: %w", user, err)
		}
		for _, m := range matches {
			if m.Metadata.UserPrompt == selfTestPrompt && m.ID != ids[user] {
				return fmt.Errorf("namespace %s returned probe %s from another namespace", user, m.ID)
			}
		}
		found := false
		for _, m := range matches {
			if m.ID == ids[user] {
				found = true
			}
		}
		if !found {
			return fmt.Errorf("namespace %s did not return its own probe", user)
		}
		logger.Info("namespace isolated", "namespace", user, "matches", len(matches))
	}

	// Filtering on another user's probe response must come back empty.
	cross, err := index.Query(ctx, selfTestUsers[0], QueryRequest{
		TopK:   10,
		Filter: Filter{AIResponse: "probe for " + selfTestUsers[1]},
	})
	if err != nil {
		return fmt.Errorf("cross namespace query: %w", err)
	}
	if len(cross) != 0 {
		return fmt.Errorf("cross namespace filter returned %d matches", len(cross))
	}
	return nil
}
