package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// InMemoryStore is a simple in-process turn store for local/dev use.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string][]Turn
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string][]Turn)}
}

func (s *InMemoryStore) SaveTurn(_ context.Context, turn Turn) error {
	turn = prepare(turn, uuid.NewString)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[turn.UserID] = append(s.records[turn.UserID], turn)
	return nil
}

func (s *InMemoryStore) RecentTurns(_ context.Context, userID string, limit int) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.records[userID]
	if len(arr) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	out := make([]Turn, limit)
	copy(out, arr[len(arr)-limit:])
	return out, nil
}

func (s *InMemoryStore) CountTurns(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records[userID]), nil
}

func (s *InMemoryStore) CountByPrompt(_ context.Context, userID, prompt string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, t := range s.records[userID] {
		if t.Prompt == prompt {
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) DeleteByPrompt(_ context.Context, userID, prompt string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	arr := s.records[userID]
	kept := arr[:0]
	for _, t := range arr {
		if t.Prompt != prompt {
			kept = append(kept, t)
		}
	}
	deleted := len(arr) - len(kept)
	s.records[userID] = kept
	return deleted, nil
}

func (s *InMemoryStore) HasIdentical(_ context.Context, userID, prompt, response string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.records[userID] {
		if t.Prompt == prompt && t.Response == response {
			return true, nil
		}
	}
	return false, nil
}

func (s *InMemoryStore) Ping(context.Context) error { return nil }

func (s *InMemoryStore) Close() error { return nil }
