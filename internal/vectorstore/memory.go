package vectorstore

import (
	"context"
	"sort"
	"sync"

	"github.com/ent0n29/recall/internal/ranking"
)

// MemoryIndex is an in-process Index. Scores are cosine similarities.
type MemoryIndex struct {
	mu         sync.RWMutex
	namespaces map[string]map[string]Record
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{namespaces: make(map[string]map[string]Record)}
}

func (m *MemoryIndex) EnsureSchema(context.Context) error { return nil }

func (m *MemoryIndex) Upsert(_ context.Context, namespace string, rec Record) error {
	if err := requireNamespace(namespace); err != nil {
		return err
	}
	vec := make([]float32, len(rec.Vector))
	copy(vec, rec.Vector)
	rec.Vector = vec

	m.mu.Lock()
	defer m.mu.Unlock()
	ns, ok := m.namespaces[namespace]
	if !ok {
		ns = make(map[string]Record)
		m.namespaces[namespace] = ns
	}
	ns[rec.ID] = rec
	return nil
}

func (m *MemoryIndex) Query(_ context.Context, namespace string, req QueryRequest) ([]Match, error) {
	if err := requireNamespace(namespace); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Match, 0)
	for _, rec := range m.namespaces[namespace] {
		if !req.Filter.matches(rec.Metadata) {
			continue
		}
		match := Match{ID: rec.ID, Metadata: rec.Metadata}
		if req.Vector != nil {
			match.Score = ranking.Cosine(req.Vector, rec.Vector)
		}
		out = append(out, match)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Metadata.Timestamp.After(out[j].Metadata.Timestamp)
	})
	if req.TopK > 0 && len(out) > req.TopK {
		out = out[:req.TopK]
	}
	return out, nil
}

func (m *MemoryIndex) Delete(_ context.Context, namespace string, filter Filter) (int, error) {
	if err := requireNamespace(namespace); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ns := m.namespaces[namespace]
	deleted := 0
	for id, rec := range ns {
		if filter.matches(rec.Metadata) {
			delete(ns, id)
			deleted++
		}
	}
	return deleted, nil
}

func (m *MemoryIndex) Count(_ context.Context, namespace string) (int, error) {
	if err := requireNamespace(namespace); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.namespaces[namespace]), nil
}

func (m *MemoryIndex) Close() error { return nil }
