package memory

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is an embedding-backed Store that never touches disk. It
// exists for tests and for deployments that opt out of persist_memory but
// still want within-session recall.
type InMemoryStore struct {
	mu       sync.RWMutex
	entries  map[string]*Entry
	vectors  map[string][]float32
	embedder EmbeddingProvider
}

// NewInMemoryStore returns a Store scoped to the process lifetime.
func NewInMemoryStore(embedder EmbeddingProvider) *InMemoryStore {
	return &InMemoryStore{
		entries:  make(map[string]*Entry),
		vectors:  make(map[string][]float32),
		embedder: embedder,
	}
}

// Remember embeds content and stores it alongside its metadata.
func (s *InMemoryStore) Remember(ctx context.Context, content string, meta EntryMeta) error {
	embeddings, err := s.embedder.Embed(ctx, []string{content})
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.New().String()
	now := time.Now()

	importance := meta.Importance
	if importance == 0 {
		importance = 0.5
	}

	s.entries[id] = &Entry{
		ID:         id,
		Content:    content,
		Category:   meta.Category,
		Source:     meta.Source,
		Importance: importance,
		CreatedAt:  now,
		AccessedAt: now,
	}
	s.vectors[id] = embeddings[0]

	return nil
}

// Recall ranks stored entries by cosine similarity to query.
func (s *InMemoryStore) Recall(ctx context.Context, query string, opts RecallOpts) ([]Result, error) {
	s.mu.RLock()
	if len(s.entries) == 0 {
		s.mu.RUnlock()
		return nil, nil
	}
	embeddings, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		s.mu.RUnlock()
		return nil, err
	}
	queryVec := embeddings[0]

	var results []Result
	for id, entry := range s.entries {
		vec, ok := s.vectors[id]
		if !ok {
			continue
		}

		score := cosineSimilarity(queryVec, vec)
		if score < opts.MinScore {
			continue
		}
		if opts.Category != "" && entry.Category != opts.Category {
			continue
		}
		if opts.TimeRange != nil {
			if entry.CreatedAt.Before(opts.TimeRange.Start) || entry.CreatedAt.After(opts.TimeRange.End) {
				continue
			}
		}

		results = append(results, Result{Entry: *entry, Score: score})
	}
	s.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	if len(results) > limit {
		results = results[:limit]
	}

	s.mu.Lock()
	now := time.Now()
	for _, r := range results {
		if entry, ok := s.entries[r.ID]; ok {
			entry.AccessedAt = now
		}
	}
	s.mu.Unlock()

	return results, nil
}

// Forget removes an entry by ID.
func (s *InMemoryStore) Forget(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, id)
	delete(s.vectors, id)
	return nil
}

// Close is a no-op: there is nothing to flush.
func (s *InMemoryStore) Close() error {
	return nil
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return float32(dotProduct / (math.Sqrt(normA) * math.Sqrt(normB)))
}
