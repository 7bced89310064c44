package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/google/uuid"
)

// BleveStore implements Store on a Bleve BM25 full-text index. It is the
// primary semantic memory backend: no embedding provider is required, so
// it works out of the box for any deployment that enables persist_memory.
type BleveStore struct {
	mu       sync.RWMutex
	index    bleve.Index
	basePath string
}

// BleveStoreConfig configures a BleveStore.
type BleveStoreConfig struct {
	// BasePath is the directory holding the on-disk index.
	BasePath string
}

// entryDocument is the Bleve-indexed form of an Entry.
type entryDocument struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	Category   string    `json:"category"`
	Source     string    `json:"source"`
	Importance float32   `json:"importance"`
	CreatedAt  time.Time `json:"created_at"`
	AccessedAt time.Time `json:"accessed_at"`
}

// NewBleveStore opens or creates a Bleve index rooted at cfg.BasePath.
func NewBleveStore(cfg BleveStoreConfig) (*BleveStore, error) {
	if err := os.MkdirAll(cfg.BasePath, 0o755); err != nil {
		return nil, fmt.Errorf("memory: create storage directory: %w", err)
	}

	indexPath := filepath.Join(cfg.BasePath, "observations.bleve")

	var index bleve.Index
	var err error
	if _, statErr := os.Stat(indexPath); os.IsNotExist(statErr) {
		index, err = bleve.New(indexPath, buildIndexMapping())
	} else {
		index, err = bleve.Open(indexPath)
	}
	if err != nil {
		return nil, fmt.Errorf("memory: open bleve index: %w", err)
	}

	return &BleveStore{index: index, basePath: cfg.BasePath}, nil
}

func buildIndexMapping() mapping.IndexMapping {
	entryMapping := bleve.NewDocumentMapping()

	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = standard.Name

	keywordField := bleve.NewKeywordFieldMapping()
	numericField := bleve.NewNumericFieldMapping()
	dateField := bleve.NewDateTimeFieldMapping()

	entryMapping.AddFieldMappingsAt("content", textField)
	entryMapping.AddFieldMappingsAt("category", keywordField)
	entryMapping.AddFieldMappingsAt("source", keywordField)
	entryMapping.AddFieldMappingsAt("importance", numericField)
	entryMapping.AddFieldMappingsAt("created_at", dateField)
	entryMapping.AddFieldMappingsAt("accessed_at", dateField)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = entryMapping
	indexMapping.DefaultAnalyzer = standard.Name
	return indexMapping
}

// Remember indexes content as a new entry.
func (s *BleveStore) Remember(ctx context.Context, content string, meta EntryMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	importance := meta.Importance
	if importance == 0 {
		importance = 0.5
	}

	now := time.Now()
	id := uuid.New().String()
	doc := entryDocument{
		ID:         id,
		Content:    content,
		Category:   string(meta.Category),
		Source:     meta.Source,
		Importance: importance,
		CreatedAt:  now,
		AccessedAt: now,
	}

	if err := s.index.Index(id, doc); err != nil {
		return fmt.Errorf("memory: index entry: %w", err)
	}
	return nil
}

// Recall runs a BM25 match query against indexed content, optionally
// narrowed to a category.
func (s *BleveStore) Recall(ctx context.Context, queryText string, opts RecallOpts) ([]Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	matchQuery := bleve.NewMatchQuery(queryText)
	var searchQuery = query.Query(matchQuery)
	if opts.Category != "" {
		categoryQuery := bleve.NewTermQuery(string(opts.Category))
		categoryQuery.SetField("category")
		searchQuery = bleve.NewConjunctionQuery(matchQuery, categoryQuery)
	}

	searchReq := bleve.NewSearchRequest(searchQuery)
	searchReq.Size = limit * 2 // fetch extra for score/time filtering
	searchReq.Fields = []string{"*"}

	searchResult, err := s.index.Search(searchReq)
	if err != nil {
		return nil, fmt.Errorf("memory: search: %w", err)
	}

	var results []Result
	for _, hit := range searchResult.Hits {
		score := float32(hit.Score)
		if score > 1 {
			score = 1 - (1 / (1 + score)) // normalize BM25 scores into 0-1
		}
		if score < opts.MinScore {
			continue
		}

		content, _ := hit.Fields["content"].(string)
		category, _ := hit.Fields["category"].(string)
		source, _ := hit.Fields["source"].(string)
		importance, _ := hit.Fields["importance"].(float64)
		createdAt := parseHitTime(hit.Fields["created_at"])

		if opts.TimeRange != nil {
			if createdAt.Before(opts.TimeRange.Start) || createdAt.After(opts.TimeRange.End) {
				continue
			}
		}

		results = append(results, Result{
			Entry: Entry{
				ID:         hit.ID,
				Content:    content,
				Category:   Category(category),
				Source:     source,
				Importance: float32(importance),
				CreatedAt:  createdAt,
			},
			Score: score,
		})
		if len(results) >= limit {
			break
		}
	}

	return results, nil
}

// Forget removes an entry from the index by ID.
func (s *BleveStore) Forget(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.index.Delete(id); err != nil {
		return fmt.Errorf("memory: delete entry %s: %w", id, err)
	}
	return nil
}

// Close closes the underlying Bleve index.
func (s *BleveStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Close()
}

func parseHitTime(v interface{}) time.Time {
	s, ok := v.(string)
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
