// Package memory provides passive semantic recall of workflow-step
// observations: findings, insights, and lessons extracted by
// ObservationExtractor and persisted by a Store for a later step or agent
// to search against. It never trains, fine-tunes, or replays a decision —
// only stores short text entries and returns the ones a query resembles.
package memory

import (
	"context"
	"time"
)

// Category classifies a stored entry by the kind of observation it came
// from, mirroring Observation's Findings/Insights/Lessons split.
type Category string

const (
	CategoryFinding Category = "finding"
	CategoryInsight Category = "insight"
	CategoryLesson  Category = "lesson"
)

// Entry is one piece of recallable text and where it came from.
type Entry struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	Category   Category  `json:"category,omitempty"`
	Source     string    `json:"source"` // "step_type:step_name" or "session:id"
	Importance float32   `json:"importance"`
	CreatedAt  time.Time `json:"created_at"`
	AccessedAt time.Time `json:"accessed_at"`
}

// Result is an Entry with its relevance score from a Recall call.
type Result struct {
	Entry
	Score float32 // 0-1, higher is more relevant
}

// EntryMeta describes an entry at Remember time.
type EntryMeta struct {
	Category   Category
	Source     string
	Importance float32 // defaults to 0.5 when zero
}

// RecallOpts configures a Recall call.
type RecallOpts struct {
	Limit     int // max results, default 10
	MinScore  float32
	Category  Category   // empty matches every category
	TimeRange *TimeRange // optional creation-time filter
}

// TimeRange bounds Recall to entries created within [Start, End].
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Store persists and searches recallable entries. BleveStore is the
// primary implementation; SQLiteStore and InMemoryStore are
// embedding-backed fallbacks for deployments without a full-text index.
type Store interface {
	Remember(ctx context.Context, content string, meta EntryMeta) error
	Recall(ctx context.Context, query string, opts RecallOpts) ([]Result, error)
	Forget(ctx context.Context, id string) error
	Close() error
}

// EmbeddingProvider generates vector embeddings for text, used by the
// vector-search-backed Store implementations (SQLiteStore, InMemoryStore).
type EmbeddingProvider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}
