package storage

import (
	"context"
	"errors"
)

// Sentinel errors callers match on with errors.Is.
var (
	// ErrNotFound is returned by Retrieve when no active memory exists for
	// the given key.
	ErrNotFound = errors.New("memory not found")

	// ErrEmptyKey is returned when Save is called with an empty key.
	ErrEmptyKey = errors.New("memory key cannot be empty")
)

// Store is the single source of truth for memories (C1). It owns the
// schema, indices, and all mutating paths; see spec.md §4.1.
type Store interface {
	// Save upserts by Key, deduplicating by ContentHash against other keys
	// per spec.md's "Content-hash dedup algorithm". Returns the key of the
	// row that logically holds the content after the call: m.Key on a fresh
	// insert or same-key update, or the existing row's key on a dedup touch.
	Save(ctx context.Context, m *Memory) (string, error)

	// Retrieve returns the active memory for key, bumping AccessCount and
	// LastAccessed as a side effect. Returns ErrNotFound if key is absent or
	// inactive.
	Retrieve(ctx context.Context, key string) (*Memory, error)

	// SearchByContext returns active memories matching q, unscored. A zero
	// ContextQuery matches every active memory.
	SearchByContext(ctx context.Context, q ContextQuery) ([]*Memory, error)

	// SearchKeyword returns active memories whose serialized Value contains
	// any whitespace-tokenized, case-insensitive term of query, unscored,
	// up to limit candidates.
	SearchKeyword(ctx context.Context, query string, limit int) ([]*Memory, error)

	// SimilaritySearch returns the limit active, embedded memories most
	// similar to queryVector by cosine similarity, descending.
	SimilaritySearch(ctx context.Context, queryVector []float32, limit int) ([]Scored, error)

	// Stats summarizes the store's current contents.
	Stats(ctx context.Context) (Stats, error)

	// Compact hard-deletes stale inactive rows and collapses duplicate
	// content-hash groups (spec.md §4.1 "Compaction"). With dryRun, returns
	// the projected result without mutating anything.
	Compact(ctx context.Context, dryRun bool) (CompactResult, error)

	// ClearByType soft-deletes (deactivates) memories of the given type (or all
	// types if typ is ""), optionally restricted to rows older than
	// olderThanMillis (0 means no age filter). Returns the count affected.
	ClearByType(ctx context.Context, typ string, olderThanMillis int64) (int64, error)

	// Ping verifies the underlying database handle is reachable.
	Ping(ctx context.Context) error

	// Close releases the database handle.
	Close() error
}
