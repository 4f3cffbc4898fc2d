// Package storage defines the durable memory store (C1): its domain types,
// the Store interface every backend implements, and the sentinel errors
// callers match on with errors.Is.
package storage

import "time"

// Type enumerates the well-known memory kinds. Custom strings are also
// permitted; this is an open set, not a hard enum.
const (
	TypePreference        = "preference"
	TypeCorrection        = "correction"
	TypeProjectKnowledge   = "project-knowledge"
	TypeToolUse            = "tool-use"
	TypeContext            = "context"
	TypePattern            = "pattern"
	TypeFailure            = "failure"
	TypeAnalysisSuggestion = "analysis-suggestion"
)

// Scope distinguishes a memory that applies to every project from one
// scoped to a single project.
type Scope string

const (
	ScopeUniversal Scope = "universal"
	ScopeProject   Scope = "project"
)

// Memory is an immutable-by-identity record with mutable access statistics.
// See spec.md §3.1 for the field-by-field invariants; Key is unique across
// all memories and ContentHash is a pure function of (Type, canonical
// JSON(Value)).
type Memory struct {
	Key            string
	Type           string
	Value          []byte // JSON as supplied; ContentHash is over its canonical form
	ContentHash    string // hex SHA-256
	ProjectID      *string
	Scope          Scope
	FilePath       *string
	Timestamp      int64 // millisecond epoch
	LastAccessed   *int64
	AccessCount    int64
	RelevanceScore float64
	IsActive       bool
	Metadata       []byte // JSON object, or nil
	Embedding      []float32
}

// TimestampTime returns Timestamp as a time.Time for callers that prefer
// working with time.Time over raw epoch millis.
func (m *Memory) TimestampTime() time.Time {
	return time.UnixMilli(m.Timestamp)
}

// ContextQuery filters SearchByContext candidates. A nil field means "don't
// filter on this dimension".
type ContextQuery struct {
	ProjectID *string
	FilePath  *string
	Type      *string
	Scope     *Scope
}

// Scored pairs a Memory with a similarity score, used by SimilaritySearch.
type Scored struct {
	Memory     *Memory
	Similarity float64
}

// Stats is the result of Store.Stats.
type Stats struct {
	Total    int64
	ByType   map[string]int64
	SizeBytes int64
}

// CompactResult is the result of Store.Compact.
type CompactResult struct {
	Removed       int64
	Deduplicated  int64
	BeforeSize    int64
	AfterSize     int64
}
