package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/raoulbia-ai/claude-recall/clock"
	drv "github.com/raoulbia-ai/claude-recall/driver/sqlite"
	"github.com/raoulbia-ai/claude-recall/storage"
)

func newTestStore(t *testing.T, clk clock.Clock) *Store {
	t.Helper()
	db, err := drv.Open(filepath.Join(t.TempDir(), "test.db"), drv.Options{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := Open(db, clk, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return s
}

func mem(key, typ string, value any) *storage.Memory {
	raw, _ := json.Marshal(value)
	return &storage.Memory{
		Key:       key,
		Type:      typ,
		Value:     raw,
		Scope:     storage.ScopeUniversal,
		Timestamp: 1,
		IsActive:  true,
	}
}

func TestSaveRejectsEmptyKey(t *testing.T) {
	s := newTestStore(t, clock.Fixed{At: time.Unix(0, 0)})
	if _, err := s.Save(context.Background(), mem("", "context", "x")); !errors.Is(err, storage.ErrEmptyKey) {
		t.Fatalf("expected ErrEmptyKey, got %v", err)
	}
}

func TestSaveAndRetrieveRoundTrip(t *testing.T) {
	s := newTestStore(t, clock.Fixed{At: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)})
	ctx := context.Background()

	key, err := s.Save(ctx, mem("k1", storage.TypeContext, "hello"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if key != "k1" {
		t.Fatalf("expected key k1, got %s", key)
	}

	got, err := s.Retrieve(ctx, "k1")
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if got.AccessCount != 1 {
		t.Fatalf("expected access count bumped to 1, got %d", got.AccessCount)
	}
	if got.LastAccessed == nil {
		t.Fatal("expected LastAccessed to be stamped")
	}
}

func TestRetrieveMissingKeyReturnsErrNotFound(t *testing.T) {
	s := newTestStore(t, clock.Fixed{At: time.Unix(0, 0)})
	if _, err := s.Retrieve(context.Background(), "nope"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveDedupesByContentHash(t *testing.T) {
	s := newTestStore(t, clock.Fixed{At: time.Unix(0, 0)})
	ctx := context.Background()

	if _, err := s.Save(ctx, mem("k1", storage.TypeContext, "same content")); err != nil {
		t.Fatalf("save k1: %v", err)
	}
	dupe := mem("k2", storage.TypeContext, "same content")
	dupe.Timestamp = 2
	resultKey, err := s.Save(ctx, dupe)
	if err != nil {
		t.Fatalf("save k2: %v", err)
	}
	if resultKey != "k1" {
		t.Fatalf("expected dedup touch to resolve to k1, got %s", resultKey)
	}

	if _, err := s.Retrieve(ctx, "k2"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected k2 to not exist as its own row, got %v", err)
	}
}

func TestSearchByContextFiltersByType(t *testing.T) {
	s := newTestStore(t, clock.Fixed{At: time.Unix(0, 0)})
	ctx := context.Background()

	if _, err := s.Save(ctx, mem("pref-1", storage.TypePreference, "likes tabs")); err != nil {
		t.Fatalf("save pref: %v", err)
	}
	if _, err := s.Save(ctx, mem("ctx-1", storage.TypeContext, "working on X")); err != nil {
		t.Fatalf("save ctx: %v", err)
	}

	typ := storage.TypePreference
	results, err := s.SearchByContext(ctx, storage.ContextQuery{Type: &typ})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].Key != "pref-1" {
		t.Fatalf("expected only pref-1, got %+v", results)
	}
}

func TestSearchKeywordMatchesTokens(t *testing.T) {
	s := newTestStore(t, clock.Fixed{At: time.Unix(0, 0)})
	ctx := context.Background()

	if _, err := s.Save(ctx, mem("k1", storage.TypeContext, "the quick brown fox")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := s.Save(ctx, mem("k2", storage.TypeContext, "lazy dog sleeps")); err != nil {
		t.Fatalf("save: %v", err)
	}

	results, err := s.SearchKeyword(ctx, "fox", 10)
	if err != nil {
		t.Fatalf("search keyword: %v", err)
	}
	if len(results) != 1 || results[0].Key != "k1" {
		t.Fatalf("expected only k1 to match 'fox', got %+v", results)
	}
}

func TestSimilaritySearchRanksByCosine(t *testing.T) {
	s := newTestStore(t, clock.Fixed{At: time.Unix(0, 0)})
	ctx := context.Background()

	closeMatch := mem("close", storage.TypeContext, "a")
	closeMatch.Embedding = []float32{1, 0, 0}
	far := mem("far", storage.TypeContext, "b")
	far.Embedding = []float32{0, 1, 0}

	if _, err := s.Save(ctx, closeMatch); err != nil {
		t.Fatalf("save close: %v", err)
	}
	if _, err := s.Save(ctx, far); err != nil {
		t.Fatalf("save far: %v", err)
	}

	scored, err := s.SimilaritySearch(ctx, []float32{1, 0, 0}, 10)
	if err != nil {
		t.Fatalf("similarity search: %v", err)
	}
	if len(scored) != 2 {
		t.Fatalf("expected 2 scored results, got %d", len(scored))
	}
	if scored[0].Memory.Key != "close" {
		t.Fatalf("expected close match to rank first, got %s", scored[0].Memory.Key)
	}
	if scored[0].Similarity <= scored[1].Similarity {
		t.Fatalf("expected descending similarity order, got %+v", scored)
	}
}

func TestClearByTypeDeactivatesMatchingRows(t *testing.T) {
	s := newTestStore(t, clock.Fixed{At: time.Unix(0, 0)})
	ctx := context.Background()

	if _, err := s.Save(ctx, mem("k1", storage.TypeContext, "x")); err != nil {
		t.Fatalf("save: %v", err)
	}

	n, err := s.ClearByType(ctx, storage.TypeContext, 0)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row cleared, got %d", n)
	}
	if _, err := s.Retrieve(ctx, "k1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected cleared memory to read back as not found, got %v", err)
	}
}

func TestCompactRemovesInactiveAndCollapsesDuplicates(t *testing.T) {
	s := newTestStore(t, clock.Fixed{At: time.Unix(0, 0)})
	ctx := context.Background()

	if _, err := s.Save(ctx, mem("stale", storage.TypeContext, "gone soon")); err != nil {
		t.Fatalf("save stale: %v", err)
	}
	if _, err := s.ClearByType(ctx, storage.TypeContext, 0); err != nil {
		t.Fatalf("clear stale: %v", err)
	}

	result, err := s.Compact(ctx, false)
	if err != nil {
		t.Fatalf("compact: %v", err)
	}
	if result.Removed != 1 {
		t.Fatalf("expected 1 inactive row removed, got %d", result.Removed)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 0 {
		t.Fatalf("expected empty store after compacting away the only row, got %d", stats.Total)
	}
}

func TestStatsCountsByType(t *testing.T) {
	s := newTestStore(t, clock.Fixed{At: time.Unix(0, 0)})
	ctx := context.Background()

	if _, err := s.Save(ctx, mem("k1", storage.TypeContext, "a")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := s.Save(ctx, mem("k2", storage.TypePreference, "b")); err != nil {
		t.Fatalf("save: %v", err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 2 {
		t.Fatalf("expected total 2, got %d", stats.Total)
	}
	if stats.ByType[storage.TypeContext] != 1 || stats.ByType[storage.TypePreference] != 1 {
		t.Fatalf("expected one of each type, got %+v", stats.ByType)
	}
}
