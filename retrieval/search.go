package retrieval

import (
	"context"
	"sort"

	"github.com/tidwall/gjson"

	"github.com/raoulbia-ai/claude-recall/clock"
	"github.com/raoulbia-ai/claude-recall/storage"
)

// defaultTopK and maxTopK are spec.md §4.2's "Top-K (default 5; configurable
// up to 10)".
const (
	defaultTopK = 5
	maxTopK     = 10
	hybridFetch = 20 // K1/K2 in spec.md's hybrid merge
)

// Searcher ranks memories for a query context using a storage.Store.
type Searcher struct {
	store storage.Store
	clk   clock.Clock
}

// NewSearcher builds a Searcher over store, using clk for score decay.
func NewSearcher(store storage.Store, clk clock.Clock) *Searcher {
	return &Searcher{store: store, clk: clk}
}

// Result pairs a memory with its final computed score.
type Result struct {
	Memory *storage.Memory
	Score  float64
}

func clampTopK(k int) int {
	if k <= 0 {
		return defaultTopK
	}
	if k > maxTopK {
		return maxTopK
	}
	return k
}

// SearchKeyword implements spec.md §4.2's `search_by_keyword`: candidates
// whose serialized value contains any query token, scored and truncated to
// topK.
func (s *Searcher) SearchKeyword(ctx context.Context, c Context, topK int) ([]Result, error) {
	topK = clampTopK(topK)
	candidates, err := s.store.SearchKeyword(ctx, c.Query, hybridFetch)
	if err != nil {
		return nil, err
	}
	return s.rank(candidates, c, topK), nil
}

// SearchContext implements context-filtered ranking with no keyword
// component: spec.md §4.2's "No context at all: still return results
// ranked by decay/recency/access" and the project/file/type-filtered case.
func (s *Searcher) SearchContext(ctx context.Context, c Context, topK int) ([]Result, error) {
	topK = clampTopK(topK)
	q := storage.ContextQuery{ProjectID: c.ProjectID, FilePath: c.FilePath, Type: c.Type}
	candidates, err := s.store.SearchByContext(ctx, q)
	if err != nil {
		return nil, err
	}
	return s.rank(candidates, c, topK), nil
}

// SearchHybrid implements spec.md §4.2's hybrid merge: keyword candidates
// and vector-similarity candidates are fetched independently, merged by
// key keeping the max of the two computed scores, then re-ranked with
// ScoreHybrid.
func (s *Searcher) SearchHybrid(ctx context.Context, c Context, queryVector []float32, topK int) ([]Result, error) {
	topK = clampTopK(topK)

	keywordCandidates, err := s.store.SearchKeyword(ctx, c.Query, hybridFetch)
	if err != nil {
		return nil, err
	}
	similar, err := s.store.SimilaritySearch(ctx, queryVector, hybridFetch)
	if err != nil {
		return nil, err
	}

	scorer := NewScorer(s.clk)
	byKey := make(map[string]Result, len(keywordCandidates)+len(similar))

	for _, m := range keywordCandidates {
		sc := scorer.Score(m, c)
		byKey[m.Key] = Result{Memory: m, Score: sc}
	}
	for _, sm := range similar {
		sc := scorer.ScoreHybrid(sm.Memory, c, sm.Similarity)
		if existing, ok := byKey[sm.Memory.Key]; !ok || sc > existing.Score {
			byKey[sm.Memory.Key] = Result{Memory: sm.Memory, Score: sc}
		}
	}

	results := make([]Result, 0, len(byKey))
	for _, r := range byKey {
		results = append(results, r)
	}
	return topSort(results, topK), nil
}

// rank scores candidates and truncates/sorts to topK, deduplicating by key
// per spec.md §4.2's "same key appearing via multiple retrieval paths
// collapses to the max score".
func (s *Searcher) rank(candidates []*storage.Memory, c Context, topK int) []Result {
	scorer := NewScorer(s.clk)
	byKey := make(map[string]Result, len(candidates))
	for _, m := range candidates {
		sc := scorer.Score(m, c)
		if existing, ok := byKey[m.Key]; !ok || sc > existing.Score {
			byKey[m.Key] = Result{Memory: m, Score: sc}
		}
	}
	results := make([]Result, 0, len(byKey))
	for _, r := range byKey {
		results = append(results, r)
	}
	return topSort(results, topK)
}

func topSort(results []Result, topK int) []Result {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Memory.Timestamp > results[j].Memory.Timestamp
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results
}

// JSONTextValues extracts every string leaf from a JSON value using gjson's
// ForEach, so preference extraction operates on human-readable text instead
// of JSON punctuation and field names. Used by memory.Service's extraction
// path when the input to extract_preferences_from is a structured JSON blob
// rather than free text; keyword search does not use it and scores the raw
// serialized value.
func JSONTextValues(raw []byte) []string {
	var out []string
	var walk func(res gjson.Result)
	walk = func(res gjson.Result) {
		switch {
		case res.IsArray() || res.IsObject():
			res.ForEach(func(_, v gjson.Result) bool {
				walk(v)
				return true
			})
		case res.Type == gjson.String:
			out = append(out, res.String())
		}
	}
	walk(gjson.ParseBytes(raw))
	return out
}
