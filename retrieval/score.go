// Package retrieval implements the scoring function and keyword/hybrid
// search that rank memories for a caller context (C2, spec.md §4.2).
package retrieval

import (
	"math"
	"strings"
	"time"

	"github.com/raoulbia-ai/claude-recall/clock"
	"github.com/raoulbia-ai/claude-recall/storage"
)

// Context is the set of optional hints a caller provides to bias ranking.
type Context struct {
	ProjectID *string
	FilePath  *string
	Type      *string
	Query     string
}

// Scorer computes spec.md §4.2's scoring function against a fixed "now".
type Scorer struct {
	Now time.Time
}

// NewScorer builds a Scorer anchored to clk's current time.
func NewScorer(clk clock.Clock) Scorer {
	return Scorer{Now: clk.Now()}
}

// Score computes score(M, C) exactly as spec.md §4.2 defines it.
func (s Scorer) Score(m *storage.Memory, c Context) float64 {
	base := clamp01(m.RelevanceScore, 1.0)

	projectBoost := 1.0
	if c.ProjectID != nil && m.ProjectID != nil && *c.ProjectID == *m.ProjectID {
		projectBoost = 1.5
	}

	fileBoost := 1.0
	if c.FilePath != nil && m.FilePath != nil && *c.FilePath == *m.FilePath {
		fileBoost = 2.0
	}

	typeBoost := 1.0
	if c.Type != nil && m.Type == *c.Type {
		typeBoost = 1.3
	}

	daysSince := s.Now.Sub(m.TimestampTime()).Hours() / 24
	if daysSince < 0 {
		daysSince = 0
	}
	timeDecay := math.Pow(0.9, daysSince/30)

	accessBoost := 1 + math.Log10(1+float64(m.AccessCount))*0.1

	recencyBoost := 1.0
	if m.LastAccessed != nil {
		since := s.Now.Sub(time.UnixMilli(*m.LastAccessed))
		switch {
		case since <= 6*time.Hour:
			recencyBoost = 1.2
		case since <= 24*time.Hour:
			recencyBoost = 1.1
		}
	}

	keywordBoost := 1.0 + 0.5*overlapRatio(tokens(string(m.Value)), tokens(c.Query))

	return base * projectBoost * fileBoost * typeBoost * timeDecay * accessBoost * recencyBoost * keywordBoost
}

// ScoreHybrid is Score with keyword_match_boost replaced by
// max(keyword_match_boost, 1.0 + similarity), per spec.md §4.2's hybrid
// merge step 3.
func (s Scorer) ScoreHybrid(m *storage.Memory, c Context, similarity float64) float64 {
	keywordBoost := 1.0 + 0.5*overlapRatio(tokens(string(m.Value)), tokens(c.Query))
	hybridBoost := math.Max(keywordBoost, 1.0+similarity)

	// Recompute with hybridBoost in place of keywordBoost, factoring out
	// the shared terms rather than duplicating Score's body: plain is scored
	// with no query, so its keyword factor is already 1.0.
	plain := s.Score(m, Context{ProjectID: c.ProjectID, FilePath: c.FilePath, Type: c.Type})
	return plain * hybridBoost
}

func clamp01(v, def float64) float64 {
	if v == 0 {
		return def
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func tokens(s string) []string {
	if s == "" {
		return nil
	}
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	return fields
}

// overlapRatio is |A ∩ B| / |B| (fraction of query tokens found in the
// memory's tokens), 0 when b is empty.
func overlapRatio(a, b []string) float64 {
	if len(b) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(a))
	for _, t := range a {
		set[t] = struct{}{}
	}
	var hits int
	for _, t := range b {
		if _, ok := set[t]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(b))
}
