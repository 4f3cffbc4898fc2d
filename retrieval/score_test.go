package retrieval

import (
	"testing"
	"time"

	"github.com/raoulbia-ai/claude-recall/clock"
	"github.com/raoulbia-ai/claude-recall/storage"
)

func TestScoreFileMatchDominatesBaseScore(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clk := clock.Fixed{At: now}
	scorer := NewScorer(clk)

	fileA := "f1"
	fileB := "f2"
	project := "p1"

	m1 := &storage.Memory{
		Key: "m1", Type: "context", Value: []byte(`{"note":"uses tabs"}`),
		FilePath: &fileA, ProjectID: &project, Timestamp: now.UnixMilli(), RelevanceScore: 0.5,
	}
	m2 := &storage.Memory{
		Key: "m2", Type: "context", Value: []byte(`{"note":"uses tabs"}`),
		FilePath: &fileB, ProjectID: &project, Timestamp: now.UnixMilli(), RelevanceScore: 0.8,
	}

	c := Context{ProjectID: &project, FilePath: &fileA}
	s1 := scorer.Score(m1, c)
	s2 := scorer.Score(m2, c)

	if s1 <= s2 {
		t.Fatalf("expected file-matching memory to score higher: s1=%v s2=%v", s1, s2)
	}
}

func TestScoreTimeDecay(t *testing.T) {
	now := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	clk := clock.Fixed{At: now}
	scorer := NewScorer(clk)

	recent := &storage.Memory{Key: "recent", Type: "context", Value: []byte(`{}`), Timestamp: now.UnixMilli(), RelevanceScore: 1.0}
	old := &storage.Memory{Key: "old", Type: "context", Value: []byte(`{}`), Timestamp: now.AddDate(0, -2, 0).UnixMilli(), RelevanceScore: 1.0}

	if scorer.Score(recent, Context{}) <= scorer.Score(old, Context{}) {
		t.Fatal("expected recent memory to outscore an older one with identical base score")
	}
}

func TestScoreNoContextStillRanks(t *testing.T) {
	clk := clock.Fixed{At: time.Now()}
	scorer := NewScorer(clk)
	m := &storage.Memory{Key: "m1", Type: "context", Value: []byte(`{}`), Timestamp: clk.Now().UnixMilli(), RelevanceScore: 1.0}

	if got := scorer.Score(m, Context{}); got <= 0 {
		t.Fatalf("expected positive score with no context hints, got %v", got)
	}
}
