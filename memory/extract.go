package memory

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/raoulbia-ai/claude-recall/queue"
	"github.com/raoulbia-ai/claude-recall/retrieval"
	"github.com/raoulbia-ai/claude-recall/storage"
)

// extractionRule is one keyword-triggered regex template, spec.md §4.4's
// "pattern / preference extraction (heuristic layer)".
type extractionRule struct {
	name       string
	pattern    *regexp.Regexp
	confidence float64
}

// rules is intentionally small and literal: each regex names a concrete
// phrasing a developer actually types, not a general NLP model. False
// negatives are expected and fine — this layer is best-effort.
var rules = []extractionRule{
	{
		name:       "indentation-preference",
		pattern:    regexp.MustCompile(`(?i)\b(use|prefer)s?\s+(tabs?|spaces?)\s+(for indentation|to indent)?`),
		confidence: 0.6,
	},
	{
		name:       "avoid-pattern",
		pattern:    regexp.MustCompile(`(?i)\b(never|don't|do not|avoid)\s+use\s+([a-zA-Z0-9_.\-]+)`),
		confidence: 0.5,
	},
	{
		name:       "always-pattern",
		pattern:    regexp.MustCompile(`(?i)\b(always|please)\s+use\s+([a-zA-Z0-9_.\-]+)`),
		confidence: 0.5,
	},
	{
		name:       "naming-convention",
		pattern:    regexp.MustCompile(`(?i)\b(name|call)\s+\w+\s+(using|with)\s+(camelCase|snake_case|PascalCase|kebab-case)`),
		confidence: 0.55,
	},
}

// candidate is one heuristic match, turned into an analysis-suggestion
// memory by Service.ExtractPreferencesFrom.
type candidate struct {
	Rule       string  `json:"rule"`
	Match      string  `json:"match"`
	Confidence float64 `json:"confidence"`
}

// extractCandidates runs every rule against the normalized text and returns
// zero or more candidates. Never blocks, never returns an error: unmatched
// text is simply not a signal.
func extractCandidates(text string) []candidate {
	normalized := strings.Join(strings.Fields(text), " ")

	var out []candidate
	for _, r := range rules {
		matches := r.pattern.FindAllString(normalized, -1)
		for _, m := range matches {
			out = append(out, candidate{Rule: r.name, Match: m, Confidence: r.confidence})
		}
	}
	return out
}

// ExtractPreferencesFrom implements spec.md §4.4's `extract_preferences_from`:
// pattern heuristics over input, producing `analysis-suggestion` typed
// memories, non-authoritative and never blocking. input may be plain text or
// a JSON blob (e.g. a serialized conversation turn with several string
// fields); JSON input is flattened to its string leaves first so the regex
// rules run over human-readable text rather than JSON punctuation.
func (s *Service) ExtractPreferencesFrom(ctx context.Context, input string) ([]string, error) {
	texts := []string{input}
	if json.Valid([]byte(input)) {
		if leaves := retrieval.JSONTextValues([]byte(input)); len(leaves) > 0 {
			texts = leaves
		}
	}

	var candidates []candidate
	for _, text := range texts {
		candidates = append(candidates, extractCandidates(text)...)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	if s.q != nil {
		payload, err := json.Marshal(extractJob{Candidates: candidates})
		if err == nil {
			if _, err := s.q.Enqueue(ctx, ExtractQueueName, "store-suggestions", payload, queue.EnqueueOptions{}); err != nil {
				s.logger.Warn("enqueue extraction job failed", "error", err)
			}
			return ruleNames(candidates), nil
		}
		s.logger.Warn("marshal extraction job failed", "error", err)
	}

	if err := s.storeSuggestions(ctx, candidates); err != nil {
		return nil, err
	}
	return ruleNames(candidates), nil
}

type extractJob struct {
	Candidates []candidate `json:"candidates"`
}

// RunExtractJob decodes and persists a batch of extraction candidates;
// registered as the queue.Processor for ExtractQueueName.
func (s *Service) RunExtractJob(ctx context.Context, msg *queue.Message) error {
	var job extractJob
	if err := json.Unmarshal(msg.Payload, &job); err != nil {
		return err
	}
	return s.storeSuggestions(ctx, job.Candidates)
}

func (s *Service) storeSuggestions(ctx context.Context, candidates []candidate) error {
	for _, c := range candidates {
		value, err := json.Marshal(map[string]any{"rule": c.Rule, "match": c.Match})
		if err != nil {
			return err
		}
		metadata, err := json.Marshal(map[string]any{"confidence": c.Confidence, "source": "heuristic-extraction"})
		if err != nil {
			return err
		}
		if _, err := s.Store(ctx, In{
			Type:           storage.TypeAnalysisSuggestion,
			Value:          value,
			Metadata:       metadata,
			RelevanceScore: c.Confidence,
		}); err != nil {
			return err
		}
	}
	return nil
}

func ruleNames(candidates []candidate) []string {
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.Rule
	}
	return out
}
