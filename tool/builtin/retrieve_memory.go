package builtin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/raoulbia-ai/claude-recall/memory"
	"github.com/raoulbia-ai/claude-recall/retrieval"
	"github.com/raoulbia-ai/claude-recall/storage"
	"github.com/raoulbia-ai/claude-recall/tool"
)

type retrieveMemoryInput struct {
	ID    string `json:"id,omitempty"`
	Query string `json:"query,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

// NewRetrieveMemory builds the `retrieve_memory` tool (spec.md §4.5): by id
// returns a single memory, by query returns a ranked list. At least one of
// id/query is required.
func NewRetrieveMemory(svc *memory.Service) tool.Tool {
	schema := tool.ToolSchema{
		Type: "object",
		Properties: map[string]tool.PropertyDef{
			"id":    stringProp("exact memory key to fetch"),
			"query": stringProp("free-text query to search for"),
			"limit": intProp("maximum results when using query (default 5, max 10)"),
		},
	}

	return tool.NewFuncTool("retrieve_memory", "Fetch a memory by id, or search for relevant memories by query.", schema,
		func(ctx context.Context, input json.RawMessage) (string, error) {
			var in retrieveMemoryInput
			if len(input) > 0 {
				if err := json.Unmarshal(input, &in); err != nil {
					return "", fmt.Errorf("invalid input: %w", err)
				}
			}
			if in.ID == "" && in.Query == "" {
				return "", fmt.Errorf("at least one of id or query is required")
			}

			if in.ID != "" {
				m, err := svc.Retrieve(ctx, in.ID)
				if err != nil {
					if errors.Is(err, storage.ErrNotFound) {
						return "", fmt.Errorf("memory not found: %s", in.ID)
					}
					return "", err
				}
				out, err := json.Marshal(memoryView(m))
				if err != nil {
					return "", err
				}
				return string(out), nil
			}

			results, err := svc.Search(ctx, in.Query, memory.SearchOptions{Limit: in.Limit})
			if err != nil {
				return "", err
			}
			out, err := json.Marshal(resultViews(results))
			if err != nil {
				return "", err
			}
			return string(out), nil
		})
}

func memoryView(m *storage.Memory) map[string]any {
	return map[string]any{
		"key":             m.Key,
		"type":            m.Type,
		"value":           json.RawMessage(m.Value),
		"project_id":      m.ProjectID,
		"file_path":       m.FilePath,
		"timestamp":       m.Timestamp,
		"access_count":    m.AccessCount,
		"relevance_score": m.RelevanceScore,
	}
}

func resultViews(results []retrieval.Result) []map[string]any {
	out := make([]map[string]any, len(results))
	for i, r := range results {
		v := memoryView(r.Memory)
		v["score"] = r.Score
		out[i] = v
	}
	return out
}
