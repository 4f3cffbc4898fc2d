package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/raoulbia-ai/claude-recall/memory"
	"github.com/raoulbia-ai/claude-recall/tool"
)

type searchInput struct {
	Query   string          `json:"query"`
	Filters json.RawMessage `json:"filters,omitempty"`
	Limit   int             `json:"limit,omitempty"`
}

type searchFilters struct {
	ProjectID *string `json:"project_id,omitempty"`
	FilePath  *string `json:"file_path,omitempty"`
	Type      *string `json:"type,omitempty"`
}

// NewSearch builds the `search` tool (spec.md §4.5): ranked hybrid search
// over query plus optional filters.
func NewSearch(svc *memory.Service) tool.Tool {
	schema := tool.ToolSchema{
		Type: "object",
		Properties: map[string]tool.PropertyDef{
			"query":   stringProp("free-text search query"),
			"filters": objectProp("optional {project_id, file_path, type} filters"),
			"limit":   intProp("maximum results (default 5, max 10)"),
		},
		Required: []string{"query"},
	}

	return tool.NewFuncTool("search", "Rank memories relevant to a query, optionally filtered by project/file/type.", schema,
		func(ctx context.Context, input json.RawMessage) (string, error) {
			var in searchInput
			if err := json.Unmarshal(input, &in); err != nil {
				return "", fmt.Errorf("invalid input: %w", err)
			}
			if in.Query == "" {
				return "", fmt.Errorf("query must not be empty")
			}

			var f searchFilters
			if len(in.Filters) > 0 {
				if err := json.Unmarshal(in.Filters, &f); err != nil {
					return "", fmt.Errorf("invalid filters: %w", err)
				}
			}

			results, err := svc.Search(ctx, in.Query, memory.SearchOptions{
				Limit:     in.Limit,
				ProjectID: f.ProjectID,
				FilePath:  f.FilePath,
				Type:      f.Type,
			})
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
