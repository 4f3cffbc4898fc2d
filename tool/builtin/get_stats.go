package builtin

import (
	"context"
	"encoding/json"

	"github.com/raoulbia-ai/claude-recall/memory"
	"github.com/raoulbia-ai/claude-recall/tool"
)

// NewGetStats builds the `get_stats` tool (spec.md §4.5).
func NewGetStats(svc *memory.Service) tool.Tool {
	schema := tool.ToolSchema{Type: "object"}

	return tool.NewFuncTool("get_stats", "Summarize the memory store's current contents.", schema,
		func(ctx context.Context, input json.RawMessage) (string, error) {
			stats, err := svc.GetStats(ctx)
			if err != nil {
				return "", err
			}
			out, err := json.Marshal(map[string]any{
				"total":      stats.Total,
				"by_type":    stats.ByType,
				"size_bytes": stats.SizeBytes,
			})
			if err != nil {
				return "", err
			}
			return string(out), nil
		})
}
