package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/raoulbia-ai/claude-recall/memory"
	"github.com/raoulbia-ai/claude-recall/tool"
)

type clearContextInput struct {
	Confirm bool   `json:"confirm"`
	Type    string `json:"type,omitempty"`
}

// NewClearContext builds the `clear_context` tool (spec.md §4.5): requires
// explicit confirm=true, soft-deletes memories of Type (or every type, if
// Type is empty).
func NewClearContext(svc *memory.Service) tool.Tool {
	schema := tool.ToolSchema{
		Type: "object",
		Properties: map[string]tool.PropertyDef{
			"confirm": {Type: "boolean", Description: "must be true to proceed"},
			"type":    stringProp("restrict to this memory type; omit to clear all types"),
		},
		Required: []string{"confirm"},
	}

	return tool.NewFuncTool("clear_context", "Clear stored memories, optionally restricted to one type.", schema,
		func(ctx context.Context, input json.RawMessage) (string, error) {
			var in clearContextInput
			if err := json.Unmarshal(input, &in); err != nil {
				return "", fmt.Errorf("invalid input: %w", err)
			}
			if !in.Confirm {
				return "", fmt.Errorf("confirm must be true")
			}

			if _, err := svc.ClearContext(ctx, in.Type); err != nil {
				return "", err
			}

			out, err := json.Marshal(map[string]any{"cleared": true})
			if err != nil {
				return "", err
			}
			return string(out), nil
		})
}
