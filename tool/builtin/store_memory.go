package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/microcosm-cc/bluemonday"

	"github.com/raoulbia-ai/claude-recall/memory"
	"github.com/raoulbia-ai/claude-recall/tool"
)

// contentSanitizer strips executable markup from caller-supplied free text
// before it is persisted, so a memory that embeds pasted HTML/Markdown can't
// carry script tags into whatever later renders it (a host's UI, a
// dashboard). Grounded on the teacher's ui/frontend.safeHTML, which runs the
// same bluemonday.UGCPolicy() over Markdown-rendered HTML.
var contentSanitizer = bluemonday.UGCPolicy()

type storeMemoryInput struct {
	Content  string          `json:"content"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
	Type     string          `json:"type,omitempty"`
}

// NewStoreMemory builds the `store_memory` tool (spec.md §4.5).
func NewStoreMemory(svc *memory.Service) tool.Tool {
	schema := tool.ToolSchema{
		Type: "object",
		Properties: map[string]tool.PropertyDef{
			"content":  stringProp("the text to remember"),
			"metadata": objectProp("optional caller-supplied metadata"),
			"type":     stringProp("memory type, e.g. preference, context, pattern"),
		},
		Required: []string{"content"},
	}

	return tool.NewFuncTool("store_memory", "Persist a piece of content as a memory for later retrieval.", schema,
		func(ctx context.Context, input json.RawMessage) (string, error) {
			var in storeMemoryInput
			if err := json.Unmarshal(input, &in); err != nil {
				return "", fmt.Errorf("invalid input: %w", err)
			}
			if in.Content == "" {
				return "", fmt.Errorf("content must not be empty")
			}

			sanitized := contentSanitizer.Sanitize(in.Content)
			value, err := json.Marshal(map[string]any{"content": sanitized})
			if err != nil {
				return "", err
			}

			key, err := svc.Store(ctx, memory.In{
				Type:     in.Type,
				Value:    value,
				Metadata: in.Metadata,
			})
			if err != nil {
				return "", err
			}

			out, err := json.Marshal(map[string]any{"id": key, "stored": true})
			if err != nil {
				return "", err
			}
			return string(out), nil
		})
}
