package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/raoulbia-ai/claude-recall/memory"
	"github.com/raoulbia-ai/claude-recall/tool"
)

type preferenceInput struct {
	Key        string  `json:"key"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

type storePreferencesInput struct {
	Preferences []preferenceInput `json:"preferences"`
}

// NewStorePreferences builds the `store_preferences` tool (spec.md §4.5):
// batch-stores caller-confirmed preferences.
func NewStorePreferences(svc *memory.Service) tool.Tool {
	confMin, confMax := 0.0, 1.0
	schema := tool.ToolSchema{
		Type: "object",
		Properties: map[string]tool.PropertyDef{
			"preferences": {
				Type:        "array",
				Description: "preferences to store",
				Items: &tool.PropertyDef{
					Type: "object",
					Properties: map[string]tool.PropertyDef{
						"key":        stringProp("preference key"),
						"value":      stringProp("preference value"),
						"confidence": {Type: "number", Description: "confidence in [0,1]", Minimum: &confMin, Maximum: &confMax},
						"reasoning":  stringProp("why this preference was inferred"),
					},
					Required: []string{"key", "value", "confidence"},
				},
			},
		},
		Required: []string{"preferences"},
	}

	return tool.NewFuncTool("store_preferences", "Store one or more caller-confirmed preferences as memories.", schema,
		func(ctx context.Context, input json.RawMessage) (string, error) {
			var in storePreferencesInput
			if err := json.Unmarshal(input, &in); err != nil {
				return "", fmt.Errorf("invalid input: %w", err)
			}
			if len(in.Preferences) == 0 {
				return "", fmt.Errorf("preferences must not be empty")
			}

			prefs := make([]memory.PreferenceIn, len(in.Preferences))
			for i, p := range in.Preferences {
				prefs[i] = memory.PreferenceIn{Key: p.Key, Value: p.Value, Confidence: p.Confidence, Reasoning: p.Reasoning}
			}

			n, err := svc.StorePreferences(ctx, prefs)
			if err != nil {
				return "", err
			}

			out, err := json.Marshal(map[string]any{"stored": n})
			if err != nil {
				return "", err
			}
			return string(out), nil
		})
}
