package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/raoulbia-ai/claude-recall/memory"
	"github.com/raoulbia-ai/claude-recall/retrieval"
	"github.com/raoulbia-ai/claude-recall/storage"
)

// ResourceDescriptor is one entry of resources/list.
type ResourceDescriptor struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description"`
	MimeType    string `json:"mimeType"`
}

// ResourceContents is one entry of resources/read's contents array.
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
}

// ResourceProvider backs resources/list and resources/read with read-only
// views over the Memory Service (spec.md §4.5), adapted from the teacher's
// ui/service dashboard-stats aggregation into two URI-addressed views:
// memory://stats and memory://preferences/active.
type ResourceProvider struct {
	svc *memory.Service
}

// NewResourceProvider builds a ResourceProvider over svc.
func NewResourceProvider(svc *memory.Service) *ResourceProvider {
	return &ResourceProvider{svc: svc}
}

func (p *ResourceProvider) descriptors() []ResourceDescriptor {
	return []ResourceDescriptor{
		{
			URI:         "memory://stats",
			Name:        "memory stats",
			Description: "total memories, counts by type, and approximate storage size",
			MimeType:    "application/json",
		},
		{
			URI:         "memory://preferences/active",
			Name:        "active preferences",
			Description: "preference-typed memories currently active, most relevant first",
			MimeType:    "application/json",
		},
	}
}

func (p *ResourceProvider) read(ctx context.Context, uri string) (string, error) {
	switch uri {
	case "memory://stats":
		stats, err := p.svc.GetStats(ctx)
		if err != nil {
			return "", err
		}
		return marshalResource(statsView(stats))
	case "memory://preferences/active":
		typ := storage.TypePreference
		results, err := p.svc.FindRelevant(ctx, retrieval.Context{Type: &typ}, 10)
		if err != nil {
			return "", err
		}
		return marshalResource(preferencesView(results))
	default:
		return "", fmt.Errorf("unknown resource: %s", uri)
	}
}

func statsView(stats storage.Stats) map[string]any {
	return map[string]any{
		"total":      stats.Total,
		"by_type":    stats.ByType,
		"size_bytes": stats.SizeBytes,
	}
}

func preferencesView(results []retrieval.Result) []map[string]any {
	out := make([]map[string]any, len(results))
	for i, r := range results {
		out[i] = map[string]any{
			"key":   r.Memory.Key,
			"value": json.RawMessage(r.Memory.Value),
			"score": r.Score,
		}
	}
	return out
}

func marshalResource(v any) (string, error) {
	out, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (s *Server) handleResourcesList() any {
	if s.resources == nil {
		return map[string]any{"resources": []ResourceDescriptor{}}
	}
	return map[string]any{"resources": s.resources.descriptors()}
}

type resourcesReadParams struct {
	URI string `json:"uri"`
}

func (s *Server) handleResourcesRead(ctx context.Context, params json.RawMessage) (any, *ErrorObject) {
	if s.resources == nil {
		return nil, &ErrorObject{Code: CodeMethodNotFound, Message: "resources not supported"}
	}
	var p resourcesReadParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &ErrorObject{Code: CodeInvalidParams, Message: "invalid params", Data: err.Error()}
	}
	text, err := s.resources.read(ctx, p.URI)
	if err != nil {
		return nil, &ErrorObject{Code: CodeInvalidParams, Message: err.Error()}
	}
	return map[string]any{"contents": []ResourceContents{{URI: p.URI, MimeType: "application/json", Text: text}}}, nil
}
