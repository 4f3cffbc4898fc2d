package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"text/template"

	"github.com/yuin/goldmark"
)

// PromptArgument describes one named argument a prompt template accepts.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// PromptDescriptor is one entry of prompts/list.
type PromptDescriptor struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`
}

// PromptMessage is one entry of a prompts/get result's messages array.
type PromptMessage struct {
	Role    string `json:"role"`
	Content struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

type promptTemplate struct {
	descriptor PromptDescriptor
	body       *template.Template
}

// PromptCatalog backs prompts/list and prompts/get with named, parameterized
// templates. One built-in template, summarize-preferences, ships by default.
type PromptCatalog struct {
	prompts map[string]promptTemplate
}

// NewPromptCatalog builds a PromptCatalog seeded with the built-in prompts.
func NewPromptCatalog() *PromptCatalog {
	c := &PromptCatalog{prompts: make(map[string]promptTemplate)}
	c.mustRegister(
		PromptDescriptor{
			Name:        "summarize-preferences",
			Description: "Ask the assistant to summarize the caller's stored preferences, optionally limited to the N most relevant.",
			Arguments: []PromptArgument{
				{Name: "limit", Description: "maximum number of preferences to consider", Required: false},
			},
		},
		`## Summarize stored preferences

Review the {{.Limit}} most relevant stored preferences for this project and
produce a short bullet-point summary grouped by theme (formatting, tooling,
naming, workflow). Call the **search** tool with query "preference" and the
given limit before summarizing; do not invent preferences that were not
returned.
`,
	)
	return c
}

func (c *PromptCatalog) mustRegister(desc PromptDescriptor, body string) {
	// Validate the raw template renders to parseable Markdown up front
	// (grounded on the teacher's markdown() helper, here used purely as a
	// sanity check rather than an HTML rendering step, since this
	// template's consumer is an LLM prompt, not a browser).
	tmpl, err := template.New(desc.Name).Parse(body)
	if err != nil {
		panic(fmt.Sprintf("prompt %s: %v", desc.Name, err))
	}

	var preview bytes.Buffer
	if err := tmpl.Execute(&preview, map[string]any{"Limit": "5"}); err != nil {
		panic(fmt.Sprintf("prompt %s: preview render: %v", desc.Name, err))
	}
	var discard bytes.Buffer
	if err := goldmark.Convert(preview.Bytes(), &discard); err != nil {
		panic(fmt.Sprintf("prompt %s: invalid markdown body: %v", desc.Name, err))
	}

	c.prompts[desc.Name] = promptTemplate{descriptor: desc, body: tmpl}
}

func (c *PromptCatalog) descriptors() []PromptDescriptor {
	out := make([]PromptDescriptor, 0, len(c.prompts))
	for _, p := range c.prompts {
		out = append(out, p.descriptor)
	}
	return out
}

func (c *PromptCatalog) render(name string, args map[string]string) ([]PromptMessage, error) {
	p, ok := c.prompts[name]
	if !ok {
		return nil, fmt.Errorf("unknown prompt: %s", name)
	}

	limit := "5"
	if v, ok := args["limit"]; ok && v != "" {
		if _, err := strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("argument limit must be an integer: %w", err)
		}
		limit = v
	}

	var buf bytes.Buffer
	if err := p.body.Execute(&buf, map[string]any{"Limit": limit}); err != nil {
		return nil, fmt.Errorf("render prompt %s: %w", name, err)
	}

	msg := PromptMessage{Role: "user"}
	msg.Content.Type = "text"
	msg.Content.Text = buf.String()
	return []PromptMessage{msg}, nil
}

func (s *Server) handlePromptsList() any {
	if s.prompts == nil {
		return map[string]any{"prompts": []PromptDescriptor{}}
	}
	return map[string]any{"prompts": s.prompts.descriptors()}
}

type promptsGetParams struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments,omitempty"`
}

func (s *Server) handlePromptsGet(params json.RawMessage) (any, *ErrorObject) {
	if s.prompts == nil {
		return nil, &ErrorObject{Code: CodeMethodNotFound, Message: "prompts not supported"}
	}
	var p promptsGetParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &ErrorObject{Code: CodeInvalidParams, Message: "invalid params", Data: err.Error()}
	}
	messages, err := s.prompts.render(p.Name, p.Arguments)
	if err != nil {
		return nil, &ErrorObject{Code: CodeInvalidParams, Message: err.Error()}
	}
	return map[string]any{"messages": messages}, nil
}
