// Package google implements llm.Model using the Gemini API.
package google

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/chainguard-dev/clog"
	"google.golang.org/genai"

	"github.com/backupManager/vibekit-ai/pkg/llm"
)

// Model implements llm.Model for a single Gemini model.
type Model struct {
	apiKey  string
	baseURL string
	model   string
}

// New returns a factory for Gemini models. baseURL may be empty.
func New(apiKey, baseURL string) llm.Factory {
	return func(modelID string) llm.Model {
		return &Model{apiKey: apiKey, baseURL: baseURL, model: modelID}
	}
}

func (m *Model) ID() string             { return m.model }
func (m *Model) Provider() llm.Provider { return llm.Gemini }

// GenerateObject requests an application/json response constrained by the
// schema converted to Gemini's schema dialect.
func (m *Model) GenerateObject(ctx context.Context, req llm.ObjectRequest) (json.RawMessage, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      m.apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: m.baseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("creating Gemini client: %w", err)
	}

	clog.FromContext(ctx).With("model", m.model).Debug("Requesting structured object from Gemini")

	resp, err := client.Models.GenerateContent(ctx, m.model, genai.Text(req.Prompt), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   ToSchema(req.Schema),
	})
	if err != nil {
		return nil, err
	}
	text := resp.Text()
	if text == "" {
		return nil, fmt.Errorf("empty response content")
	}
	return json.RawMessage(text), nil
}

// ToSchema converts a JSON schema document into a genai.Schema. Keywords
// without a Gemini equivalent are dropped.
func ToSchema(doc map[string]any) *genai.Schema {
	if doc == nil {
		return nil
	}
	s := &genai.Schema{}
	if t, ok := doc["type"].(string); ok {
		s.Type = schemaType(t)
	}
	if d, ok := doc["description"].(string); ok {
		s.Description = d
	}
	if enum, ok := doc["enum"].([]any); ok {
		for _, e := range enum {
			if v, ok := e.(string); ok {
				s.Enum = append(s.Enum, v)
			}
		}
	}
	if props, ok := doc["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		names := make([]string, 0, len(props))
		for name, p := range props {
			pm, _ := p.(map[string]any)
			s.Properties[name] = ToSchema(pm)
			names = append(names, name)
		}
		sort.Strings(names)
		s.PropertyOrdering = names
	}
	if req, ok := doc["required"].([]any); ok {
		for _, r := range req {
			if v, ok := r.(string); ok {
				s.Required = append(s.Required, v)
			}
		}
	}
	if items, ok := doc["items"].(map[string]any); ok {
		s.Items = ToSchema(items)
	}
	return s
}

func schemaType(t string) genai.Type {
	switch t {
	case "object":
		return genai.TypeObject
	case "array":
		return genai.TypeArray
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	default:
		return genai.TypeString
	}
}
