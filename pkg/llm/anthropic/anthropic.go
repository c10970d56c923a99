// Package anthropic implements llm.Model using the Anthropic Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/chainguard-dev/clog"

	"github.com/backupManager/vibekit-ai/pkg/llm"
)

const maxTokens = 4096

// Model implements llm.Model for a single Claude model.
type Model struct {
	client anthropic.Client
	model  string
}

// New returns a factory for Claude models. baseURL may be empty.
func New(apiKey, baseURL string) llm.Factory {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := anthropic.NewClient(opts...)
	return func(modelID string) llm.Model {
		return &Model{client: client, model: modelID}
	}
}

func (m *Model) ID() string             { return m.model }
func (m *Model) Provider() llm.Provider { return llm.Anthropic }

// GenerateObject forces a single tool call whose input schema is the
// requested schema and returns the tool input.
func (m *Model) GenerateObject(ctx context.Context, req llm.ObjectRequest) (json.RawMessage, error) {
	props, _ := req.Schema["properties"].(map[string]any)
	var required []string
	if rs, ok := req.Schema["required"].([]any); ok {
		for _, r := range rs {
			if s, ok := r.(string); ok {
				required = append(required, s)
			}
		}
	}

	clog.FromContext(ctx).With("model", m.model).With("tool", req.Name).
		Debug("Requesting structured object from Claude")

	msg, err := m.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(m.model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
		Tools: []anthropic.ToolUnionParam{{
			OfTool: &anthropic.ToolParam{
				Name:        req.Name,
				Description: anthropic.String(req.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: props,
					Required:   required,
				},
			},
		}},
		ToolChoice: anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: req.Name},
		},
	})
	if err != nil {
		return nil, err
	}

	for _, block := range msg.Content {
		if block.Type == "tool_use" && block.Name == req.Name {
			return block.Input, nil
		}
	}
	return nil, fmt.Errorf("no %s tool call in response", req.Name)
}
