// Package openai implements llm.Model for OpenAI and every vendor that speaks
// the OpenAI Chat Completions protocol.
package openai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chainguard-dev/clog"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/backupManager/vibekit-ai/pkg/llm"
)

// Config selects the endpoint and credentials for one vendor.
type Config struct {
	Provider llm.Provider
	APIKey   string
	BaseURL  string

	// APIKeyHeader sends the key in this header instead of a bearer token.
	// Azure deployments authenticate with "api-key".
	APIKeyHeader string
}

// Model implements llm.Model over the Chat Completions API.
type Model struct {
	client   openai.Client
	provider llm.Provider
	model    string
}

// New returns a factory for models served by the configured endpoint.
func New(cfg Config) llm.Factory {
	var opts []option.RequestOption
	if cfg.APIKeyHeader != "" {
		opts = append(opts, option.WithHeader(cfg.APIKeyHeader, cfg.APIKey))
	} else {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)
	return func(modelID string) llm.Model {
		return &Model{client: client, provider: cfg.Provider, model: modelID}
	}
}

func (m *Model) ID() string             { return m.model }
func (m *Model) Provider() llm.Provider { return m.provider }

// GenerateObject requests a strict json_schema response format.
func (m *Model) GenerateObject(ctx context.Context, req llm.ObjectRequest) (json.RawMessage, error) {
	clog.FromContext(ctx).With("provider", m.provider).With("model", m.model).
		Debug("Requesting structured object")

	resp, err := m.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(m.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(req.Prompt),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        req.Name,
					Description: openai.String(req.Description),
					Schema:      req.Schema,
					Strict:      openai.Bool(true),
				},
			},
		},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}
	content := resp.Choices[0].Message.Content
	if content == "" {
		return nil, fmt.Errorf("empty response content")
	}
	return json.RawMessage(content), nil
}
