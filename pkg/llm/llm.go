// Package llm defines the model-vendor abstraction used for structured
// generation. Concrete vendors live in the anthropic, openai and google
// subpackages; the provider subpackage maps a vendor name to one of them.
package llm

import (
	"context"
	"encoding/json"
	"errors"
)

// Provider names a model vendor.
type Provider string

const (
	Anthropic  Provider = "anthropic"
	Gemini     Provider = "gemini"
	OpenAI     Provider = "openai"
	Azure      Provider = "azure"
	OpenRouter Provider = "openrouter"
	Groq       Provider = "groq"
	Mistral    Provider = "mistral"
	DeepSeek   Provider = "deepseek"
	XAI        Provider = "xai"
	Together   Provider = "together"
	Ollama     Provider = "ollama"
)

var (
	// ErrUnsupportedProvider is returned for a vendor outside the Provider set.
	ErrUnsupportedProvider = errors.New("unsupported provider")

	// ErrMissingRequiredOption is returned when a vendor's mandatory option
	// (such as the Azure base URL) is absent.
	ErrMissingRequiredOption = errors.New("missing required option")
)

// ObjectRequest asks a model for a single JSON object matching Schema.
type ObjectRequest struct {
	// Name identifies the schema to the vendor (tool or response format name).
	Name        string
	Description string
	Prompt      string
	// Schema is a JSON schema document for the expected object.
	Schema map[string]any
}

// Model is an invocable handle on one model of one vendor.
type Model interface {
	ID() string
	Provider() Provider

	// GenerateObject returns the raw JSON object produced by the model.
	// Callers validate it; implementations do not retry or repair output.
	GenerateObject(ctx context.Context, req ObjectRequest) (json.RawMessage, error)
}

// Factory yields a Model for a model identifier.
type Factory func(modelID string) Model

var defaultModels = map[Provider]string{
	Anthropic:  "claude-sonnet-4-20250514",
	Gemini:     "gemini-2.5-pro",
	OpenAI:     "gpt-4o",
	Azure:      "gpt-4o",
	OpenRouter: "openai/gpt-4o",
	Groq:       "llama-3.3-70b-versatile",
	Mistral:    "mistral-large-latest",
	DeepSeek:   "deepseek-chat",
	XAI:        "grok-3",
	Together:   "meta-llama/Llama-3.3-70B-Instruct-Turbo",
	Ollama:     "llama3.1",
}

// fallbackModel is returned for vendors missing from the table.
const fallbackModel = "gpt-4o"

// DefaultModel returns the model used when a configuration names a vendor
// but no model. It never returns an empty string.
func DefaultModel(p Provider) string {
	if m, ok := defaultModels[p]; ok {
		return m
	}
	return fallbackModel
}

// Providers lists every supported vendor.
func Providers() []Provider {
	return []Provider{
		Anthropic, Gemini, OpenAI, Azure, OpenRouter,
		Groq, Mistral, DeepSeek, XAI, Together, Ollama,
	}
}
