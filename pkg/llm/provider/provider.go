// Package provider maps a vendor name and credentials to an llm.Factory.
package provider

import (
	"fmt"

	"github.com/backupManager/vibekit-ai/pkg/llm"
	"github.com/backupManager/vibekit-ai/pkg/llm/anthropic"
	"github.com/backupManager/vibekit-ai/pkg/llm/google"
	"github.com/backupManager/vibekit-ai/pkg/llm/openai"
)

const (
	// OllamaBaseURL is the local endpoint used when none is configured.
	OllamaBaseURL = "http://localhost:11434/v1"

	// OllamaAPIKey is sent to Ollama when no key is configured. Local
	// servers ignore it but the client requires a value.
	OllamaAPIKey = "ollama"
)

// compatibleBaseURLs holds the endpoints of OpenAI-compatible vendors.
var compatibleBaseURLs = map[llm.Provider]string{
	llm.OpenAI:     "https://api.openai.com/v1/",
	llm.OpenRouter: "https://openrouter.ai/api/v1/",
	llm.Groq:       "https://api.groq.com/openai/v1/",
	llm.Mistral:    "https://api.mistral.ai/v1/",
	llm.DeepSeek:   "https://api.deepseek.com/v1/",
	llm.XAI:        "https://api.x.ai/v1/",
	llm.Together:   "https://api.together.xyz/v1/",
}

// family is the client implementation serving a vendor.
type family int

const (
	familyAnthropic family = iota
	familyGemini
	familyCompatible
)

// endpoint is a vendor's resolved connection settings.
type endpoint struct {
	family family
	config openai.Config
}

// New returns a model factory for the vendor. Option errors are reported
// here, before any request is made.
func New(p llm.Provider, apiKey, baseURL string) (llm.Factory, error) {
	ep, err := resolve(p, apiKey, baseURL)
	if err != nil {
		return nil, err
	}
	switch ep.family {
	case familyAnthropic:
		return anthropic.New(ep.config.APIKey, ep.config.BaseURL), nil
	case familyGemini:
		return google.New(ep.config.APIKey, ep.config.BaseURL), nil
	default:
		return openai.New(ep.config), nil
	}
}

func resolve(p llm.Provider, apiKey, baseURL string) (endpoint, error) {
	cfg := openai.Config{Provider: p, APIKey: apiKey, BaseURL: baseURL}

	switch p {
	case llm.Anthropic:
		return endpoint{family: familyAnthropic, config: cfg}, nil

	case llm.Gemini:
		return endpoint{family: familyGemini, config: cfg}, nil

	case llm.Azure:
		if baseURL == "" {
			return endpoint{}, fmt.Errorf("%w: azure requires a base URL", llm.ErrMissingRequiredOption)
		}
		cfg.APIKeyHeader = "api-key"
		return endpoint{family: familyCompatible, config: cfg}, nil

	case llm.Ollama:
		if cfg.APIKey == "" {
			cfg.APIKey = OllamaAPIKey
		}
		if cfg.BaseURL == "" {
			cfg.BaseURL = OllamaBaseURL
		}
		return endpoint{family: familyCompatible, config: cfg}, nil

	case llm.OpenAI, llm.OpenRouter, llm.Groq, llm.Mistral, llm.DeepSeek, llm.XAI, llm.Together:
		if cfg.BaseURL == "" {
			cfg.BaseURL = compatibleBaseURLs[p]
		}
		return endpoint{family: familyCompatible, config: cfg}, nil

	default:
		return endpoint{}, fmt.Errorf("%w: %s", llm.ErrUnsupportedProvider, p)
	}
}
