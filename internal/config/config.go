// Package config loads VibeKit CLI and server configuration.
//
// Values are resolved in order: environment variable > config file > default.
// The config file is YAML at $VIBEKIT_DATA_DIR/config.yaml (default
// ~/.vibekit/config.yaml); VIBEKIT_CONFIG points at a different file.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"

	vibekit "github.com/backupManager/vibekit-ai"
	"github.com/backupManager/vibekit-ai/pkg/agent"
	"github.com/backupManager/vibekit-ai/pkg/llm"
	"github.com/backupManager/vibekit-ai/pkg/sandbox"
)

// Config holds all configuration for the VibeKit CLI and server.
type Config struct {
	// Agent is the coding agent backend (codex, claude, opencode, gemini).
	Agent    string `env:"VIBEKIT_AGENT,default=claude"`
	Model    string `env:"VIBEKIT_MODEL"`
	Provider string `env:"VIBEKIT_PROVIDER"`
	// ProviderAPIKey falls back to the vendor's conventional variable
	// (ANTHROPIC_API_KEY, OPENAI_API_KEY, ...).
	ProviderAPIKey string `env:"VIBEKIT_PROVIDER_API_KEY"`
	// ProviderBaseURL overrides the vendor endpoint; azure requires it.
	ProviderBaseURL string `env:"VIBEKIT_PROVIDER_BASE_URL"`

	// Environment is the sandbox backend (e2b, daytona, docker).
	Environment      string `env:"VIBEKIT_ENVIRONMENT,default=docker"`
	E2BAPIKey        string `env:"E2B_API_KEY"`
	E2BTemplateID    string `env:"E2B_TEMPLATE_ID"`
	DaytonaAPIKey    string `env:"DAYTONA_API_KEY"`
	DaytonaImage     string `env:"DAYTONA_IMAGE"`
	DaytonaServerURL string `env:"DAYTONA_SERVER_URL"`
	DockerImage      string `env:"VIBEKIT_DOCKER_IMAGE"`
	DockerNetwork    string `env:"VIBEKIT_DOCKER_NETWORK"`

	GitHubToken      string `env:"GITHUB_TOKEN"`
	GitHubRepository string `env:"GITHUB_REPOSITORY"`

	WorkingDirectory string `env:"VIBEKIT_WORKDIR"`

	// ServerAddr is the address `vibekit serve` listens on.
	ServerAddr string `env:"VIBEKIT_ADDR,default=:7080"`
	LogLevel   string `env:"VIBEKIT_LOG_LEVEL,default=info"`

	// DataDir holds the session database and the default config file.
	DataDir string
	// DatabasePath is the SQLite session database.
	DatabasePath string
	// Path is the config file that was read, if any.
	Path string

	// Secrets are exported into the sandbox. Config file only.
	Secrets map[string]string
}

// fileConfig is the YAML layout of the config file.
type fileConfig struct {
	Agent struct {
		Type     string `yaml:"type"`
		Model    string `yaml:"model"`
		Provider string `yaml:"provider"`
		APIKey   string `yaml:"apiKey"`
		BaseURL  string `yaml:"baseUrl"`
	} `yaml:"agent"`
	Environment struct {
		Kind       string `yaml:"kind"`
		APIKey     string `yaml:"apiKey"`
		TemplateID string `yaml:"templateId"`
		Image      string `yaml:"image"`
		ServerURL  string `yaml:"serverUrl"`
		Network    string `yaml:"network"`
	} `yaml:"environment"`
	GitHub struct {
		Token      string `yaml:"token"`
		Repository string `yaml:"repository"`
	} `yaml:"github"`
	WorkingDirectory string            `yaml:"workingDirectory"`
	Addr             string            `yaml:"addr"`
	LogLevel         string            `yaml:"logLevel"`
	Secrets          map[string]string `yaml:"secrets"`
}

// Load reads the config file (if present) and the process environment.
func Load(ctx context.Context) (*Config, error) {
	return load(ctx, envconfig.OsLookuper())
}

func load(ctx context.Context, env envconfig.Lookuper) (*Config, error) {
	dataDir := lookupOr(env, "VIBEKIT_DATA_DIR", defaultDataDir())
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	path := lookupOr(env, "VIBEKIT_CONFIG", filepath.Join(dataDir, "config.yaml"))
	file, err := readFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		path = ""
	case err != nil:
		return nil, err
	}

	cfg := &Config{}
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   cfg,
		Lookuper: envconfig.MultiLookuper(env, envconfig.MapLookuper(file.values())),
	}); err != nil {
		return nil, fmt.Errorf("processing config: %w", err)
	}

	cfg.DataDir = dataDir
	cfg.DatabasePath = filepath.Join(dataDir, "vibekit.db")
	cfg.Path = path
	cfg.Secrets = file.Secrets

	if cfg.ProviderAPIKey == "" {
		if key, ok := env.Lookup(agent.ProviderKeyEnv(cfg.provider())); ok {
			cfg.ProviderAPIKey = key
		}
	}
	return cfg, nil
}

func readFile(path string) (*fileConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return &fileConfig{}, err
	}
	defer f.Close()

	var fc fileConfig
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &fc, nil
}

// values maps file settings onto the environment variables they stand in for.
func (f *fileConfig) values() map[string]string {
	m := map[string]string{}
	set := func(key, value string) {
		if value != "" {
			m[key] = value
		}
	}
	set("VIBEKIT_AGENT", f.Agent.Type)
	set("VIBEKIT_MODEL", f.Agent.Model)
	set("VIBEKIT_PROVIDER", f.Agent.Provider)
	set("VIBEKIT_PROVIDER_API_KEY", f.Agent.APIKey)
	set("VIBEKIT_PROVIDER_BASE_URL", f.Agent.BaseURL)
	set("VIBEKIT_ENVIRONMENT", f.Environment.Kind)
	switch sandbox.Kind(f.Environment.Kind) {
	case sandbox.KindE2B:
		set("E2B_API_KEY", f.Environment.APIKey)
		set("E2B_TEMPLATE_ID", f.Environment.TemplateID)
	case sandbox.KindDaytona:
		set("DAYTONA_API_KEY", f.Environment.APIKey)
		set("DAYTONA_IMAGE", f.Environment.Image)
		set("DAYTONA_SERVER_URL", f.Environment.ServerURL)
	case sandbox.KindDocker:
		set("VIBEKIT_DOCKER_IMAGE", f.Environment.Image)
		set("VIBEKIT_DOCKER_NETWORK", f.Environment.Network)
	}
	set("GITHUB_TOKEN", f.GitHub.Token)
	set("GITHUB_REPOSITORY", f.GitHub.Repository)
	set("VIBEKIT_WORKDIR", f.WorkingDirectory)
	set("VIBEKIT_ADDR", f.Addr)
	set("VIBEKIT_LOG_LEVEL", f.LogLevel)
	return m
}

func (c *Config) provider() llm.Provider {
	if c.Provider != "" {
		return llm.Provider(c.Provider)
	}
	return agent.DefaultProvider(agent.Type(c.Agent))
}

// ErrUnknownEnvironment is returned for a sandbox backend name outside
// e2b, daytona and docker.
var ErrUnknownEnvironment = errors.New("unknown environment")

// Sandbox returns the sandbox backend configuration.
func (c *Config) Sandbox() (sandbox.Config, error) {
	switch sandbox.Kind(c.Environment) {
	case sandbox.KindE2B:
		return &sandbox.E2BConfig{APIKey: c.E2BAPIKey, TemplateID: c.E2BTemplateID}, nil
	case sandbox.KindDaytona:
		return &sandbox.DaytonaConfig{APIKey: c.DaytonaAPIKey, Image: c.DaytonaImage, ServerURL: c.DaytonaServerURL}, nil
	case sandbox.KindDocker:
		return &sandbox.DockerConfig{Image: c.DockerImage, Network: c.DockerNetwork}, nil
	default:
		return nil, fmt.Errorf("%w %q (want e2b, daytona or docker)", ErrUnknownEnvironment, c.Environment)
	}
}

// VibeKit builds the facade configuration. GitHub is set when either the
// token or the repository is configured; vibekit.New rejects a half pair.
func (c *Config) VibeKit() (vibekit.Config, error) {
	env, err := c.Sandbox()
	if err != nil {
		return vibekit.Config{}, err
	}
	cfg := vibekit.Config{
		Agent: vibekit.AgentConfig{
			Type: agent.Type(c.Agent),
			Model: vibekit.ModelConfig{
				Name:     c.Model,
				APIKey:   c.ProviderAPIKey,
				Provider: llm.Provider(c.Provider),
				BaseURL:  c.ProviderBaseURL,
			},
		},
		Environment:      env,
		WorkingDirectory: c.WorkingDirectory,
		Secrets:          c.Secrets,
	}
	if c.GitHubToken != "" || c.GitHubRepository != "" {
		cfg.GitHub = &vibekit.GitHubConfig{Token: c.GitHubToken, Repository: c.GitHubRepository}
	}
	return cfg, nil
}

// Redacted returns a copy with credentials masked, for display.
func (c *Config) Redacted() Config {
	r := *c
	for _, s := range []*string{&r.ProviderAPIKey, &r.E2BAPIKey, &r.DaytonaAPIKey, &r.GitHubToken} {
		*s = mask(*s)
	}
	if len(c.Secrets) > 0 {
		r.Secrets = make(map[string]string, len(c.Secrets))
		for k, v := range c.Secrets {
			r.Secrets[k] = mask(v)
		}
	}
	return r
}

func mask(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 8:
		return strings.Repeat("*", len(s))
	default:
		return s[:4] + strings.Repeat("*", len(s)-4)
	}
}

func lookupOr(env envconfig.Lookuper, key, fallback string) string {
	if v, ok := env.Lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".vibekit"
	}
	return filepath.Join(home, ".vibekit")
}
