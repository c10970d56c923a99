// Package vibekit is the entry point for running a coding agent inside a
// remote sandbox.
//
// Build a VibeKit from a Config and call its operations:
//
//	vk, err := vibekit.New(vibekit.Config{
//	    Agent: vibekit.AgentConfig{
//	        Type:  agent.Claude,
//	        Model: vibekit.ModelConfig{APIKey: os.Getenv("ANTHROPIC_API_KEY")},
//	    },
//	    Environment: &sandbox.E2BConfig{APIKey: os.Getenv("E2B_API_KEY")},
//	    GitHub:      &vibekit.GitHubConfig{Token: token, Repository: "acme/widgets"},
//	})
//	res, err := vk.GenerateCode(ctx, vibekit.GenerateRequest{Prompt: "add dark mode"})
//	pr, err := vk.CreatePullRequest(ctx)
//
// The agent backend is constructed on first use and bound to the VibeKit for
// its whole lifetime. The sandbox itself is provisioned by the backend on
// first use; New performs no I/O.
package vibekit

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/backupManager/vibekit-ai/pkg/agent"
	"github.com/backupManager/vibekit-ai/pkg/eventbus"
	"github.com/backupManager/vibekit-ai/pkg/gitprovider"
	"github.com/backupManager/vibekit-ai/pkg/llm"
	"github.com/backupManager/vibekit-ai/pkg/sandbox"
)

// ModelConfig selects the model the agent runs with.
type ModelConfig struct {
	// Name is the model identifier; empty uses the provider's default.
	Name   string
	APIKey string
	// Provider is the model vendor; empty uses the agent type's default.
	Provider llm.Provider
	// BaseURL overrides the vendor endpoint. Azure requires it.
	BaseURL string
}

// AgentConfig selects the agent backend.
type AgentConfig struct {
	Type  agent.Type
	Model ModelConfig
}

// GitHubConfig enables cloning and pull request creation. Token and
// Repository must be set together.
type GitHubConfig struct {
	Token string
	// Repository is "owner/repo" or a GitHub URL.
	Repository string
}

// Config holds everything a VibeKit session needs. It is not modified after
// New.
type Config struct {
	Agent AgentConfig

	// Environment selects the sandbox backend: *sandbox.E2BConfig,
	// *sandbox.DaytonaConfig or *sandbox.DockerConfig.
	Environment sandbox.Config

	// GitHub is optional; nil disables pull request creation.
	GitHub *GitHubConfig

	// WorkingDirectory is where the repository is checked out inside the
	// sandbox (default /workspace/repo).
	WorkingDirectory string

	// Secrets are exported into the sandbox environment.
	Secrets map[string]string

	// SandboxID attaches to an existing sandbox instead of provisioning one.
	SandboxID string
}

var (
	// ErrMissingEnvironment is returned by New when Config.Environment is nil.
	ErrMissingEnvironment = errors.New("environment configuration is required: select a sandbox backend (e2b, daytona or docker)")

	// ErrIncompleteGitHubConfig is returned by New when only one of the
	// GitHub token and repository is set.
	ErrIncompleteGitHubConfig = errors.New("github configuration requires both githubToken and repoUrl")

	// ErrMissingGitHubConfig is returned by CreatePullRequest when the
	// configuration has no GitHub section.
	ErrMissingGitHubConfig = errors.New("github configuration is required for creating pull requests: provide githubToken and repoUrl")
)

// AgentFactory constructs the agent backend. agent.New is the default.
type AgentFactory func(agent.Type, agent.Options) (agent.Agent, error)

// Option customizes a VibeKit.
type Option func(*VibeKit)

// WithAgentFactory replaces the backend constructor.
func WithAgentFactory(f AgentFactory) Option {
	return func(v *VibeKit) { v.factory = f }
}

// WithEventBus mirrors every streamed update and error onto bus under the
// session name. With a bus set, streaming is requested from the backend even
// when a call carries no callbacks.
func WithEventBus(bus eventbus.Bus) Option {
	return func(v *VibeKit) { v.bus = bus }
}

// WithSessionName sets the name events are published under.
func WithSessionName(name string) Option {
	return func(v *VibeKit) { v.session = name }
}

// WithTracerProvider sets the OpenTelemetry provider spans are recorded on.
// The global provider is used by default.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(v *VibeKit) { v.tracer = tp.Tracer(tracerName) }
}

const (
	tracerName     = "github.com/backupManager/vibekit-ai"
	defaultSession = "default"
)

// VibeKit orchestrates one agent backend bound to one sandbox environment.
//
// Lazy construction of the backend is safe for concurrent use. Ordering of
// concurrent operations against the same VibeKit (for example GenerateCode
// racing Kill) is the caller's responsibility.
type VibeKit struct {
	cfg     Config
	factory AgentFactory
	bus     eventbus.Bus
	session string
	tracer  trace.Tracer

	once     sync.Once
	agent    agent.Agent
	agentErr error
}

// New validates cfg and returns a VibeKit. It fails fast on configuration
// errors and performs no I/O.
func New(cfg Config, opts ...Option) (*VibeKit, error) {
	if err := agent.Validate(cfg.Agent.Type); err != nil {
		return nil, err
	}
	if p := cfg.Agent.Model.Provider; p != "" && !slices.Contains(llm.Providers(), p) {
		return nil, fmt.Errorf("%w: %s", llm.ErrUnsupportedProvider, p)
	}
	if cfg.Environment == nil {
		return nil, ErrMissingEnvironment
	}
	if err := cfg.Environment.Validate(); err != nil {
		return nil, fmt.Errorf("%s environment: %w", cfg.Environment.Kind(), err)
	}
	if cfg.Agent.Model.Provider == llm.Azure && cfg.Agent.Model.BaseURL == "" {
		return nil, fmt.Errorf("%w: azure requires a base URL", llm.ErrMissingRequiredOption)
	}
	if gh := cfg.GitHub; gh != nil {
		if gh.Token == "" || gh.Repository == "" {
			return nil, ErrIncompleteGitHubConfig
		}
		if _, err := gitprovider.ParseRepo(gh.Repository); err != nil {
			return nil, fmt.Errorf("github: %w", err)
		}
	}

	v := &VibeKit{
		cfg:     cfg,
		factory: agent.New,
		session: defaultSession,
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Session returns the name events are published under.
func (v *VibeKit) Session() string { return v.session }

// agentOptions maps the configuration onto the backend constructor arguments.
func (v *VibeKit) agentOptions() agent.Options {
	m := v.cfg.Agent.Model
	provider := m.Provider
	if provider == "" {
		provider = agent.DefaultProvider(v.cfg.Agent.Type)
	}
	model := m.Name
	if model == "" {
		model = llm.DefaultModel(provider)
	}

	opts := agent.Options{
		ProviderAPIKey:   m.APIKey,
		Model:            model,
		Provider:         provider,
		BaseURL:          m.BaseURL,
		Sandbox:          v.cfg.Environment,
		WorkingDirectory: v.cfg.WorkingDirectory,
		Secrets:          v.cfg.Secrets,
		SandboxID:        v.cfg.SandboxID,
	}
	if gh := v.cfg.GitHub; gh != nil {
		opts.GitHub = &agent.GitHubCredentials{Token: gh.Token, RepoURL: gh.Repository}
	}
	return opts
}

// backend returns the bound agent, constructing it on first call. A
// construction error is returned to every caller and never retried.
func (v *VibeKit) backend() (agent.Agent, error) {
	v.once.Do(func() {
		v.agent, v.agentErr = v.factory(v.cfg.Agent.Type, v.agentOptions())
	})
	return v.agent, v.agentErr
}

// Kill destroys the sandbox. The agent stays bound; a later call
// provisions a new sandbox.
func (v *VibeKit) Kill(ctx context.Context) error {
	return v.lifecycle(ctx, "Kill", agent.Agent.KillSandbox)
}

// Pause suspends the sandbox.
func (v *VibeKit) Pause(ctx context.Context) error {
	return v.lifecycle(ctx, "Pause", agent.Agent.PauseSandbox)
}

// Resume restores a paused sandbox.
func (v *VibeKit) Resume(ctx context.Context) error {
	return v.lifecycle(ctx, "Resume", agent.Agent.ResumeSandbox)
}

func (v *VibeKit) lifecycle(ctx context.Context, name string, fn func(agent.Agent, context.Context) error) (err error) {
	ctx, span := v.start(ctx, name)
	defer func() { endSpan(span, err) }()

	a, err := v.backend()
	if err != nil {
		return err
	}
	return fn(a, ctx)
}
