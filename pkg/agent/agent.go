// Package agent defines the coding-agent backends a VibeKit session runs.
// Each backend wraps a headless coding CLI (Codex, Claude Code, OpenCode,
// Gemini CLI) that runs inside a remote sandbox.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/backupManager/vibekit-ai/pkg/llm"
	"github.com/backupManager/vibekit-ai/pkg/sandbox"
)

// Type names an agent backend. The set is closed.
type Type string

const (
	Codex    Type = "codex"
	Claude   Type = "claude"
	OpenCode Type = "opencode"
	Gemini   Type = "gemini"
)

// Types returns every supported agent type.
func Types() []Type {
	return []Type{Codex, Claude, OpenCode, Gemini}
}

// UnsupportedAgentTypeError is returned for an agent type outside Types().
type UnsupportedAgentTypeError struct {
	Type Type
}

func (e *UnsupportedAgentTypeError) Error() string {
	return "Unsupported agent type: " + string(e.Type)
}

// Validate reports whether t is a supported agent type.
func Validate(t Type) error {
	switch t {
	case Codex, Claude, OpenCode, Gemini:
		return nil
	default:
		return &UnsupportedAgentTypeError{Type: t}
	}
}

// DefaultProvider returns the model vendor an agent type uses when the
// configuration names none.
func DefaultProvider(t Type) llm.Provider {
	switch t {
	case Codex:
		return llm.OpenAI
	case Gemini:
		return llm.Gemini
	default:
		return llm.Anthropic
	}
}

// Mode selects whether the agent may modify the repository.
type Mode string

const (
	ModeCode Mode = "code"
	ModeAsk  Mode = "ask"
)

// Role is the speaker of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry of conversation history.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Response is the outcome of an agent invocation.
type Response struct {
	ExitCode  int    `json:"exitCode"`
	Stdout    string `json:"stdout"`
	Stderr    string `json:"stderr"`
	SandboxID string `json:"sandboxId"`
	Agent     Type   `json:"agent,omitempty"`
}

// PullRequestResponse describes a pull request opened from the sandbox.
type PullRequestResponse struct {
	HTMLURL    string `json:"html_url"`
	Number     int    `json:"number"`
	BranchName string `json:"branchName"`
	CommitSHA  string `json:"commitSha"`
}

// Callbacks receives progress while a call is in flight. A nil Callbacks
// means the caller does not want streaming.
type Callbacks interface {
	OnUpdate(message string)
	OnError(err error)
}

// ExecuteOptions configures Agent.ExecuteCommand.
type ExecuteOptions struct {
	// Timeout bounds the command; zero leaves it to the sandbox provider.
	Timeout time.Duration
	// UseRepoContext runs the command in the repository checkout.
	UseRepoContext bool
	Callbacks      Callbacks
}

// Agent is a coding-agent backend bound to at most one live sandbox.
// An empty branch and a nil history mean "not given".
type Agent interface {
	GenerateCode(ctx context.Context, prompt string, mode Mode, branch string, history []Turn, callbacks Callbacks, background bool) (*Response, error)
	CreatePullRequest(ctx context.Context) (*PullRequestResponse, error)
	RunTests(ctx context.Context, branch string, history []Turn, callbacks Callbacks) (*Response, error)
	ExecuteCommand(ctx context.Context, command string, opts ExecuteOptions) (*Response, error)
	KillSandbox(ctx context.Context) error
	PauseSandbox(ctx context.Context) error
	ResumeSandbox(ctx context.Context) error
}

// GitHubCredentials authorize cloning and pull request creation.
type GitHubCredentials struct {
	Token   string
	RepoURL string
}

// Options are the normalized constructor arguments shared by every backend.
type Options struct {
	ProviderAPIKey string
	Model          string
	Provider       llm.Provider
	// BaseURL overrides the vendor endpoint. Azure requires it.
	BaseURL string
	// GitHub is nil when the session has no GitHub configuration.
	GitHub  *GitHubCredentials
	Sandbox sandbox.Config
	// WorkingDirectory is where the repository is checked out.
	WorkingDirectory string
	// Secrets are exported into the sandbox environment.
	Secrets map[string]string
	// SandboxID attaches to an existing sandbox instead of provisioning one.
	// The attached sandbox is assumed to be prepared already.
	SandboxID string
}

// DefaultWorkingDirectory is used when Options.WorkingDirectory is empty.
const DefaultWorkingDirectory = "/workspace/repo"

var (
	// ErrNoSandboxConfig is returned when Options.Sandbox is nil.
	ErrNoSandboxConfig = errors.New("no sandbox environment configured")
	// ErrNoGitHubCredentials is returned by CreatePullRequest without GitHub credentials.
	ErrNoGitHubCredentials = errors.New("github credentials are required to create a pull request")
	// ErrNoChanges is returned by CreatePullRequest when the working tree is clean.
	ErrNoChanges = errors.New("no changes to commit")
)

// New builds the backend for t. It never provisions a sandbox; that happens
// on first use.
func New(t Type, opts Options) (Agent, error) {
	if err := Validate(t); err != nil {
		return nil, err
	}
	if opts.Sandbox == nil {
		return nil, ErrNoSandboxConfig
	}
	if err := opts.Sandbox.Validate(); err != nil {
		return nil, fmt.Errorf("sandbox config: %w", err)
	}

	switch t {
	case Codex:
		return newSandboxAgent(codexCLI(), opts), nil
	case Claude:
		return newSandboxAgent(claudeCLI(), opts), nil
	case OpenCode:
		return newSandboxAgent(openCodeCLI(), opts), nil
	case Gemini:
		return newSandboxAgent(geminiCLI(), opts), nil
	default:
		return nil, &UnsupportedAgentTypeError{Type: t}
	}
}
