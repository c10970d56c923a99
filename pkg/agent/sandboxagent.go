package agent

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/chainguard-dev/clog"

	"github.com/backupManager/vibekit-ai/pkg/gitprovider"
	"github.com/backupManager/vibekit-ai/pkg/gitprovider/github"
	"github.com/backupManager/vibekit-ai/pkg/llm"
	"github.com/backupManager/vibekit-ai/pkg/prmeta"
	"github.com/backupManager/vibekit-ai/pkg/sandbox"
)

// testPrompt is handed to the agent when no test command can be detected.
const testPrompt = "Install dependencies and run tests"

// CommandError is returned when a setup or git step exits non-zero.
type CommandError struct {
	Step     string
	ExitCode int
	Output   string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s failed (exit %d): %s", e.Step, e.ExitCode, strings.TrimSpace(e.Output))
}

// sandboxAgent runs a coding CLI inside a lazily provisioned sandbox.
type sandboxAgent struct {
	cli      cli
	opts     Options
	model    string
	provider llm.Provider
	workdir  string

	// Swapped in tests.
	open         func(context.Context, sandbox.Config, sandbox.CreateOptions) (sandbox.Sandbox, error)
	connect      func(context.Context, sandbox.Config, string) (sandbox.Sandbox, error)
	newGit       func(token string) gitprovider.Provider
	generateMeta func(context.Context, prmeta.Options, string, string) (*prmeta.PullRequestMetadata, error)

	mu         sync.Mutex
	sbx        sandbox.Sandbox
	attachID   string
	lastPrompt string
}

var _ Agent = (*sandboxAgent)(nil)

func newSandboxAgent(c cli, opts Options) *sandboxAgent {
	provider := opts.Provider
	if provider == "" {
		provider = DefaultProvider(c.agent)
	}
	model := opts.Model
	if model == "" {
		model = llm.DefaultModel(provider)
	}
	workdir := opts.WorkingDirectory
	if workdir == "" {
		workdir = DefaultWorkingDirectory
	}
	return &sandboxAgent{
		cli:          c,
		opts:         opts,
		model:        model,
		provider:     provider,
		workdir:      workdir,
		open:         OpenSandbox,
		connect:      ConnectSandbox,
		attachID:     opts.SandboxID,
		newGit:       func(token string) gitprovider.Provider { return github.New(token) },
		generateMeta: prmeta.GeneratePullRequest,
	}
}

func (a *sandboxAgent) env() map[string]string {
	env := make(map[string]string, len(a.opts.Secrets)+2)
	for k, v := range a.opts.Secrets {
		env[k] = v
	}
	if a.opts.ProviderAPIKey != "" {
		env[a.cli.keyEnv(a.provider)] = a.opts.ProviderAPIKey
	}
	if a.opts.GitHub != nil && a.opts.GitHub.Token != "" {
		env["GH_TOKEN"] = a.opts.GitHub.Token
	}
	return env
}

// ensureSandbox returns the live sandbox, provisioning and preparing it on
// first use or after a kill.
func (a *sandboxAgent) ensureSandbox(ctx context.Context, cb Callbacks) (sandbox.Sandbox, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.attachLocked(ctx); err != nil {
		return nil, err
	}
	if a.sbx != nil {
		return a.sbx, nil
	}

	var repo string
	if a.opts.GitHub != nil {
		r, err := gitprovider.ParseRepo(a.opts.GitHub.RepoURL)
		if err != nil {
			return nil, err
		}
		repo = r
	}

	log := clog.FromContext(ctx).With("agent", a.cli.agent)
	status(cb, "Starting sandbox")
	sbx, err := a.open(ctx, a.opts.Sandbox, sandbox.CreateOptions{
		Template: a.cli.templateFor(a.opts.Sandbox.Kind()),
		Env:      a.env(),
		Labels:   map[string]string{"vibekit.agent": string(a.cli.agent)},
	})
	if err != nil {
		return nil, err
	}
	log = log.With("sandbox", sbx.ID())

	if repo != "" {
		status(cb, "Cloning repository "+repo)
		clone := fmt.Sprintf("git clone --depth 1 %s %s && cd %s && git config user.name 'VibeKit' && git config user.email 'vibekit@users.noreply.github.com'",
			sandbox.Quote(gitprovider.CloneURL(repo, a.opts.GitHub.Token)), sandbox.Quote(a.workdir), sandbox.Quote(a.workdir))
		if _, err := a.run(ctx, sbx, "git clone", clone, ""); err != nil {
			_ = sbx.Kill(ctx)
			return nil, err
		}
		log.With("repo", repo).Info("repository cloned")
	} else if _, err := a.run(ctx, sbx, "prepare workspace", "mkdir -p "+sandbox.Quote(a.workdir), ""); err != nil {
		_ = sbx.Kill(ctx)
		return nil, err
	}

	log.Info("sandbox ready")
	a.sbx = sbx
	return sbx, nil
}

// attachLocked connects to the sandbox named by Options.SandboxID, once.
// a.mu must be held.
func (a *sandboxAgent) attachLocked(ctx context.Context) error {
	if a.sbx != nil || a.attachID == "" {
		return nil
	}
	sbx, err := a.connect(ctx, a.opts.Sandbox, a.attachID)
	if err != nil {
		return err
	}
	a.sbx = sbx
	a.attachID = ""
	return nil
}

// run executes a setup step and fails on a non-zero exit.
func (a *sandboxAgent) run(ctx context.Context, sbx sandbox.Sandbox, step, command, dir string) (string, error) {
	res, err := sbx.Exec(ctx, command, sandbox.ExecOptions{Dir: dir})
	if err != nil {
		return "", fmt.Errorf("%s: %w", step, err)
	}
	if res.ExitCode != 0 {
		return "", &CommandError{Step: step, ExitCode: res.ExitCode, Output: res.Stderr + res.Stdout}
	}
	return res.Stdout, nil
}

func (a *sandboxAgent) checkout(ctx context.Context, sbx sandbox.Sandbox, branch string, cb Callbacks) error {
	if branch == "" || a.opts.GitHub == nil {
		return nil
	}
	status(cb, "Checking out branch "+branch)
	// The clone is shallow and single-branch, so a remote branch is only
	// visible after fetching it into its tracking ref.
	b := sandbox.Quote(branch)
	cmd := fmt.Sprintf("if git rev-parse --verify --quiet %s >/dev/null; then git checkout %s; "+
		"elif git fetch --depth 1 origin %s; then git checkout -b %s --track %s; "+
		"else git checkout -b %s; fi",
		sandbox.Quote("refs/heads/"+branch), b,
		sandbox.Quote(branch+":refs/remotes/origin/"+branch), b, sandbox.Quote("origin/"+branch),
		b)
	_, err := a.run(ctx, sbx, "git checkout", cmd, a.workdir)
	return err
}

// exec runs a streamed command and converts the result.
func (a *sandboxAgent) exec(ctx context.Context, sbx sandbox.Sandbox, command string, opts sandbox.ExecOptions, cb Callbacks) (*Response, error) {
	if cb != nil {
		opts.OnStdout = func(line string) { dispatchLine(cb, line) }
		opts.OnStderr = func(line string) { dispatchLine(cb, line) }
	}
	res, err := sbx.Exec(ctx, command, opts)
	if err != nil {
		if cb != nil {
			cb.OnError(err)
		}
		return nil, err
	}
	return &Response{
		ExitCode:  res.ExitCode,
		Stdout:    res.Stdout,
		Stderr:    res.Stderr,
		SandboxID: sbx.ID(),
		Agent:     a.cli.agent,
	}, nil
}

func status(cb Callbacks, msg string) {
	if cb != nil {
		cb.OnUpdate(msg)
	}
}

// ---------------------------------------------------------------------------
// Agent
// ---------------------------------------------------------------------------

func (a *sandboxAgent) GenerateCode(ctx context.Context, prompt string, mode Mode, branch string, history []Turn, cb Callbacks, background bool) (*Response, error) {
	sbx, err := a.ensureSandbox(ctx, cb)
	if err != nil {
		return nil, err
	}
	if err := a.checkout(ctx, sbx, branch, cb); err != nil {
		return nil, err
	}

	if mode != ModeAsk {
		a.mu.Lock()
		a.lastPrompt = prompt
		a.mu.Unlock()
	}

	command := a.cli.command(renderPrompt(prompt, mode, history), a.model, a.provider)
	clog.FromContext(ctx).With("agent", a.cli.agent, "sandbox", sbx.ID(), "mode", mode, "background", background).
		Info("running coding agent")
	status(cb, fmt.Sprintf("Running %s (%s)", a.cli.agent, a.model))

	return a.exec(ctx, sbx, command, sandbox.ExecOptions{Dir: a.workdir, Background: background}, cb)
}

func (a *sandboxAgent) RunTests(ctx context.Context, branch string, history []Turn, cb Callbacks) (*Response, error) {
	sbx, err := a.ensureSandbox(ctx, cb)
	if err != nil {
		return nil, err
	}
	if err := a.checkout(ctx, sbx, branch, cb); err != nil {
		return nil, err
	}

	probe, err := a.run(ctx, sbx, "detect project", sandbox.ProbeCommand(), a.workdir)
	if err != nil {
		return nil, err
	}
	cmds := sandbox.DetectVerifyCommands(sandbox.ParseProbe(probe))
	if len(cmds) == 0 {
		status(cb, "No test command detected, asking the agent")
		command := a.cli.command(renderPrompt(testPrompt, ModeCode, history), a.model, a.provider)
		return a.exec(ctx, sbx, command, sandbox.ExecOptions{Dir: a.workdir}, cb)
	}

	status(cb, "Running "+strings.Join(cmds, " && "))
	return a.exec(ctx, sbx, strings.Join(cmds, " && "), sandbox.ExecOptions{Dir: a.workdir}, cb)
}

func (a *sandboxAgent) ExecuteCommand(ctx context.Context, command string, opts ExecuteOptions) (*Response, error) {
	sbx, err := a.ensureSandbox(ctx, opts.Callbacks)
	if err != nil {
		return nil, err
	}
	execOpts := sandbox.ExecOptions{Timeout: opts.Timeout}
	if opts.UseRepoContext {
		execOpts.Dir = a.workdir
	}
	return a.exec(ctx, sbx, command, execOpts, opts.Callbacks)
}

var branchUnsafe = regexp.MustCompile(`[^a-z0-9._/-]+`)

// branchName turns generated text into a git-safe ref under the agent's prefix.
func (a *sandboxAgent) branchName(name string) string {
	b := branchUnsafe.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
	b = strings.Trim(strings.ReplaceAll(b, "..", "-"), "-./")
	if b == "" {
		b = "changes"
	}
	return string(a.cli.agent) + "/" + b
}

func (a *sandboxAgent) CreatePullRequest(ctx context.Context) (*PullRequestResponse, error) {
	if a.opts.GitHub == nil {
		return nil, ErrNoGitHubCredentials
	}
	repo, err := gitprovider.ParseRepo(a.opts.GitHub.RepoURL)
	if err != nil {
		return nil, err
	}
	sbx, err := a.ensureSandbox(ctx, nil)
	if err != nil {
		return nil, err
	}

	diff, err := a.run(ctx, sbx, "git diff", "git add -A && git diff --cached", a.workdir)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(diff) == "" {
		return nil, ErrNoChanges
	}
	base, err := a.run(ctx, sbx, "git rev-parse", "git rev-parse --abbrev-ref HEAD", a.workdir)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	prompt := a.lastPrompt
	a.mu.Unlock()
	meta, err := a.generateMeta(ctx, prmeta.Options{
		Provider: a.provider,
		APIKey:   a.opts.ProviderAPIKey,
		Model:    a.model,
		BaseURL:  a.opts.BaseURL,
	}, diff, prompt)
	if err != nil {
		return nil, err
	}

	branch := a.branchName(meta.BranchName)
	push := fmt.Sprintf("git checkout -b %s && git commit -m %s && git push -u origin %s",
		sandbox.Quote(branch), sandbox.Quote(meta.CommitMessage), sandbox.Quote(branch))
	if _, err := a.run(ctx, sbx, "git push", push, a.workdir); err != nil {
		return nil, err
	}
	sha, err := a.run(ctx, sbx, "git rev-parse", "git rev-parse HEAD", a.workdir)
	if err != nil {
		return nil, err
	}

	pr, err := a.newGit(a.opts.GitHub.Token).CreatePR(ctx, gitprovider.PROptions{
		Repo:   repo,
		Branch: branch,
		Base:   strings.TrimSpace(base),
		Title:  meta.Title,
		Body:   meta.Body,
		Labels: []string{string(a.cli.agent)},
	})
	if err != nil {
		return nil, err
	}
	clog.FromContext(ctx).With("agent", a.cli.agent, "repo", repo, "number", pr.Number).Info("pull request created")

	return &PullRequestResponse{
		HTMLURL:    pr.HTMLURL,
		Number:     pr.Number,
		BranchName: branch,
		CommitSHA:  strings.TrimSpace(sha),
	}, nil
}

// ---------------------------------------------------------------------------
// Sandbox lifecycle
// ---------------------------------------------------------------------------

// KillSandbox destroys the sandbox; the next call provisions a new one.
func (a *sandboxAgent) KillSandbox(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.attachLocked(ctx); err != nil {
		return err
	}
	if a.sbx == nil {
		return nil
	}
	if err := a.sbx.Kill(ctx); err != nil {
		return err
	}
	a.sbx = nil
	return nil
}

func (a *sandboxAgent) PauseSandbox(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.attachLocked(ctx); err != nil {
		return err
	}
	if a.sbx == nil {
		return nil
	}
	return a.sbx.Pause(ctx)
}

func (a *sandboxAgent) ResumeSandbox(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.attachLocked(ctx); err != nil {
		return err
	}
	if a.sbx == nil {
		return nil
	}
	return a.sbx.Resume(ctx)
}
