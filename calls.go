package vibekit

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/backupManager/vibekit-ai/pkg/agent"
)

// GenerateRequest is the input to GenerateCode.
type GenerateRequest struct {
	Prompt string
	// Mode defaults to agent.ModeCode.
	Mode agent.Mode
	// Branch is checked out before the agent runs; empty means not given.
	Branch string
	// History is forwarded in order; nil is sent as an empty history.
	History    []agent.Turn
	Callbacks  *Callbacks
	Background bool
}

// RunTestsOptions is the input to RunTests. Zero fields mean not given.
type RunTestsOptions struct {
	Branch    string
	History   []agent.Turn
	Callbacks *Callbacks
}

// ExecuteCommandOptions is the input to ExecuteCommand.
type ExecuteCommandOptions struct {
	// Timeout is forwarded to the sandbox; VibeKit does not enforce it.
	Timeout        time.Duration
	UseRepoContext bool
	Callbacks      *Callbacks
}

// Operation names used for spans and events.
const (
	OpGenerate    = "generate"
	OpPullRequest = "pull-request"
	OpTests       = "tests"
	OpExec        = "exec"
)

// GenerateCode runs the agent on req.Prompt and returns its response
// unchanged.
func (v *VibeKit) GenerateCode(ctx context.Context, req GenerateRequest) (res *agent.Response, err error) {
	ctx, span := v.start(ctx, "GenerateCode",
		attribute.String("vibekit.mode", string(req.Mode)),
		attribute.Bool("vibekit.background", req.Background),
		attribute.Int("vibekit.history", len(req.History)))
	defer func() { endSpan(span, err) }()

	a, err := v.backend()
	if err != nil {
		return nil, err
	}

	mode := req.Mode
	if mode == "" {
		mode = agent.ModeCode
	}
	history := req.History
	if history == nil {
		history = []agent.Turn{}
	}

	s := v.stream(OpGenerate, req.Callbacks)
	res, err = a.GenerateCode(ctx, req.Prompt, mode, req.Branch, history, s.callbacks(), req.Background)
	s.settle(res, err)
	return res, err
}

// CreatePullRequest commits the sandbox's changes and opens a pull request.
// It returns ErrMissingGitHubConfig without touching the agent when the
// configuration has no GitHub section.
func (v *VibeKit) CreatePullRequest(ctx context.Context) (pr *agent.PullRequestResponse, err error) {
	ctx, span := v.start(ctx, "CreatePullRequest")
	defer func() { endSpan(span, err) }()

	if v.cfg.GitHub == nil {
		return nil, ErrMissingGitHubConfig
	}
	a, err := v.backend()
	if err != nil {
		return nil, err
	}
	pr, err = a.CreatePullRequest(ctx)
	if err == nil && pr != nil {
		span.SetAttributes(attribute.Int("vibekit.pr.number", pr.Number))
		v.publish(OpPullRequest, doneEvent, pr.HTMLURL)
	}
	return pr, err
}

// RunTests runs the project's tests in the sandbox. Test failures are
// reported through the response's exit code and stderr, not as an error.
func (v *VibeKit) RunTests(ctx context.Context, opts RunTestsOptions) (res *agent.Response, err error) {
	ctx, span := v.start(ctx, "RunTests")
	defer func() { endSpan(span, err) }()

	a, err := v.backend()
	if err != nil {
		return nil, err
	}
	s := v.stream(OpTests, opts.Callbacks)
	res, err = a.RunTests(ctx, opts.Branch, opts.History, s.callbacks())
	s.settle(res, err)
	return res, err
}

// ExecuteCommand runs command in the sandbox.
func (v *VibeKit) ExecuteCommand(ctx context.Context, command string, opts ExecuteCommandOptions) (res *agent.Response, err error) {
	ctx, span := v.start(ctx, "ExecuteCommand",
		attribute.Bool("vibekit.repo_context", opts.UseRepoContext),
		attribute.Int64("vibekit.timeout_ms", opts.Timeout.Milliseconds()))
	defer func() { endSpan(span, err) }()

	a, err := v.backend()
	if err != nil {
		return nil, err
	}
	s := v.stream(OpExec, opts.Callbacks)
	res, err = a.ExecuteCommand(ctx, command, agent.ExecuteOptions{
		Timeout:        opts.Timeout,
		UseRepoContext: opts.UseRepoContext,
		Callbacks:      s.callbacks(),
	})
	s.settle(res, err)
	return res, err
}

func (v *VibeKit) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs,
		attribute.String("vibekit.agent", string(v.cfg.Agent.Type)),
		attribute.String("vibekit.environment", string(v.cfg.Environment.Kind())),
		attribute.String("vibekit.session", v.session))
	return v.tracer.Start(ctx, "vibekit."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func outcome(res *agent.Response, err error) string {
	if err != nil {
		return err.Error()
	}
	if res == nil {
		return ""
	}
	return fmt.Sprintf("exit %d", res.ExitCode)
}
