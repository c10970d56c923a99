package vibekit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/backupManager/vibekit-ai/pkg/agent"
	"github.com/backupManager/vibekit-ai/pkg/eventbus"
	"github.com/backupManager/vibekit-ai/pkg/llm"
	"github.com/backupManager/vibekit-ai/pkg/sandbox"
)

// ---------------------------------------------------------------------------
// Stubs
// ---------------------------------------------------------------------------

// call records one positional invocation of the fake agent.
type call struct {
	method     string
	prompt     string
	mode       agent.Mode
	branch     string
	history    []agent.Turn
	historyNil bool
	callbacks  agent.Callbacks
	background bool
	command    string
	execOpts   agent.ExecuteOptions
}

type fakeAgent struct {
	mu    sync.Mutex
	calls []call

	// stream is invoked with the callbacks handed to streaming calls.
	stream func(agent.Callbacks)
	res    *agent.Response
	pr     *agent.PullRequestResponse
	err    error
}

func (f *fakeAgent) record(c call) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
	if f.stream != nil && c.callbacks != nil {
		f.stream(c.callbacks)
	}
}

func (f *fakeAgent) GenerateCode(_ context.Context, prompt string, mode agent.Mode, branch string, history []agent.Turn, cb agent.Callbacks, background bool) (*agent.Response, error) {
	f.record(call{method: "GenerateCode", prompt: prompt, mode: mode, branch: branch, history: history, historyNil: history == nil, callbacks: cb, background: background})
	return f.res, f.err
}

func (f *fakeAgent) CreatePullRequest(context.Context) (*agent.PullRequestResponse, error) {
	f.record(call{method: "CreatePullRequest"})
	return f.pr, f.err
}

func (f *fakeAgent) RunTests(_ context.Context, branch string, history []agent.Turn, cb agent.Callbacks) (*agent.Response, error) {
	f.record(call{method: "RunTests", branch: branch, history: history, historyNil: history == nil, callbacks: cb})
	return f.res, f.err
}

func (f *fakeAgent) ExecuteCommand(_ context.Context, command string, opts agent.ExecuteOptions) (*agent.Response, error) {
	f.record(call{method: "ExecuteCommand", command: command, execOpts: opts, callbacks: opts.Callbacks})
	return f.res, f.err
}

func (f *fakeAgent) KillSandbox(context.Context) error   { f.record(call{method: "KillSandbox"}); return f.err }
func (f *fakeAgent) PauseSandbox(context.Context) error  { f.record(call{method: "PauseSandbox"}); return f.err }
func (f *fakeAgent) ResumeSandbox(context.Context) error { f.record(call{method: "ResumeSandbox"}); return f.err }

func (f *fakeAgent) only(t *testing.T) call {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) != 1 {
		t.Fatalf("expected exactly one agent call, got %d: %+v", len(f.calls), f.calls)
	}
	return f.calls[0]
}

// factory counts constructions and captures the options of the last one.
type factory struct {
	agent *fakeAgent
	err   error
	calls atomic.Int32
	typ   agent.Type
	opts  agent.Options
}

func (f *factory) build(t agent.Type, opts agent.Options) (agent.Agent, error) {
	f.calls.Add(1)
	f.typ, f.opts = t, opts
	if f.err != nil {
		return nil, f.err
	}
	return f.agent, nil
}

func baseConfig(t agent.Type) Config {
	return Config{
		Agent: AgentConfig{
			Type:  t,
			Model: ModelConfig{APIKey: "test-provider-key"},
		},
		Environment: &sandbox.E2BConfig{APIKey: "test-e2b-key"},
		GitHub:      &GitHubConfig{Token: "test-github-token", Repository: "https://github.com/test/repo"},
	}
}

func newTestVibeKit(t *testing.T, cfg Config, opts ...Option) (*VibeKit, *fakeAgent, *factory) {
	t.Helper()
	fa := &fakeAgent{res: &agent.Response{ExitCode: 0, Stdout: "ok", SandboxID: "sbx-1"}}
	f := &factory{agent: fa}
	v, err := New(cfg, append([]Option{WithAgentFactory(f.build)}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return v, fa, f
}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

func TestNew_UnsupportedAgentType(t *testing.T) {
	_, err := New(baseConfig("devin"))
	if err == nil || !strings.Contains(err.Error(), "Unsupported agent type: devin") {
		t.Fatalf("expected unsupported agent type error, got %v", err)
	}
	var unsupported *agent.UnsupportedAgentTypeError
	if !errors.As(err, &unsupported) {
		t.Errorf("expected *agent.UnsupportedAgentTypeError, got %T", err)
	}
}

func TestNew_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"missing environment", func(c *Config) { c.Environment = nil }, ErrMissingEnvironment},
		{"environment without key", func(c *Config) { c.Environment = &sandbox.DaytonaConfig{} }, sandbox.ErrMissingAPIKey},
		{"token only", func(c *Config) { c.GitHub.Repository = "" }, ErrIncompleteGitHubConfig},
		{"repository only", func(c *Config) { c.GitHub.Token = "" }, ErrIncompleteGitHubConfig},
		{"unknown provider", func(c *Config) { c.Agent.Model.Provider = "acme" }, llm.ErrUnsupportedProvider},
		{"azure without base URL", func(c *Config) { c.Agent.Model.Provider = llm.Azure }, llm.ErrMissingRequiredOption},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig(agent.Codex)
			tt.mutate(&cfg)
			if _, err := New(cfg); !errors.Is(err, tt.want) {
				t.Errorf("New err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNew_MalformedRepository(t *testing.T) {
	cfg := baseConfig(agent.Claude)
	cfg.GitHub.Repository = "acme"
	if _, err := New(cfg); err == nil || !strings.Contains(err.Error(), "invalid repo") {
		t.Errorf("New err = %v, want invalid repo", err)
	}

	cfg.GitHub.Repository = "git@github.com:acme/widgets.git"
	if _, err := New(cfg); err != nil {
		t.Errorf("New with ssh repository URL: %v", err)
	}
}

func TestNew_DoesNotConstructAgent(t *testing.T) {
	_, _, f := newTestVibeKit(t, baseConfig(agent.Claude))
	if n := f.calls.Load(); n != 0 {
		t.Errorf("agent constructed %d times by New", n)
	}
}

func TestAgentOptions_EverySupportedType(t *testing.T) {
	for _, typ := range agent.Types() {
		t.Run(string(typ), func(t *testing.T) {
			cfg := baseConfig(typ)
			v, _, f := newTestVibeKit(t, cfg)
			if err := v.Pause(context.Background()); err != nil {
				t.Fatal(err)
			}
			if _, err := v.RunTests(context.Background(), RunTestsOptions{}); err != nil {
				t.Fatal(err)
			}

			if n := f.calls.Load(); n != 1 {
				t.Fatalf("agent constructed %d times, want 1", n)
			}
			provider := agent.DefaultProvider(typ)
			want := agent.Options{
				ProviderAPIKey: "test-provider-key",
				Model:          llm.DefaultModel(provider),
				Provider:       provider,
				GitHub:         &agent.GitHubCredentials{Token: "test-github-token", RepoURL: "https://github.com/test/repo"},
				Sandbox:        cfg.Environment,
			}
			if f.typ != typ {
				t.Errorf("type = %q", f.typ)
			}
			if diff := cmp.Diff(want, f.opts); diff != "" {
				t.Errorf("options mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAgentOptions_WithoutGitHub(t *testing.T) {
	cfg := baseConfig(agent.Codex)
	cfg.GitHub = nil
	v, _, f := newTestVibeKit(t, cfg)
	if _, err := v.ExecuteCommand(context.Background(), "ls", ExecuteCommandOptions{}); err != nil {
		t.Fatal(err)
	}
	if f.opts.GitHub != nil {
		t.Errorf("GitHub credentials must be absent, got %+v", f.opts.GitHub)
	}
}

func TestAgentOptions_AzureBaseURL(t *testing.T) {
	cfg := baseConfig(agent.Codex)
	cfg.Agent.Model.Provider = llm.Azure
	cfg.Agent.Model.BaseURL = "https://acme.openai.azure.com/openai/v1"
	v, _, f := newTestVibeKit(t, cfg)
	if err := v.Pause(context.Background()); err != nil {
		t.Fatal(err)
	}
	if f.opts.Provider != llm.Azure || f.opts.BaseURL != cfg.Agent.Model.BaseURL {
		t.Errorf("unexpected options %+v", f.opts)
	}
}

func TestAgentOptions_ExplicitModel(t *testing.T) {
	cfg := baseConfig(agent.OpenCode)
	cfg.Agent.Model.Name = "llama-3.1-8b-instant"
	cfg.Agent.Model.Provider = llm.Groq
	cfg.SandboxID = "sbx-old"
	v, _, f := newTestVibeKit(t, cfg)
	if err := v.Kill(context.Background()); err != nil {
		t.Fatal(err)
	}
	if f.opts.Model != "llama-3.1-8b-instant" || f.opts.Provider != llm.Groq || f.opts.SandboxID != "sbx-old" {
		t.Errorf("unexpected options %+v", f.opts)
	}
}

func TestBackend_ConstructedOnceConcurrently(t *testing.T) {
	v, _, f := newTestVibeKit(t, baseConfig(agent.Claude))

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = v.GenerateCode(context.Background(), GenerateRequest{Prompt: "p"})
		}()
	}
	wg.Wait()
	if n := f.calls.Load(); n != 1 {
		t.Errorf("agent constructed %d times, want 1", n)
	}
}

func TestBackend_ConstructionErrorNotRetried(t *testing.T) {
	boom := errors.New("construction failed")
	f := &factory{err: boom}
	v, err := New(baseConfig(agent.Codex), WithAgentFactory(f.build))
	if err != nil {
		t.Fatal(err)
	}
	for range 2 {
		if _, err := v.GenerateCode(context.Background(), GenerateRequest{Prompt: "p"}); !errors.Is(err, boom) {
			t.Errorf("GenerateCode err = %v", err)
		}
	}
	if err := v.Kill(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Kill err = %v", err)
	}
	if n := f.calls.Load(); n != 1 {
		t.Errorf("factory called %d times, want 1", n)
	}
}

// ---------------------------------------------------------------------------
// Argument translation
// ---------------------------------------------------------------------------

func TestGenerateCode_PositionalArguments(t *testing.T) {
	history := []agent.Turn{
		{Role: agent.RoleUser, Content: "first"},
		{Role: agent.RoleAssistant, Content: "second"},
		{Role: agent.RoleUser, Content: "first"},
	}
	tests := []struct {
		name          string
		req           GenerateRequest
		wantBranch    string
		wantCallbacks bool
	}{
		{"no branch no callbacks", GenerateRequest{Prompt: "Create a hello world function", Mode: agent.ModeCode, History: history, Background: true}, "", false},
		{"branch", GenerateRequest{Prompt: "p", Mode: agent.ModeAsk, Branch: "feature-branch", History: history}, "feature-branch", false},
		{"branch and callbacks", GenerateRequest{Prompt: "p", Mode: agent.ModeCode, Branch: "feature-branch", History: history, Callbacks: &Callbacks{}}, "feature-branch", true},
		{"callbacks only", GenerateRequest{Prompt: "p", Mode: agent.ModeCode, History: history, Callbacks: &Callbacks{OnUpdate: func(string) {}}}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, fa, _ := newTestVibeKit(t, baseConfig(agent.Codex))
			res, err := v.GenerateCode(context.Background(), tt.req)
			if err != nil {
				t.Fatal(err)
			}
			if res != fa.res {
				t.Errorf("response not returned unchanged")
			}

			c := fa.only(t)
			if c.prompt != tt.req.Prompt || c.mode != tt.req.Mode || c.background != tt.req.Background {
				t.Errorf("unexpected call %+v", c)
			}
			if c.branch != tt.wantBranch {
				t.Errorf("branch = %q, want %q", c.branch, tt.wantBranch)
			}
			if diff := cmp.Diff(history, c.history); diff != "" {
				t.Errorf("history reordered or filtered (-want +got):\n%s", diff)
			}
			if got := c.callbacks != nil; got != tt.wantCallbacks {
				t.Errorf("callbacks present = %v, want %v", got, tt.wantCallbacks)
			}
			if c.callbacks != nil {
				// Both methods are invocable even if the caller set only one.
				c.callbacks.OnUpdate("u")
				c.callbacks.OnError(errors.New("e"))
			}
		})
	}
}

func TestGenerateCode_Defaults(t *testing.T) {
	v, fa, _ := newTestVibeKit(t, baseConfig(agent.Claude))
	if _, err := v.GenerateCode(context.Background(), GenerateRequest{Prompt: "p"}); err != nil {
		t.Fatal(err)
	}
	c := fa.only(t)
	if c.mode != agent.ModeCode {
		t.Errorf("mode = %q", c.mode)
	}
	if c.historyNil || len(c.history) != 0 {
		t.Errorf("history should default to empty, got nil=%v %v", c.historyNil, c.history)
	}
	if c.background {
		t.Error("background should default to false")
	}
}

func TestRunTests_PositionalArguments(t *testing.T) {
	history := []agent.Turn{{Role: agent.RoleUser, Content: "add tests"}}

	v, fa, _ := newTestVibeKit(t, baseConfig(agent.Gemini))
	if _, err := v.RunTests(context.Background(), RunTestsOptions{}); err != nil {
		t.Fatal(err)
	}
	c := fa.only(t)
	if c.branch != "" || !c.historyNil || c.callbacks != nil {
		t.Errorf("RunTests({}) = %+v, want all arguments absent", c)
	}

	v, fa, _ = newTestVibeKit(t, baseConfig(agent.Gemini))
	if _, err := v.RunTests(context.Background(), RunTestsOptions{Branch: "main", History: history}); err != nil {
		t.Fatal(err)
	}
	c = fa.only(t)
	if c.branch != "main" || c.callbacks != nil {
		t.Errorf("unexpected call %+v", c)
	}
	if diff := cmp.Diff(history, c.history); diff != "" {
		t.Errorf("history mismatch (-want +got):\n%s", diff)
	}
}

func TestRunTests_FailuresReturnedUnchanged(t *testing.T) {
	v, fa, _ := newTestVibeKit(t, baseConfig(agent.Codex))
	fa.res = &agent.Response{ExitCode: 1, Stdout: "", Stderr: "Tests failed", SandboxID: "sbx-1"}

	res, err := v.RunTests(context.Background(), RunTestsOptions{})
	if err != nil {
		t.Fatalf("RunTests: %v", err)
	}
	if diff := cmp.Diff(&agent.Response{ExitCode: 1, Stderr: "Tests failed", SandboxID: "sbx-1"}, res); diff != "" {
		t.Errorf("response mismatch (-want +got):\n%s", diff)
	}
}

func TestExecuteCommand_ForwardsOptions(t *testing.T) {
	v, fa, _ := newTestVibeKit(t, baseConfig(agent.Codex))
	var updates []string
	_, err := v.ExecuteCommand(context.Background(), "npm test", ExecuteCommandOptions{
		Timeout:        30 * time.Second,
		UseRepoContext: true,
		Callbacks:      &Callbacks{OnUpdate: func(m string) { updates = append(updates, m) }},
	})
	if err != nil {
		t.Fatal(err)
	}
	c := fa.only(t)
	if c.command != "npm test" || c.execOpts.Timeout != 30*time.Second || !c.execOpts.UseRepoContext {
		t.Errorf("unexpected call %+v", c)
	}
	c.callbacks.OnUpdate("late")
	if len(updates) != 0 {
		t.Errorf("update after settlement delivered: %q", updates)
	}
}

func TestCreatePullRequest(t *testing.T) {
	v, fa, _ := newTestVibeKit(t, baseConfig(agent.Claude))
	fa.pr = &agent.PullRequestResponse{HTMLURL: "https://github.com/test/repo/pull/1", Number: 1, BranchName: "claude/x", CommitSHA: "abc"}

	pr, err := v.CreatePullRequest(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if pr != fa.pr {
		t.Error("pull request not returned unchanged")
	}
	if c := fa.only(t); c.method != "CreatePullRequest" {
		t.Errorf("method = %q", c.method)
	}
}

func TestCreatePullRequest_MissingGitHub(t *testing.T) {
	cfg := baseConfig(agent.Codex)
	cfg.GitHub = nil
	v, fa, f := newTestVibeKit(t, cfg)

	_, err := v.CreatePullRequest(context.Background())
	if !errors.Is(err, ErrMissingGitHubConfig) {
		t.Fatalf("err = %v", err)
	}
	for _, field := range []string{"githubToken", "repoUrl"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("error %q does not mention %s", err, field)
		}
	}
	if len(fa.calls) != 0 || f.calls.Load() != 0 {
		t.Error("agent touched before failing")
	}
}

func TestBackendErrorsPropagateUnchanged(t *testing.T) {
	boom := errors.New("sandbox exploded")
	v, fa, _ := newTestVibeKit(t, baseConfig(agent.Codex))
	fa.err = boom

	if _, err := v.GenerateCode(context.Background(), GenerateRequest{Prompt: "p"}); err != boom {
		t.Errorf("GenerateCode err = %v", err)
	}
	if _, err := v.CreatePullRequest(context.Background()); err != boom {
		t.Errorf("CreatePullRequest err = %v", err)
	}
	if err := v.Resume(context.Background()); err != boom {
		t.Errorf("Resume err = %v", err)
	}
}

func TestLifecycle_OneCallEach(t *testing.T) {
	tests := []struct {
		name string
		fn   func(*VibeKit, context.Context) error
		want string
	}{
		{"kill", (*VibeKit).Kill, "KillSandbox"},
		{"pause", (*VibeKit).Pause, "PauseSandbox"},
		{"resume", (*VibeKit).Resume, "ResumeSandbox"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, fa, _ := newTestVibeKit(t, baseConfig(agent.Codex))
			if err := tt.fn(v, context.Background()); err != nil {
				t.Fatal(err)
			}
			if c := fa.only(t); c.method != tt.want {
				t.Errorf("method = %q, want %q", c.method, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Streaming
// ---------------------------------------------------------------------------

func TestStream_ErrorsForwardedInOrder(t *testing.T) {
	v, fa, _ := newTestVibeKit(t, baseConfig(agent.Codex))
	errA, errB := errors.New("a"), errors.New("b")
	fa.stream = func(cb agent.Callbacks) {
		cb.OnUpdate("one")
		cb.OnError(errA)
		cb.OnUpdate("after error")
		cb.OnError(errB)
		cb.OnUpdate("last")
	}

	var updates []string
	var errs []error
	_, err := v.GenerateCode(context.Background(), GenerateRequest{
		Prompt: "p",
		Callbacks: &Callbacks{
			OnUpdate: func(m string) { updates = append(updates, m) },
			OnError:  func(err error) { errs = append(errs, err) },
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"one", "after error", "last"}, updates); diff != "" {
		t.Errorf("updates mismatch (-want +got):\n%s", diff)
	}
	if len(errs) != 2 || errs[0] != errA || errs[1] != errB {
		t.Errorf("errors = %v, want [a b]", errs)
	}
}

func TestStream_UpdatesDroppedAfterSettle(t *testing.T) {
	v, fa, _ := newTestVibeKit(t, baseConfig(agent.Codex))
	var late agent.Callbacks
	fa.stream = func(cb agent.Callbacks) {
		cb.OnUpdate("during")
		late = cb
	}

	var updates []string
	var errs []error
	if _, err := v.GenerateCode(context.Background(), GenerateRequest{
		Prompt: "p",
		Callbacks: &Callbacks{
			OnUpdate: func(m string) { updates = append(updates, m) },
			OnError:  func(err error) { errs = append(errs, err) },
		},
	}); err != nil {
		t.Fatal(err)
	}
	late.OnUpdate("too late")
	late.OnError(errors.New("late failure"))

	if diff := cmp.Diff([]string{"during"}, updates); diff != "" {
		t.Errorf("updates mismatch (-want +got):\n%s", diff)
	}
	if len(errs) != 1 {
		t.Errorf("late error must still be forwarded, got %v", errs)
	}
}

func TestStream_ConcurrentBackendGoroutines(t *testing.T) {
	v, fa, _ := newTestVibeKit(t, baseConfig(agent.Codex))
	fa.stream = func(cb agent.Callbacks) {
		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for range 50 {
					cb.OnUpdate("line")
				}
			}()
		}
		wg.Wait()
	}

	var n int
	_, err := v.ExecuteCommand(context.Background(), "x", ExecuteCommandOptions{
		Callbacks: &Callbacks{OnUpdate: func(string) { n++ }},
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 400 {
		t.Errorf("received %d updates, want 400", n)
	}
}

func TestStream_MirroredToEventBus(t *testing.T) {
	bus := eventbus.NewInMemoryBus()
	ch := bus.Subscribe("dark-mode")
	defer bus.Unsubscribe("dark-mode", ch)

	v, fa, _ := newTestVibeKit(t, baseConfig(agent.Codex), WithEventBus(bus), WithSessionName("dark-mode"))
	fa.stream = func(cb agent.Callbacks) {
		cb.OnUpdate("Starting sandbox")
		cb.OnError(errors.New("rate limited"))
	}

	// No caller callbacks: the bus alone still requests streaming.
	if _, err := v.GenerateCode(context.Background(), GenerateRequest{Prompt: "p"}); err != nil {
		t.Fatal(err)
	}

	var got []string
	for range 3 {
		select {
		case ev := <-ch:
			if ev.Session != "dark-mode" || ev.Operation != OpGenerate {
				t.Errorf("unexpected event %+v", ev)
			}
			got = append(got, string(ev.Type)+":"+ev.Data)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
	want := []string{"update:Starting sandbox", "error:rate limited", "done:exit 0"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}
