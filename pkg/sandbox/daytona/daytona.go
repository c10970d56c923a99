// Package daytona provisions sandboxes through the Daytona REST API.
package daytona

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"

	"github.com/backupManager/vibekit-ai/internal/httpjson"
	"github.com/backupManager/vibekit-ai/pkg/sandbox"
)

// DefaultServerURL is the Daytona cloud API.
const DefaultServerURL = "https://app.daytona.io/api"

const (
	stateStarted = "started"
	stateError   = "error"
)

var (
	// pollInterval is how often sandbox state is checked while starting.
	pollInterval = 2 * time.Second
	// startTimeout bounds how long Create and Resume wait for "started".
	startTimeout = 3 * time.Minute
)

// ErrSandboxFailed is returned when Daytona reports the sandbox in an error state.
var ErrSandboxFailed = errors.New("daytona sandbox entered error state")

type client struct {
	apiKey    string
	serverURL string
	api       *http.Client
	// once sends requests that must not be repeated.
	once *http.Client
}

func newClient(cfg *sandbox.DaytonaConfig) *client {
	serverURL := strings.TrimRight(cfg.ServerURL, "/")
	if serverURL == "" {
		serverURL = DefaultServerURL
	}
	return &client{
		apiKey:    cfg.APIKey,
		serverURL: serverURL,
		api:       httpjson.NewClient(),
		once:      &http.Client{},
	}
}

func (c *client) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.apiKey}
}

// Sandbox is a running Daytona sandbox.
type Sandbox struct {
	c  *client
	id string
}

var _ sandbox.Sandbox = (*Sandbox)(nil)

type createRequest struct {
	Image  string            `json:"image,omitempty"`
	Env    map[string]string `json:"env,omitempty"`
	Labels map[string]string `json:"labels,omitempty"`
}

type sandboxInfo struct {
	ID          string `json:"id"`
	State       string `json:"state"`
	ErrorReason string `json:"errorReason,omitempty"`
}

type executeRequest struct {
	Command string `json:"command"`
	Cwd     string `json:"cwd,omitempty"`
	Timeout int    `json:"timeout,omitempty"`
}

type executeResponse struct {
	ExitCode int    `json:"exitCode"`
	Result   string `json:"result"`
}

// Create provisions a sandbox and waits until it is started.
func Create(ctx context.Context, cfg *sandbox.DaytonaConfig, opts sandbox.CreateOptions) (*Sandbox, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return newClient(cfg).create(ctx, cfg, opts)
}

func (c *client) create(ctx context.Context, cfg *sandbox.DaytonaConfig, opts sandbox.CreateOptions) (*Sandbox, error) {
	image := cfg.Image
	if image == "" {
		image = opts.Template
	}

	var info sandboxInfo
	err := httpjson.Do(ctx, c.once, http.MethodPost, c.serverURL+"/sandbox", c.headers(), createRequest{
		Image:  image,
		Env:    opts.Env,
		Labels: opts.Labels,
	}, &info)
	if err != nil {
		return nil, fmt.Errorf("creating daytona sandbox: %w", err)
	}
	if info.ID == "" {
		return nil, fmt.Errorf("creating daytona sandbox: empty sandbox ID in response")
	}

	s := &Sandbox{c: c, id: info.ID}
	if info.State != stateStarted {
		if err := s.waitStarted(ctx); err != nil {
			_ = s.Kill(context.WithoutCancel(ctx))
			return nil, err
		}
	}
	clog.FromContext(ctx).With("sandbox", info.ID, "image", image).Info("daytona sandbox created")
	return s, nil
}

// Connect attaches to an existing sandbox by ID.
func Connect(ctx context.Context, cfg *sandbox.DaytonaConfig, id string) (*Sandbox, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return newClient(cfg).connect(ctx, id)
}

func (c *client) connect(ctx context.Context, id string) (*Sandbox, error) {
	s := &Sandbox{c: c, id: id}
	var info sandboxInfo
	if err := httpjson.Do(ctx, c.api, http.MethodGet, s.url(""), c.headers(), nil, &info); err != nil {
		return nil, fmt.Errorf("connecting to daytona sandbox %s: %w", id, err)
	}
	clog.FromContext(ctx).With("sandbox", id, "state", info.State).Info("daytona sandbox attached")
	return s, nil
}

func (s *Sandbox) url(suffix string) string {
	return s.c.serverURL + "/sandbox/" + url.PathEscape(s.id) + suffix
}

func (s *Sandbox) waitStarted(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		var info sandboxInfo
		if err := httpjson.Do(ctx, s.c.api, http.MethodGet, s.url(""), s.c.headers(), nil, &info); err != nil {
			return fmt.Errorf("polling daytona sandbox: %w", err)
		}
		switch info.State {
		case stateStarted:
			return nil
		case stateError:
			return fmt.Errorf("%w: %s", ErrSandboxFailed, info.ErrorReason)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for daytona sandbox %s: %w", s.id, ctx.Err())
		case <-ticker.C:
		}
	}
}

// ID returns the Daytona sandbox ID.
func (s *Sandbox) ID() string { return s.id }

// Exec runs command through the toolbox process API. Daytona returns
// combined output once the command finishes; it is replayed line by line to
// OnStdout.
func (s *Sandbox) Exec(ctx context.Context, command string, opts sandbox.ExecOptions) (*sandbox.ExecResult, error) {
	wrapped := sandbox.Wrap(command, sandbox.ExecOptions{Env: opts.Env, Background: opts.Background})
	req := executeRequest{
		Command: "sh -c " + sandbox.Quote(wrapped),
		Cwd:     opts.Dir,
	}
	if opts.Timeout > 0 {
		req.Timeout = int(opts.Timeout.Seconds())
		if req.Timeout == 0 {
			req.Timeout = 1
		}
	}

	endpoint := s.c.serverURL + "/toolbox/" + url.PathEscape(s.id) + "/toolbox/process/execute"
	var resp executeResponse
	if err := httpjson.Do(ctx, s.c.once, http.MethodPost, endpoint, s.c.headers(), req, &resp); err != nil {
		return nil, fmt.Errorf("executing in daytona sandbox: %w", err)
	}

	stdout := sandbox.NewLineWriter(opts.OnStdout)
	_, _ = io.WriteString(stdout, resp.Result)
	stdout.Flush()
	return &sandbox.ExecResult{ExitCode: resp.ExitCode, Stdout: resp.Result}, nil
}

// Pause stops the sandbox; its filesystem is kept.
func (s *Sandbox) Pause(ctx context.Context) error {
	if err := httpjson.Do(ctx, s.c.api, http.MethodPost, s.url("/stop"), s.c.headers(), nil, nil); err != nil {
		return fmt.Errorf("stopping daytona sandbox: %w", err)
	}
	return nil
}

// Resume starts a stopped sandbox and waits until it is running.
func (s *Sandbox) Resume(ctx context.Context) error {
	if err := httpjson.Do(ctx, s.c.api, http.MethodPost, s.url("/start"), s.c.headers(), nil, nil); err != nil {
		return fmt.Errorf("starting daytona sandbox: %w", err)
	}
	return s.waitStarted(ctx)
}

// Kill deletes the sandbox.
func (s *Sandbox) Kill(ctx context.Context) error {
	if err := httpjson.Do(ctx, s.c.api, http.MethodDelete, s.url(""), s.c.headers(), nil, nil); err != nil {
		return fmt.Errorf("deleting daytona sandbox: %w", err)
	}
	clog.FromContext(ctx).With("sandbox", s.id).Info("daytona sandbox deleted")
	return nil
}
