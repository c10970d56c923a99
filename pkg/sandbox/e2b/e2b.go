// Package e2b provisions sandboxes on E2B. Lifecycle calls go to the REST
// control plane; commands run through the in-sandbox process service (envd)
// using the Connect streaming protocol with JSON payloads.
package e2b

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/chainguard-dev/clog"

	"github.com/backupManager/vibekit-ai/internal/httpjson"
	"github.com/backupManager/vibekit-ai/pkg/sandbox"
)

const (
	DefaultAPIURL   = "https://api.e2b.app"
	DefaultDomain   = "e2b.app"
	DefaultTemplate = "base"

	envdPort = 49983
	// lifetime is the sandbox timeout requested on create and resume.
	lifetime = time.Hour
)

// client talks to one E2B account.
type client struct {
	apiKey string
	apiURL string
	api    *http.Client
	// once sends requests that must not be repeated.
	once *http.Client
	// envdURL returns the process service base URL for a sandbox.
	envdURL func(sandboxID, domain string) string
}

func newClient(apiKey string) *client {
	return &client{
		apiKey: apiKey,
		apiURL: DefaultAPIURL,
		api:    httpjson.NewClient(),
		once:   &http.Client{},
		envdURL: func(sandboxID, domain string) string {
			return fmt.Sprintf("https://%d-%s.%s", envdPort, sandboxID, domain)
		},
	}
}

func (c *client) headers() map[string]string {
	return map[string]string{"X-API-Key": c.apiKey}
}

// Sandbox is a running E2B sandbox.
type Sandbox struct {
	c           *client
	id          string
	domain      string
	accessToken string
}

var _ sandbox.Sandbox = (*Sandbox)(nil)

type createRequest struct {
	TemplateID string            `json:"templateID"`
	Timeout    int               `json:"timeout"`
	EnvVars    map[string]string `json:"envVars,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type createResponse struct {
	SandboxID       string  `json:"sandboxID"`
	TemplateID      string  `json:"templateID"`
	ClientID        string  `json:"clientID"`
	EnvdVersion     string  `json:"envdVersion"`
	EnvdAccessToken string  `json:"envdAccessToken"`
	Domain          *string `json:"domain"`
}

// Create provisions a new sandbox.
func Create(ctx context.Context, cfg *sandbox.E2BConfig, opts sandbox.CreateOptions) (*Sandbox, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return newClient(cfg.APIKey).create(ctx, cfg, opts)
}

func (c *client) create(ctx context.Context, cfg *sandbox.E2BConfig, opts sandbox.CreateOptions) (*Sandbox, error) {
	template := cfg.TemplateID
	if template == "" {
		template = opts.Template
	}
	if template == "" {
		template = DefaultTemplate
	}

	var resp createResponse
	err := httpjson.Do(ctx, c.once, http.MethodPost, c.apiURL+"/sandboxes", c.headers(), createRequest{
		TemplateID: template,
		Timeout:    int(lifetime.Seconds()),
		EnvVars:    opts.Env,
		Metadata:   opts.Labels,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("creating e2b sandbox: %w", err)
	}
	if resp.SandboxID == "" {
		return nil, fmt.Errorf("creating e2b sandbox: empty sandbox ID in response")
	}

	domain := DefaultDomain
	if resp.Domain != nil && *resp.Domain != "" {
		domain = *resp.Domain
	}
	clog.FromContext(ctx).With("sandbox", resp.SandboxID, "template", template).Info("e2b sandbox created")
	return &Sandbox{c: c, id: resp.SandboxID, domain: domain, accessToken: resp.EnvdAccessToken}, nil
}

type sandboxDetail struct {
	SandboxID       string  `json:"sandboxID"`
	EnvdAccessToken string  `json:"envdAccessToken"`
	Domain          *string `json:"domain"`
	State           string  `json:"state"`
}

// Connect attaches to an existing sandbox by ID.
func Connect(ctx context.Context, cfg *sandbox.E2BConfig, id string) (*Sandbox, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return newClient(cfg.APIKey).connect(ctx, id)
}

func (c *client) connect(ctx context.Context, id string) (*Sandbox, error) {
	var detail sandboxDetail
	err := httpjson.Do(ctx, c.api, http.MethodGet, c.apiURL+"/sandboxes/"+url.PathEscape(id), c.headers(), nil, &detail)
	if err != nil {
		return nil, fmt.Errorf("connecting to e2b sandbox %s: %w", id, err)
	}
	domain := DefaultDomain
	if detail.Domain != nil && *detail.Domain != "" {
		domain = *detail.Domain
	}
	clog.FromContext(ctx).With("sandbox", id, "state", detail.State).Info("e2b sandbox attached")
	return &Sandbox{c: c, id: id, domain: domain, accessToken: detail.EnvdAccessToken}, nil
}

// ID returns the E2B sandbox ID.
func (s *Sandbox) ID() string { return s.id }

func (s *Sandbox) sandboxURL(suffix string) string {
	return s.c.apiURL + "/sandboxes/" + url.PathEscape(s.id) + suffix
}

// Pause snapshots and suspends the sandbox.
func (s *Sandbox) Pause(ctx context.Context) error {
	if err := httpjson.Do(ctx, s.c.api, http.MethodPost, s.sandboxURL("/pause"), s.c.headers(), nil, nil); err != nil {
		return fmt.Errorf("pausing e2b sandbox: %w", err)
	}
	return nil
}

// Resume restores a paused sandbox.
func (s *Sandbox) Resume(ctx context.Context) error {
	body := map[string]int{"timeout": int(lifetime.Seconds())}
	if err := httpjson.Do(ctx, s.c.api, http.MethodPost, s.sandboxURL("/resume"), s.c.headers(), body, nil); err != nil {
		return fmt.Errorf("resuming e2b sandbox: %w", err)
	}
	return nil
}

// Kill terminates the sandbox.
func (s *Sandbox) Kill(ctx context.Context) error {
	if err := httpjson.Do(ctx, s.c.api, http.MethodDelete, s.sandboxURL(""), s.c.headers(), nil, nil); err != nil {
		return fmt.Errorf("killing e2b sandbox: %w", err)
	}
	clog.FromContext(ctx).With("sandbox", s.id).Info("e2b sandbox killed")
	return nil
}

// basicUser selects the sandbox user commands run as.
func basicUser(user string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"))
}
