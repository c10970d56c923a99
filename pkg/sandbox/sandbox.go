// Package sandbox defines the remote environments a coding agent runs in and
// the handle used to drive them once provisioned.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"al.essio.dev/pkg/shellescape"
)

// Kind names a sandbox provider.
type Kind string

const (
	KindE2B     Kind = "e2b"
	KindDaytona Kind = "daytona"
	KindDocker  Kind = "docker"
)

// ErrMissingAPIKey is returned by Validate when a hosted provider has no key.
var ErrMissingAPIKey = errors.New("missing API key")

// Config selects exactly one sandbox provider. The set of implementations is
// closed: *E2BConfig, *DaytonaConfig and *DockerConfig.
type Config interface {
	Kind() Kind
	Validate() error
	sealed()
}

// E2BConfig provisions sandboxes on E2B.
type E2BConfig struct {
	APIKey string
	// TemplateID defaults to the per-agent template.
	TemplateID string
}

func (*E2BConfig) Kind() Kind { return KindE2B }
func (*E2BConfig) sealed()    {}

func (c *E2BConfig) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("e2b: %w", ErrMissingAPIKey)
	}
	return nil
}

// DaytonaConfig provisions sandboxes on Daytona.
type DaytonaConfig struct {
	APIKey string
	// Image defaults to the per-agent image.
	Image string
	// ServerURL defaults to the Daytona cloud API.
	ServerURL string
}

func (*DaytonaConfig) Kind() Kind { return KindDaytona }
func (*DaytonaConfig) sealed()    {}

func (c *DaytonaConfig) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("daytona: %w", ErrMissingAPIKey)
	}
	return nil
}

// DockerConfig runs sandboxes as local Docker containers.
type DockerConfig struct {
	// Image defaults to the per-agent image.
	Image   string
	Network string
}

func (*DockerConfig) Kind() Kind      { return KindDocker }
func (*DockerConfig) sealed()         {}
func (*DockerConfig) Validate() error { return nil }

// ---------------------------------------------------------------------------
// Handle
// ---------------------------------------------------------------------------

// CreateOptions configures a new sandbox.
type CreateOptions struct {
	// Template is the template, image or snapshot used when the provider
	// config does not name one.
	Template string
	Env      map[string]string
	Labels   map[string]string
}

// ExecOptions configures a single command execution.
type ExecOptions struct {
	Dir string
	Env map[string]string
	// Timeout bounds the command; zero means no limit beyond ctx.
	Timeout time.Duration
	// Background starts the command detached and returns immediately.
	Background bool
	OnStdout   func(line string)
	OnStderr   func(line string)
}

// ExecResult is the outcome of a finished command.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Sandbox is a provisioned remote environment.
type Sandbox interface {
	ID() string
	Exec(ctx context.Context, command string, opts ExecOptions) (*ExecResult, error)
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Kill(ctx context.Context) error
}

// ---------------------------------------------------------------------------
// Shell helpers shared by drivers without native env/cwd/detach support
// ---------------------------------------------------------------------------

// Quote returns s quoted for a POSIX shell.
func Quote(s string) string {
	return shellescape.Quote(s)
}

// Wrap applies opts.Dir, opts.Env and opts.Background to command.
func Wrap(command string, opts ExecOptions) string {
	var b strings.Builder
	keys := make([]string, 0, len(opts.Env))
	for k := range opts.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "export %s=%s; ", k, Quote(opts.Env[k]))
	}
	if opts.Dir != "" {
		fmt.Fprintf(&b, "cd %s && ", Quote(opts.Dir))
	}
	if opts.Background {
		fmt.Fprintf(&b, "nohup sh -c %s > /tmp/vibekit-background.log 2>&1 &", Quote(command))
	} else {
		b.WriteString(command)
	}
	return b.String()
}
