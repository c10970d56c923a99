// Package docker runs sandboxes as local Docker containers through the
// docker CLI.
package docker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/chainguard-dev/clog"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/backupManager/vibekit-ai/pkg/sandbox"
)

// DefaultImage is used when neither the config nor the caller names one.
const DefaultImage = "ubuntu:24.04"

// Sandbox is a running container.
type Sandbox struct {
	bin  string
	id   string
	name string
}

var _ sandbox.Sandbox = (*Sandbox)(nil)

// findDocker locates the docker binary, checking PATH first and then
// well-known install locations (Docker Desktop on macOS, Homebrew, etc.).
func findDocker() string {
	if p, err := exec.LookPath("docker"); err == nil {
		return p
	}
	candidates := []string{
		"/Applications/Docker.app/Contents/Resources/bin/docker",
		"/usr/local/bin/docker",
		"/opt/homebrew/bin/docker",
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return "docker"
}

// Create starts a long-lived container that commands are exec'd into.
func Create(ctx context.Context, cfg *sandbox.DockerConfig, opts sandbox.CreateOptions) (*Sandbox, error) {
	return create(ctx, findDocker(), cfg, opts)
}

func create(ctx context.Context, bin string, cfg *sandbox.DockerConfig, opts sandbox.CreateOptions) (*Sandbox, error) {
	name := "vibekit-" + uuid.NewString()[:8]
	args := runArgs(cfg, opts, name)

	output, err := exec.CommandContext(ctx, bin, args...).CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("starting container: %w\noutput: %s", err, string(output))
	}

	id := strings.TrimSpace(string(output))
	clog.FromContext(ctx).With("sandbox", id, "name", name).Info("docker sandbox started")
	return &Sandbox{bin: bin, id: id, name: name}, nil
}

// Connect attaches to an existing container by ID or name.
func Connect(ctx context.Context, id string) (*Sandbox, error) {
	return connect(ctx, findDocker(), id)
}

func connect(ctx context.Context, bin, id string) (*Sandbox, error) {
	output, err := exec.CommandContext(ctx, bin, "inspect", "-f", "{{.Id}} {{.Name}}", id).CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("inspecting container %s: %w\noutput: %s", id, err, string(output))
	}
	fields := strings.Fields(string(output))
	if len(fields) != 2 {
		return nil, fmt.Errorf("inspecting container %s: unexpected output %q", id, string(output))
	}
	return &Sandbox{bin: bin, id: fields[0], name: strings.TrimPrefix(fields[1], "/")}, nil
}

func runArgs(cfg *sandbox.DockerConfig, opts sandbox.CreateOptions, name string) []string {
	image := cfg.Image
	if image == "" {
		image = opts.Template
	}
	if image == "" {
		image = DefaultImage
	}

	args := []string{
		"run", "-d",
		"--name", name,
		"--label", "vibekit.sandbox=" + name,
	}
	for _, k := range sortedKeys(opts.Labels) {
		args = append(args, "--label", k+"="+opts.Labels[k])
	}
	if cfg.Network != "" {
		args = append(args, "--network", cfg.Network)
	}
	for _, k := range sortedKeys(opts.Env) {
		args = append(args, "-e", k+"="+opts.Env[k])
	}
	return append(args, "--entrypoint", "sleep", image, "infinity")
}

func execArgs(id, command string, opts sandbox.ExecOptions) []string {
	args := []string{"exec"}
	if opts.Background {
		args = append(args, "-d")
	}
	if opts.Dir != "" {
		args = append(args, "-w", opts.Dir)
	}
	for _, k := range sortedKeys(opts.Env) {
		args = append(args, "-e", k+"="+opts.Env[k])
	}
	return append(args, id, "sh", "-c", command)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ID returns the container ID.
func (s *Sandbox) ID() string { return s.id }

// Exec runs command inside the container, streaming stdout and stderr line
// by line. A non-zero exit is reported in the result, not as an error.
func (s *Sandbox) Exec(ctx context.Context, command string, opts sandbox.ExecOptions) (*sandbox.ExecResult, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, s.bin, execArgs(s.id, command, opts)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("attaching stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("attaching stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting exec: %w", err)
	}

	var outBuf, errBuf strings.Builder
	var g errgroup.Group
	g.Go(func() error { return pump(stdout, &outBuf, opts.OnStdout) })
	g.Go(func() error { return pump(stderr, &errBuf, opts.OnStderr) })
	scanErr := g.Wait()

	result := &sandbox.ExecResult{}
	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) || ctx.Err() != nil {
			return nil, fmt.Errorf("exec failed: %w\noutput: %s", errors.Join(err, ctx.Err()), errBuf.String())
		}
		result.ExitCode = exitErr.ExitCode()
	}
	if scanErr != nil {
		return nil, fmt.Errorf("reading exec output: %w", scanErr)
	}
	result.Stdout = outBuf.String()
	result.Stderr = errBuf.String()
	return result, nil
}

// pump copies r line by line into buf until EOF. Lines have no length limit;
// the pipe is always drained so the process can exit.
func pump(r io.Reader, buf *strings.Builder, fn func(string)) error {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
			buf.WriteString(line)
			buf.WriteByte('\n')
			if fn != nil {
				fn(line)
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			_, _ = io.Copy(io.Discard, r)
			return err
		}
	}
}

// Pause freezes every process in the container.
func (s *Sandbox) Pause(ctx context.Context) error {
	return s.run(ctx, "pausing container", "pause", s.id)
}

// Resume unfreezes a paused container.
func (s *Sandbox) Resume(ctx context.Context) error {
	return s.run(ctx, "resuming container", "unpause", s.id)
}

// Kill kills and removes the container.
func (s *Sandbox) Kill(ctx context.Context) error {
	_ = exec.CommandContext(ctx, s.bin, "kill", s.id).Run()
	if err := s.run(ctx, "removing container", "rm", "-f", s.id); err != nil {
		return err
	}
	clog.FromContext(ctx).With("sandbox", s.id).Info("docker sandbox removed")
	return nil
}

func (s *Sandbox) run(ctx context.Context, what string, args ...string) error {
	if output, err := exec.CommandContext(ctx, s.bin, args...).CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w\noutput: %s", what, err, string(output))
	}
	return nil
}
