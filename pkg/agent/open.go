package agent

import (
	"context"
	"fmt"

	"github.com/backupManager/vibekit-ai/pkg/sandbox"
	"github.com/backupManager/vibekit-ai/pkg/sandbox/daytona"
	"github.com/backupManager/vibekit-ai/pkg/sandbox/docker"
	"github.com/backupManager/vibekit-ai/pkg/sandbox/e2b"
)

// OpenSandbox provisions a sandbox with the driver selected by cfg.
func OpenSandbox(ctx context.Context, cfg sandbox.Config, opts sandbox.CreateOptions) (sandbox.Sandbox, error) {
	switch c := cfg.(type) {
	case *sandbox.E2BConfig:
		s, err := e2b.Create(ctx, c, opts)
		if err != nil {
			return nil, err
		}
		return s, nil
	case *sandbox.DaytonaConfig:
		s, err := daytona.Create(ctx, c, opts)
		if err != nil {
			return nil, err
		}
		return s, nil
	case *sandbox.DockerConfig:
		s, err := docker.Create(ctx, c, opts)
		if err != nil {
			return nil, err
		}
		return s, nil
	case nil:
		return nil, ErrNoSandboxConfig
	default:
		return nil, fmt.Errorf("unsupported sandbox config %T", cfg)
	}
}

// ConnectSandbox attaches to an existing sandbox of the driver selected by cfg.
func ConnectSandbox(ctx context.Context, cfg sandbox.Config, id string) (sandbox.Sandbox, error) {
	switch c := cfg.(type) {
	case *sandbox.E2BConfig:
		s, err := e2b.Connect(ctx, c, id)
		if err != nil {
			return nil, err
		}
		return s, nil
	case *sandbox.DaytonaConfig:
		s, err := daytona.Connect(ctx, c, id)
		if err != nil {
			return nil, err
		}
		return s, nil
	case *sandbox.DockerConfig:
		s, err := docker.Connect(ctx, id)
		if err != nil {
			return nil, err
		}
		return s, nil
	case nil:
		return nil, ErrNoSandboxConfig
	default:
		return nil, fmt.Errorf("unsupported sandbox config %T", cfg)
	}
}
