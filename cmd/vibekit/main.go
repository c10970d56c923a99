// VibeKit
//
// Run coding agents inside remote sandboxes. Ask for a change, get a PR.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/chainguard-dev/clog"
	"github.com/spf13/cobra"

	"github.com/backupManager/vibekit-ai/internal/config"
	"github.com/backupManager/vibekit-ai/pkg/store"
	"github.com/backupManager/vibekit-ai/pkg/store/sqlite"
)

var (
	version     = "dev"
	sessionName string
	logLevel    string

	// cfg is loaded before any command runs.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "vibekit",
	Short: "VibeKit - coding agents in remote sandboxes",
	Long: `VibeKit runs Claude, Codex, OpenCode or Gemini inside an E2B, Daytona or
Docker sandbox against your GitHub repository.

  vibekit generate "add dark mode"        Ask the agent for a change
  vibekit ask "how is auth wired?"        Ask without changing files
  vibekit test                            Run the repository's tests
  vibekit exec -- npm ci                  Run a command in the sandbox
  vibekit pr                              Open a pull request
  vibekit sessions                        List sessions
  vibekit serve                           Serve the HTTP API`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.Load(cmd.Context()); err != nil {
			return err
		}
		if logLevel == "" {
			logLevel = cfg.LogLevel
		}
		var level slog.Level
		if err := level.UnmarshalText([]byte(logLevel)); err != nil {
			return fmt.Errorf("invalid log level %q: %w", logLevel, err)
		}
		handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
		cmd.SetContext(clog.WithLogger(cmd.Context(), clog.New(handler)))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&sessionName, "session", envOr("VIBEKIT_SESSION", "default"), "Named session to run in")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides VIBEKIT_LOG_LEVEL")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openStore() (store.SessionStore, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("opening session store: %w", err)
	}
	return st, nil
}

// withSession runs fn against the --session session.
func withSession(cmd *cobra.Command, fn func(context.Context, *session) error) error {
	ctx := cmd.Context()
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	s, err := openSession(ctx, cfg, st, sessionName)
	if err != nil {
		return err
	}
	defer s.close()
	return fn(ctx, s)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
