package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	vibekit "github.com/backupManager/vibekit-ai"
	"github.com/backupManager/vibekit-ai/pkg/agent"
)

var (
	runBranch     string
	runBackground bool
	runQuiet      bool
	execTimeout   time.Duration
	execRepo      bool
)

var generateCmd = &cobra.Command{
	Use:   "generate <prompt>",
	Short: "Ask the agent to change the repository",
	Args:  cobra.MinimumNArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return runGenerate(cmd, args, agent.ModeCode) },
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask the agent about the repository without changing it",
	Args:  cobra.MinimumNArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return runGenerate(cmd, args, agent.ModeAsk) },
}

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Run the repository's tests in the sandbox",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *session) error {
			res, err := s.RunTests(ctx, vibekit.RunTestsOptions{Branch: runBranch, Callbacks: streamTo(cmd)})
			return report(cmd, res, err)
		})
	},
}

var execCmd = &cobra.Command{
	Use:   "exec -- <command> [args...]",
	Short: "Run a shell command in the sandbox",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *session) error {
			res, err := s.ExecuteCommand(ctx, strings.Join(args, " "), vibekit.ExecuteCommandOptions{
				Timeout:        execTimeout,
				UseRepoContext: execRepo,
				Callbacks:      streamTo(cmd),
			})
			return report(cmd, res, err)
		})
	},
}

var prCmd = &cobra.Command{
	Use:   "pr",
	Short: "Commit the sandbox's changes and open a pull request",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *session) error {
			pr, err := s.CreatePullRequest(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "PR #%d: %s\nBranch: %s\n", pr.Number, pr.HTMLURL, pr.BranchName)
			return nil
		})
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause the session's sandbox",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *session) error { return s.Pause(ctx) })
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume the session's sandbox",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *session) error { return s.Resume(ctx) })
	},
}

var killCmd = &cobra.Command{
	Use:   "kill",
	Short: "Destroy the session's sandbox",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *session) error { return s.Kill(ctx) })
	},
}

func init() {
	for _, c := range []*cobra.Command{generateCmd, askCmd, testCmd} {
		c.Flags().StringVar(&runBranch, "branch", "", "Branch to check out before running")
	}
	for _, c := range []*cobra.Command{generateCmd, askCmd, testCmd, execCmd} {
		c.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "Print only the final output")
	}
	generateCmd.Flags().BoolVar(&runBackground, "background", false, "Start the agent detached from the sandbox session")
	execCmd.Flags().DurationVar(&execTimeout, "timeout", 0, "Command timeout")
	execCmd.Flags().BoolVar(&execRepo, "repo", false, "Run from the repository checkout")

	rootCmd.AddCommand(generateCmd, askCmd, testCmd, execCmd, prCmd, pauseCmd, resumeCmd, killCmd)
}

func runGenerate(cmd *cobra.Command, args []string, mode agent.Mode) error {
	return withSession(cmd, func(ctx context.Context, s *session) error {
		res, err := s.GenerateCode(ctx, vibekit.GenerateRequest{
			Prompt:     strings.Join(args, " "),
			Mode:       mode,
			Branch:     runBranch,
			Callbacks:  streamTo(cmd),
			Background: runBackground,
		})
		return report(cmd, res, err)
	})
}

// streamTo prints progress as it arrives unless --quiet is set.
func streamTo(cmd *cobra.Command) *vibekit.Callbacks {
	if runQuiet {
		return nil
	}
	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
	return &vibekit.Callbacks{
		OnUpdate: func(msg string) { fmt.Fprintln(out, msg) },
		OnError:  func(err error) { fmt.Fprintln(errOut, "error:", err) },
	}
}

// report prints the final output when it was not streamed and turns a
// non-zero exit code into an error.
func report(cmd *cobra.Command, res *agent.Response, err error) error {
	if err != nil {
		return err
	}
	if runQuiet {
		printOutput(cmd.OutOrStdout(), res.Stdout)
		printOutput(cmd.ErrOrStderr(), res.Stderr)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("exited with code %d", res.ExitCode)
	}
	return nil
}

func printOutput(w io.Writer, s string) {
	if s == "" {
		return
	}
	fmt.Fprint(w, s)
	if !strings.HasSuffix(s, "\n") {
		fmt.Fprintln(w)
	}
}
