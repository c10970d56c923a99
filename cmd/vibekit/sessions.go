package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/backupManager/vibekit-ai/pkg/store"
)

var historyEvents bool

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		sessions, err := st.ListSessions()
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No sessions.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tAGENT\tENVIRONMENT\tSANDBOX\tPR\tUPDATED")
		for _, s := range sessions {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				s.Name, s.Agent, s.Environment, orDash(s.SandboxID), orDash(s.PRURL), s.UpdatedAt.Local().Format(time.DateTime))
		}
		return w.Flush()
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a session and its history",
	Long:  "Delete a session and its history. The sandbox is not destroyed; run `vibekit kill` first.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		sess, err := st.GetSessionByName(args[0])
		if err != nil {
			return err
		}
		return st.DeleteSession(sess.ID)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the session's conversation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		sess, err := st.GetSessionByName(sessionName)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("session %q has no history", sessionName)
		}
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if historyEvents {
			events, err := st.GetEvents(sess.ID, 0)
			if err != nil {
				return err
			}
			for _, e := range events {
				fmt.Fprintf(out, "%s [%s/%s] %s\n", e.CreatedAt.Local().Format(time.TimeOnly), e.Operation, e.Type, e.Data)
			}
			return nil
		}

		msgs, err := st.GetMessages(sess.ID)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			fmt.Fprintf(out, "[%s]\n", m.Role)
			printOutput(out, m.Content)
			fmt.Fprintln(out)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().BoolVar(&historyEvents, "events", false, "Show recorded stream events instead of messages")

	sessionsCmd.AddCommand(sessionsDeleteCmd)
	rootCmd.AddCommand(sessionsCmd, historyCmd)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
