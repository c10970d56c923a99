package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/backupManager/vibekit-ai/internal/httpapi"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the session over HTTP",
	Long: `Serve the --session session over HTTP until interrupted.

  POST /v1/generate              {"prompt": "...", "stream": true}
  POST /v1/tests                 {"branch": "..."}
  POST /v1/exec                  {"command": "...", "timeoutMs": 0}
  POST /v1/pull-request
  POST /v1/sandbox/{action}      pause, resume or kill
  GET  /v1/events                server-sent progress events`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := serveAddr
		if addr == "" {
			addr = cfg.ServerAddr
		}
		return withSession(cmd, func(ctx context.Context, s *session) error {
			return httpapi.New(s, s.bus).Start(ctx, addr)
		})
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default $VIBEKIT_ADDR or :7080)")
	rootCmd.AddCommand(serveCmd)
}
