package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect VibeKit configuration",
	Long: `Inspect VibeKit configuration.

Configuration is read from ~/.vibekit/config.yaml (or $VIBEKIT_CONFIG) and
can be overridden by environment variables.

  vibekit config show      Show the effective configuration
  vibekit config path      Print the config file path`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long:  "Display the effective configuration after applying the environment. Secrets are masked.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := yaml.Marshal(cfg.Redacted())
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file path",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Path == "" {
			return fmt.Errorf("no config file found in %s", cfg.DataDir)
		}
		fmt.Fprintln(cmd.OutOrStdout(), cfg.Path)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configPathCmd)
	rootCmd.AddCommand(configCmd)
}
