// Package commands implements the LoopClaw CLI commands using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "loopclaw",
		Short: "LoopClaw - automation trigger scheduler for agent conversations",
		Long: `LoopClaw runs per-conversation automation loops: cron schedules,
API polls, and file watches that trigger agent runs against a workspace.

Examples:
  loopclaw serve
  loopclaw loop list
  loopclaw loop set conv-123 --file loop.json
  loopclaw loop start conv-123
  loopclaw secret set GITHUB_TOKEN`,
		Version: version,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newLoopCmd(),
		newSecretCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "loopclaw.yaml", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}
