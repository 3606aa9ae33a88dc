// Package commands implements the SoulBot CLI commands using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root CLI command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "soulbot",
		Short: "SoulBot - metaphysical guidance sessions over Telegram",
		Long: `SoulBot runs guided diagnostic, provocative, and healing sessions
over Telegram, with durable session state in SQLite.

Examples:
  soulbot serve
  soulbot chat "/diagnostic"
  soulbot sessions --user 12345
  soulbot config init`,
		Version: version,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newChatCmd(),
		newSessionsCmd(),
		newConfigCmd(),
		newSecretCmd(),
		newHealthCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}
