// Package commands implements the chatwin CLI commands using cobra.
package commands

import (
	"log/slog"
	"os"

	"github.com/jholhewres/chatwin/pkg/chatwin/chat"
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root CLI command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "chatwin",
		Short: "chatwin - context-window-aware chat assistant",
		Long: `chatwin is a chat assistant that keeps long conversations inside the
model's context window: old history is condensed into a cached summary
instead of being silently dropped.

Examples:
  chatwin chat "What time is it?"
  chatwin chat                 # interactive mode
  chatwin sessions list
  chatwin config show`,
		Version: version,
	}

	rootCmd.AddCommand(
		newChatCmd(),
		newSetupCmd(),
		newConfigCmd(),
		newSessionsCmd(),
	)

	// Global flags.
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the config file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}

// resolveConfig loads the config from --config or the default location.
func resolveConfig(cmd *cobra.Command) (*chat.Config, string, error) {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	if path == "" {
		path = chat.DefaultConfigPath()
	}
	cfg, err := chat.LoadConfig(path)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// newLogger builds the CLI logger. Logs go to stderr so they never mix
// with conversation output on stdout.
func newLogger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
