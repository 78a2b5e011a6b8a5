package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	// configPath is the YAML config file.
	configPath string

	// dataDir overrides the data directory of the config file.
	dataDir string

	// userID is the user the command acts for.
	userID string

	// logLevel overrides the configured log level.
	logLevel string

	// remoteBackend overrides the remote store backend.
	remoteBackend string

	// outputFormat controls output format (text, json, html).
	outputFormat string
)

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "insight",
	Short: "Milestone gated journal insights",
	Long: `insight generates and caches AI insights over a user's journal entries.

A new insight is only produced when the entry count reaches a milestone
(3, 6, 9, ...). Records are cached in memory, in an on-device store and in
a shared database, and kept in sync across devices through a realtime
change feed.`,
	SilenceUsage: true,
}

// Execute runs the CLI. SIGINT and SIGTERM cancel the command context.
func Execute() error {
	ctx, stop := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)
	defer stop()

	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&configPath, "config", "",
		"Path to the config file (default: ~/.insightd/insightd.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&dataDir, "data-dir", "",
		"Directory for databases and logs (default: ~/.insightd)",
	)
	rootCmd.PersistentFlags().StringVar(
		&userID, "user", "",
		"User to act for (default: user_id from the config file)",
	)
	rootCmd.PersistentFlags().StringVar(
		&logLevel, "log-level", "",
		"Log level: trace, debug, info, warn, error",
	)
	rootCmd.PersistentFlags().StringVar(
		&remoteBackend, "remote", "",
		"Remote store backend: sqlite, memory",
	)
	rootCmd.PersistentFlags().StringVar(
		&outputFormat, "format", "text",
		"Output format: text, json, html",
	)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(loadCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(versionCmd)
}
