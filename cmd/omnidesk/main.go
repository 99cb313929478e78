// Command omnidesk runs the conversation core of the support desk: it
// takes customer messages from the channels, lets the bot answer, escalates
// to human agents and tracks every session until it ends.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/omnidesk/omnidesk/pkg/version"
)

type rootOptions struct {
	configDir string
	logLevel  string
	logFormat string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "omnidesk",
		Short:         "Omnichannel support conversation core",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if err := setupLogging(opts.logLevel, opts.logFormat); err != nil {
				return err
			}
			loadDotEnv(opts.configDir)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&opts.configDir, "config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"), "Path to configuration directory")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level",
		getEnv("LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format",
		getEnv("LOG_FORMAT", "text"), "Log format (text, json)")

	root.AddCommand(
		newServeCommand(opts),
		newMigrateCommand(opts),
		newEventsCommand(opts),
		newVersionCommand(),
	)
	return root
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// loadDotEnv loads <configDir>/.env when present. Variables already set in
// the environment win.
func loadDotEnv(configDir string) {
	envPath := filepath.Join(configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Debug("No .env file loaded, continuing with existing environment",
			"path", envPath, "error", err)
		return
	}
	slog.Info("Loaded environment", "path", envPath)
}

func setupLogging(level, format string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var h slog.Handler
	switch strings.ToLower(format) {
	case "text", "":
		h = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		h = slog.NewJSONHandler(os.Stderr, opts)
	default:
		return fmt.Errorf("invalid log format %q (want text or json)", format)
	}
	slog.SetDefault(slog.New(h).With("app", version.AppName))
	return nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := version.Get()
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", info.App, info.Commit, info.GoVersion)
			return err
		},
	}
}
