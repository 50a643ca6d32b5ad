// Package cli holds the threadrelay command tree.
package cli

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/KafClaw/threadrelay/internal/config"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/KafClaw/threadrelay/internal/cli.version=1.2.3"
	version = "0.4.0"
	logo    = "\n" +
		"  _   _                        _               _\n" +
		" | |_| |__  _ __ ___  __ _  __| |_ __ ___| | __ _ _   _\n" +
		" | __| '_ \\| '__/ _ \\/ _` |/ _` | '__/ _ \\ |/ _` | | | |\n" +
		" | |_| | | | | |  __/ (_| | (_| | | |  __/ | (_| | |_| |\n" +
		"  \\__|_| |_|_|  \\___|\\__,_|\\__,_|_|  \\___|_|\\__,_|\\__, |\n" +
		"                                                  |___/\n"
)

var (
	logJSON  bool
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:          "threadrelay",
	Short:        "threadrelay - fan-out/fan-in Slack thread relay",
	Long:         color.CyanString(logo) + "\nRoutes Slack messages to the recipients they name and keeps every reply thread in sync.",
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "emit logs as JSON")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(configCmd)
}

// loadConfig loads the effective config with command-line log overrides
// applied, and installs the default logger.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if f := cmd.Flags().Lookup("log-json"); f != nil && f.Changed {
		cfg.Log.JSON = logJSON
	}
	if f := cmd.Flags().Lookup("log-level"); f != nil && f.Changed {
		cfg.Log.Level = strings.ToLower(strings.TrimSpace(logLevel))
	}
	slog.SetDefault(newLogger(cmd.ErrOrStderr(), cfg.Log))
	return cfg, nil
}

func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.JSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
