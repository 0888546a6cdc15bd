// package main is the entry point for the changelog generation tool
package main

import (
	"log/slog"
	"os"

	cachecmd "github.com/alan/changelog-gen/cmd/cache"
	configcmd "github.com/alan/changelog-gen/cmd/config"
	generatecmd "github.com/alan/changelog-gen/cmd/generate"
	healthcmd "github.com/alan/changelog-gen/cmd/health"
	servecmd "github.com/alan/changelog-gen/cmd/serve"
	"github.com/alan/changelog-gen/internal/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	var configFile string
	var logLevel string
	var logFormat string

	rootCmd := &cobra.Command{
		Use:   "changelog-gen",
		Short: "A CLI tool for generating changelogs from merged GitHub pull requests",
		Long: `changelog-gen fetches merged pull requests across branches, assembles
them into deduplicated entries, and generates a structured changelog using
a language model, with a local cache to keep repeated runs cheap.`,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			setupLogger(logLevel, logFormat)
		},
	}

	// Add global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "changelog.yaml", "Configuration file path")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&logFormat, "log-format", "f", "text", "Log format (text, json)")

	// Create commands with access to the global config file
	rootCmd.AddCommand(configcmd.NewConfigCmd(&configFile, config.LoadConfig, config.SaveConfig))
	rootCmd.AddCommand(generatecmd.NewGenerateCmd(&configFile, config.LoadConfig, config.SaveConfig))
	rootCmd.AddCommand(cachecmd.NewCacheCmd(&configFile, config.LoadConfig, config.SaveConfig))
	rootCmd.AddCommand(healthcmd.NewHealthCmd(&configFile, config.LoadConfig, config.SaveConfig))
	rootCmd.AddCommand(servecmd.NewServeCmd(&configFile, config.LoadConfig, config.SaveConfig))

	// Tokens may come from a local .env file instead of the environment
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogger(level, format string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	}

	slog.SetDefault(slog.New(handler))
}
