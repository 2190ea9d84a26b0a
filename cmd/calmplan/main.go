package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fentz26/calmplan/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "calmplan",
	Short: "CalmPlan - bookkeeping office task planner",
	Long: `CalmPlan tracks recurring bookkeeping work per client and month, advances
tasks as their checklists are completed, and keeps the office data backed up.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadDotEnv(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
		setupLogging(logLevel, logFormat)
		return nil
	},
	// No RunE - defaults to showing help when no subcommand is provided
}

var (
	apiAddr    string
	configPath string
	logLevel   string
	logFormat  string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", envOr("CALMPLAN_API", "http://127.0.0.1:7466"), "API server address")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "Path to config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format (text, json)")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(clientCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(insightsCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(tuiCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("calmplan %s\n", version)
	},
}

func setupLogging(level, format string) {
	if level == "" {
		level = envOr("CALMPLAN_LOG_LEVEL", "info")
	}
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
