package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	clientcmd "github.com/nmarcet/conveyor/internal/cmd/client"
	serverrun "github.com/nmarcet/conveyor/internal/cmd/server"
	logpkg "github.com/nmarcet/conveyor/pkg/log"
)

func main() {
	// Load .env if present so CONVEYOR_* overrides work the same way in
	// dev shells and containers.
	_ = godotenv.Load()

	// Respect CONVEYOR_LOG_LEVEL for CLI output
	level := os.Getenv("CONVEYOR_LOG_LEVEL")
	parsed, err := logpkg.ParseLevel(level)
	if err != nil || level == "" {
		parsed = logpkg.InfoLevel
	}
	logger := logpkg.NewLogger(
		logpkg.WithLevel(parsed),
		logpkg.WithFormatter(&logpkg.TextFormatter{}),
		logpkg.WithOutput(logpkg.NewConsoleOutput()),
	)

	// Redirect standard library logs (used by Pebble) to our logger
	logpkg.RedirectStdLog(logger)

	rootCmd := &cobra.Command{
		Use:   "conveyor",
		Short: "Conveyor runtime CLI",
		Long:  "Conveyor is a single-binary event consumer core. This CLI manages the server and basic operations.",
	}

	// server start
	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	serverStartCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start the conveyor server (consumer core + ops HTTP)",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			dataDir, _ := cmd.Flags().GetString("data-dir")
			httpAddr, _ := cmd.Flags().GetString("http")
			fsyncMode, _ := cmd.Flags().GetString("fsync")
			logLevel, _ := cmd.Flags().GetString("log-level")
			logFormat, _ := cmd.Flags().GetString("log-format")

			switch fsyncMode {
			case "", "always", "interval", "never":
			default:
				return fmt.Errorf("invalid --fsync; use always|interval|never")
			}
			if logLevel != "" {
				_ = os.Setenv("CONVEYOR_LOG_LEVEL", logLevel)
			}
			if logFormat != "" {
				_ = os.Setenv("CONVEYOR_LOG_FORMAT", logFormat)
			}

			if err := serverrun.Run(context.Background(), serverrun.Options{
				ConfigPath: configPath,
				DataDir:    dataDir,
				HTTPAddr:   httpAddr,
				Fsync:      fsyncMode,
			}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}
	serverStartCmd.Flags().String("config", "", "Path to a JSON config file")
	serverStartCmd.Flags().String("data-dir", "", "Data directory (defaults to the OS application data directory)")
	serverStartCmd.Flags().String("http", "", "HTTP listen address for the ops surface (default :8080)")
	serverStartCmd.Flags().String("fsync", "", "Fsync mode: always|interval|never")
	serverStartCmd.Flags().String("log-level", os.Getenv("CONVEYOR_LOG_LEVEL"), "Log level: debug|info|warn|error")
	serverStartCmd.Flags().String("log-format", os.Getenv("CONVEYOR_LOG_FORMAT"), "Log format: text|json (default text)")
	serverCmd.AddCommand(serverStartCmd)
	rootCmd.AddCommand(serverCmd)

	// client commands (queue ops + publish) talk to a running server
	rootCmd.AddCommand(clientcmd.NewQueueCommand(apiURL))
	rootCmd.AddCommand(clientcmd.NewPublishCommand(apiURL))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func apiURL() string {
	if v := os.Getenv("CONVEYOR_HTTP"); v != "" {
		return v
	}
	return "http://127.0.0.1:8080"
}
