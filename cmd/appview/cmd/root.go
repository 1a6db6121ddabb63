// Package cmd provides the CLI commands of the appview.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/syntrixbase/appview/internal/config"
	"github.com/syntrixbase/appview/internal/logging"
)

var configDir string

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "appview",
		Short: "Index atproto repositories for search and profile lookups",
		Long: `appview keeps a queryable index of remote account repositories current
by following one or more firehose providers, and resynchronizes single
repositories on demand.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&configDir, "config-dir", config.DefaultDir,
		"Directory holding config.yml and config.local.yml")

	root.AddCommand(newServeCmd(), newMigrateCmd(), newForcePullCmd())
	return root
}

// Execute runs the root command with a context canceled on SIGINT/SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}

// loadConfig loads the configuration and installs the process logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configDir)
	if err != nil {
		return nil, err
	}
	if err := logging.Initialize(cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	return cfg, nil
}

func closeLogging() {
	if err := logging.Shutdown(); err != nil {
		slog.Warn("Failed to close log files", "error", err)
	}
}
