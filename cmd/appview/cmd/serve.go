package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/syntrixbase/appview/internal/services"
)

func newServeCmd() *cobra.Command {
	var shutdownTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the API and follow the configured firehose subscriptions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLogging()

			ctx := cmd.Context()
			mgr := services.NewManager(cfg, slog.Default())

			initCtx, cancel := context.WithTimeout(ctx, time.Minute)
			defer cancel()
			if err := mgr.Init(initCtx); err != nil {
				return err
			}

			// Subscriptions drain on Shutdown, not on signal, so they run on
			// a context that outlives ctx.
			bgCtx, bgCancel := context.WithCancel(context.WithoutCancel(ctx))
			defer bgCancel()
			if err := mgr.Start(bgCtx); err != nil {
				_ = mgr.Shutdown(context.Background())
				return err
			}
			slog.Info("Appview listening", "port", mgr.Port())

			<-ctx.Done()
			slog.Info("Shutting down...")

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer shutdownCancel()
			return mgr.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", time.Minute,
		"Upper bound for draining subscriptions and in-flight requests")
	return cmd
}
