package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/syntrixbase/appview/internal/storage/postgres"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create missing tables and indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLogging()

			db, err := postgres.Open(cmd.Context(), cfg.Storage)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := postgres.EnsureSchema(cmd.Context(), db); err != nil {
				return err
			}
			slog.Info("Schema is up to date")
			return nil
		},
	}
}
