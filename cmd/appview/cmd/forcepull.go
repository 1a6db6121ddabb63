package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/syntrixbase/appview/internal/gateway"
	"github.com/syntrixbase/appview/internal/services"
)

func newForcePullCmd() *cobra.Command {
	var profileOnly bool

	cmd := &cobra.Command{
		Use:   "force-pull <did> [commit]",
		Short: "Resynchronize one repository outside the firehose",
		Long: `force-pull indexes the given commit of a repository (or its current head
when no commit is given) together with its handle, in one transaction.
With --profile only the handle is refreshed.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLogging()

			// Subscriptions are built but never started.
			mgr := services.NewManager(cfg, slog.Default())
			if err := mgr.Init(cmd.Context()); err != nil {
				return err
			}
			defer func() { _ = mgr.Shutdown(context.Background()) }()

			did := args[0]
			gw := mgr.Gateway()
			switch {
			case profileOnly:
				err = gw.FetchProfile(cmd.Context(), did)
			case len(args) == 2:
				err = gw.ForcePull(cmd.Context(), did, args[1])
			default:
				err = gw.Fill(cmd.Context(), did, gateway.FillFull)
			}
			if err != nil {
				return fmt.Errorf("force-pull %s: %w", did, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}

	cmd.Flags().BoolVar(&profileOnly, "profile", false, "Only refresh the handle")
	return cmd
}
