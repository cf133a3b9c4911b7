package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/canopy-network/datepoll/app/scheduler"
	"github.com/canopy-network/datepoll/pkg/logging"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "datepoll",
		Short: "datepoll - group date scheduling polls",
		Long: `datepoll runs scheduling polls for chat groups: members answer yes, maybe or no per
candidate date, the group is asked to close once everyone answered, and a final date is picked.`,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the poll HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			app, err := scheduler.Initialize(ctx)
			if err != nil {
				return err
			}
			if err := scheduler.NewServer(app); err != nil {
				app.Logger.Error("Unable to initialize server", zap.Error(err))
				return err
			}

			app.Start(ctx)
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the poll tables for the configured STORE_DRIVER",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.New()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			cfg := scheduler.LoadConfig()
			if cfg.StoreDriver == "memory" || cfg.StoreDriver == "" {
				return fmt.Errorf("STORE_DRIVER=%q has no schema to migrate", cfg.StoreDriver)
			}
			store, err := scheduler.OpenStore(cmd.Context(), logger, cfg)
			if err != nil {
				return err
			}
			logger.Info("Schema ready", zap.String("driver", cfg.StoreDriver))
			return store.Close()
		},
	}
}
