package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"labsync/internal/app"
	"labsync/internal/config"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and websocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.HTTP.Port, _ = cmd.Flags().GetInt("port")
			}
			if ephemeral, _ := cmd.Flags().GetBool("ephemeral"); ephemeral {
				cfg.Cache.Backend = config.BackendMemory
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.NewApplication(ctx, cfg)
			if err != nil {
				return err
			}
			return application.Run(ctx)
		},
	}
	cmd.Flags().IntP("port", "p", 8000, "Port to listen on (overrides config)")
	cmd.Flags().Bool("ephemeral", false, "Keep the generation cache in memory only")
	return cmd
}
