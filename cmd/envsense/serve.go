package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/envsense/envsense/internal/app"
	"github.com/envsense/envsense/internal/logger"
)

func newServeCmd(rt *runtime) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, queue workers, retention sweeper and MQTT subscriber",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if listen != "" {
				rt.settings.WebServer.Listen = listen
			}

			a, err := app.New(rt.settings, rt.log)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					rt.log.Warn("failed to close app", logger.Error(err))
				}
			}()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := a.Run(ctx); err != nil {
				rt.log.Error("envsense stopped with error", logger.Error(err))
				return err
			}
			rt.log.Info("envsense stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "override webserver.listen")
	return cmd
}
