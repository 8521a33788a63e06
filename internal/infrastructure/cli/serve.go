package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/notebook/internal/infrastructure/server"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(opts *Options) *cobra.Command {
	var port, host string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the notebook over HTTP and WebSocket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Server.Port = port
			}
			if host != "" {
				cfg.Server.Host = host
			}

			ctx := cmd.Context()
			srv, err := server.NewServer(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to create server: %w", err)
			}

			errChan := make(chan error, 1)
			go func() {
				errChan <- srv.Run()
			}()

			// Wait for shutdown signal or error
			var runErr error
			select {
			case <-ctx.Done():
				logger.Info("Shutting down gracefully...")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					logger.Error("Error during shutdown", zap.Error(err))
				}
			case runErr = <-errChan:
			}

			closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Close(closeCtx); err != nil && runErr == nil {
				runErr = err
			}
			return runErr
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "Server port (default from PORT)")
	cmd.Flags().StringVar(&host, "host", "", "Bind address (default from HOST)")
	return cmd
}
