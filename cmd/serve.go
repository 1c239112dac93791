package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newServeCmd creates the 'serve' subcommand, which runs the HTTP API and
// the fetch worker pool until interrupted.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the fetch API server and worker pool",
		Long: `Starts the HTTP API for submitting fetch requests and inspecting
results, together with the worker pool that drains the queue.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			logger := appInstance.Logger

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			port := appInstance.Config.Server.Port
			if port == 0 {
				port = 8080
			}
			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", port),
				Handler:           appInstance.Server.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			workersDone := make(chan struct{})
			go func() {
				appInstance.RunWorkers(ctx)
				close(workersDone)
			}()

			serveErr := make(chan error, 1)
			go func() {
				logger.Info("api server listening", zap.Int("port", port))
				serveErr <- srv.ListenAndServe()
			}()

			select {
			case err := <-serveErr:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("api server: %w", err)
				}
			case <-ctx.Done():
				logger.Info("shutdown signal received")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("api server shutdown failed", zap.Error(err))
			}

			select {
			case <-workersDone:
			case <-shutdownCtx.Done():
				logger.Warn("workers did not drain before deadline")
			}
			return nil
		},
	}
	return cmd
}
