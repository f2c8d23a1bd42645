package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/aretw0/goop"
	"github.com/aretw0/goop/internal/cli"
	httpAdapter "github.com/aretw0/goop/pkg/adapters/http"
	"github.com/aretw0/goop/pkg/domain"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Exposes sessions over HTTP. Runs stream NDJSON, /events streams checkpoint
diffs as Server-Sent Events, and /metrics serves Prometheus metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.Server.Addr = addr
		}
		logger := cli.NewLogger(cfg.Log, debugFlag(cmd))

		sigCtx := cli.NewSignalContext(context.Background())
		defer sigCtx.Cancel()

		streams := httpAdapter.NewStreamManager(logger)
		app, err := cli.NewApp(sigCtx, cfg, cli.AppOptions{
			Debug:  debugFlag(cmd),
			Logger: logger,
			Hooks:  []domain.LifecycleHooks{streams.Hooks()},
		})
		if err != nil {
			return err
		}
		defer app.Close()

		handler := httpAdapter.NewHandler(app.Agent.Engine(),
			httpAdapter.WithVersion(goop.Version),
			httpAdapter.WithMetrics(app.Registry),
			httpAdapter.WithLogger(logger),
			httpAdapter.WithStreams(streams),
		)

		srv := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Channel to listen for errors coming from the listener.
		serverErrors := make(chan error, 1)
		go func() {
			logger.Info("Starting goop server", "address", srv.Addr, "store", cfg.Store.Driver)
			serverErrors <- srv.ListenAndServe()
		}()

		// Blocking main and waiting for shutdown.
		select {
		case err := <-serverErrors:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("server error: %w", err)

		case <-sigCtx.Done():
			logger.Info("Start shutdown", "signal", sigCtx.Signal())

			// Give outstanding requests a deadline for completion.
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := srv.Shutdown(ctx); err != nil {
				logger.Error("Graceful shutdown did not complete", "timeout", 5*time.Second, "err", err)
				if err := srv.Close(); err != nil {
					return fmt.Errorf("error killing server: %w", err)
				}
			}
			logger.Info("goop server stopped gracefully")
			return nil
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Address to listen on (default: server.addr, :8080)")
}
