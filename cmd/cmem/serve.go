package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/iammorganparry/cmem/internal/app"
	"github.com/iammorganparry/cmem/internal/logging"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			logger := logging.New(logging.WithLevel(cfg.LogLevel), logging.WithFormat(cfg.LogFormat))
			slog.SetDefault(logger)
			if port > 0 {
				cfg.Port = port
			}

			a, err := app.New(cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Start(cmd.Context()); err != nil {
				return err
			}

			addr := fmt.Sprintf(":%d", cfg.Port)
			srv := &http.Server{
				Addr:         addr,
				Handler:      a.Handler(),
				ReadTimeout:  30 * time.Second,
				WriteTimeout: 60 * time.Second,
				IdleTimeout:  120 * time.Second,
			}

			errChan := make(chan error, 1)
			go func() {
				logger.Info("cmem server starting",
					"addr", addr,
					"db", cfg.DBPath,
					"agent", cfg.Agent.Provider,
					"embedding", cfg.Embedding.Provider,
					"qdrant", cfg.Qdrant.Enabled,
					"drain_mode", cfg.Queue.DrainMode,
				)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errChan <- err
				}
			}()

			done := make(chan os.Signal, 1)
			signal.Notify(done, os.Interrupt, syscall.SIGTERM)

			select {
			case err := <-errChan:
				return fmt.Errorf("server error: %w", err)
			case sig := <-done:
				logger.Info("shutting down...", "signal", sig.String())
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				logger.Error("shutdown error", "error", err)
			}

			logger.Info("server stopped")
			return nil
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "Port to listen on (overrides config)")
	return cmd
}
