package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	handler "github.com/Harsh-BH/crmjobs/internal/delivery/http"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the job status API, job streams and metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		logger.Info("Starting crmjobs API server", zap.String("version", version))
		gin.SetMode(cfg.Server.GinMode)

		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		router := handler.NewRouter(a.jobs, a.bulk, a.checks, handler.RouterConfig{
			MaxBodyBytes:    cfg.Server.MaxBodyBytes,
			RateLimitPerMin: cfg.Server.RateLimit,
		}, logger)

		srv := &http.Server{
			Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:     router,
			ReadTimeout: cfg.Server.ReadTimeout,
			// Bulk requests and job streams outlive a write timeout; the
			// poll policy bounds them instead.
			WriteTimeout: cfg.Server.WriteTimeout + cfg.Poll.Timeout,
			BaseContext: func(_ net.Listener) context.Context {
				return ctx
			},
		}

		// Start server in a goroutine
		errCh := make(chan error, 1)
		go func() {
			logger.Info("API server listening", zap.Int("port", cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case <-ctx.Done():
			logger.Info("Shutting down API server...")
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		logger.Info("API server stopped")
		return nil
	},
}
