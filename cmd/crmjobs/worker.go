package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	amqpdelivery "github.com/Harsh-BH/crmjobs/internal/delivery/amqp"
	"github.com/Harsh-BH/crmjobs/internal/pool"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run bulk requests consumed from a RabbitMQ queue",
	Long: `Run bulk requests consumed from a RabbitMQ queue.

Each message is a JSON bulk request:
  {"operation":"upsert","object":"Contact","external_id_field":"Email","records":[...]}

Up to WORKER_POOL_SIZE requests run at once. Outcomes are reported through
the configured ledger and event exchange.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.RabbitMQ.URL == "" {
			return fmt.Errorf("RABBITMQ_URL is required for the worker")
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		logger.Info("Starting crmjobs worker", zap.String("version", version))

		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		messages := make(chan *amqpdelivery.Message, cfg.Worker.PoolSize)
		consumer, err := amqpdelivery.NewConsumer(cfg.RabbitMQ.URL, cfg.RabbitMQ.RequestQueue, cfg.Worker.PoolSize, messages, logger)
		if err != nil {
			return fmt.Errorf("connect to RabbitMQ: %w", err)
		}
		defer consumer.Close()

		tasks := make(chan *pool.Task)
		results := make(chan pool.Result, cfg.Worker.PoolSize)
		workerPool := pool.NewWorkerPool(cfg.Worker.PoolSize, tasks, results, logger)
		workerPool.Start(ctx)

		go func() {
			for r := range results {
				if r.Err != nil {
					logger.Error("Failed to settle queued request", zap.String("task", r.Name), zap.Error(r.Err))
				}
			}
		}()

		go func() {
			if err := consumer.Start(ctx); err != nil {
				logger.Error("AMQP consumer error", zap.Error(err))
				stop()
			}
		}()

		metricsSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Worker.MetricsPort)}
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			metricsSrv.Handler = mux
			logger.Info("Metrics server listening", zap.String("addr", metricsSrv.Addr))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server error", zap.Error(err))
			}
		}()

	dispatch:
		for {
			select {
			case <-ctx.Done():
				break dispatch
			case msg := <-messages:
				task := &pool.Task{
					Name: string(msg.Request.Operation) + ":" + msg.Request.Object,
					Run: func(ctx context.Context) error {
						return amqpdelivery.Handle(ctx, a.bulk, msg, logger)
					},
				}
				select {
				case tasks <- task:
				case <-ctx.Done():
					_ = msg.Nack(true)
					break dispatch
				}
			}
		}

		logger.Info("Shutting down worker...")
		close(tasks)
		workerPool.Stop()
		close(results)
		_ = metricsSrv.Shutdown(context.Background())
		logger.Info("Worker stopped")
		return nil
	},
}
