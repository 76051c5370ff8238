package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"kassa/internal/amqp"
	"kassa/internal/cli"
	"kassa/internal/log"
	"kassa/internal/metrics"
	"kassa/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	cli.LoadEnvFile()

	logger := cli.SetupLogger(os.Getenv("APP_ENV"))
	logger.Info("Starting delivery-worker")

	cfg := cli.LoadAndValidateConfig(logger)
	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required by the delivery-worker")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	amqpClient, err := amqp.NewClientWithRetry(ctx, cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, 10)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	w := worker.NewDeliveryWorker(cli.NewSender(cfg, logger), cfg.DeliveryMaxWait, m, logger)

	stopOps := cli.StartOpsServer(logger, cfg.MetricsPort, reg, nil)

	shutdownCtx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		logger.Info("Shutting down delivery-worker...")
		cancel()
		if err := stopOps(ctx); err != nil {
			logger.Warn("Ops server shutdown failed", log.FieldError, err)
		}
	})

	go func() {
		// Reconnect with backoff if the broker drops the channel.
		for attempt := 0; ; attempt++ {
			err := amqpClient.ConsumeNotifications(ctx, w.HandleNotification)
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, context.Canceled) {
				return
			}
			wait := time.Duration(1<<min(attempt, 5)) * time.Second
			logger.Error("Message consumption stopped, retrying",
				log.FieldError, err,
				log.FieldAttempt, attempt+1,
				"wait", wait.String())
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}
	}()

	cli.WaitForShutdown(shutdownCtx, done)
}
