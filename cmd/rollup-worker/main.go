package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"kassa/internal/amqp"
	"kassa/internal/cli"
	"kassa/internal/i18n"
	"kassa/internal/lock"
	"kassa/internal/log"
	"kassa/internal/metrics"
	"kassa/internal/services"
)

const tickLockKey = "kassa:rollup:tick"

func main() {
	once := flag.Bool("once", false, "run a single tick and exit")
	at := flag.String("at", "", "with -once, run the tick as of this RFC3339 instant instead of now")
	force := flag.Bool("force", false, "with -once, run even if the tick boundary was already handled")
	flag.Parse()

	// Load .env file for local development (ignore errors in production/docker)
	cli.LoadEnvFile()

	logger := cli.SetupLogger(os.Getenv("APP_ENV"))
	logger.Info("Starting rollup-worker")

	cfg := cli.LoadAndValidateConfig(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo := cli.InitStorage(ctx, logger, cfg)
	defer repo.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// The local lock keeps ticks in this process from overlapping; the redis
	// lock extends that across replicas.
	locker := lock.Chain{lock.NewLocal()}
	if cfg.RedisURL != "" {
		redisLock, rdb, err := lock.NewRedisFromURL(cfg.RedisURL, tickLockKey, cfg.TickLockTTL)
		if err != nil {
			logger.Error("Failed to initialize redis lock", log.FieldError, err)
			os.Exit(1)
		}
		defer rdb.Close()
		locker = append(locker, redisLock)
		logger.Info("Redis tick lock enabled", "ttl", cfg.TickLockTTL.String())
	}

	// Notifications go through AMQP to the delivery-worker when configured,
	// otherwise straight to Telegram from this process.
	var publisher services.Publisher
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClientWithRetry(ctx, cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, 5)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", log.FieldError, err)
			os.Exit(1)
		}
		defer amqpClient.Close()
		publisher = services.QueuePublisher{Client: amqpClient}
		logger.Info("Notifications will be queued", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	} else {
		publisher = services.SenderPublisher{Sender: cli.NewSender(cfg, logger)}
		logger.Info("AMQP disabled, notifications are delivered in-process")
	}

	yearly, err := services.GetYearlyEligibility(cfg.RollupYearlyMode)
	if err != nil {
		logger.Error("Invalid yearly mode", log.FieldError, err, "modes", services.YearlyModes())
		os.Exit(1)
	}

	opts := services.Options{
		Workers:        cfg.RollupWorkers,
		StorageRetries: cfg.StorageRetries,
		RetryBase:      services.DefaultOptions().RetryBase,
		NotifyBudget:   cfg.NotifyBudget,
		Metrics:        m,
	}
	schedule := services.Schedule{
		CutoffHour:     cfg.DailyCutoffHour,
		CutoffMinute:   cfg.DailyCutoffMinute,
		ReminderHour:   cfg.ReminderHour,
		ReminderMinute: cfg.ReminderMinute,
		Reminders:      cfg.RemindersEnabled,
	}
	seq := services.NewSequencer(
		services.NewResolver(repo),
		services.NewDailyAggregator(repo, opts),
		services.NewRollupAggregator(repo, yearly, opts),
		services.NewNotifier(repo, i18n.MustDefault(), publisher, opts),
		locker,
		schedule,
		opts,
		logger,
	)
	if !(*once && *force) {
		seq.WithClaims(repo)
	}

	if *once {
		now := time.Now()
		if *at != "" {
			now, err = time.Parse(time.RFC3339, *at)
			if err != nil {
				logger.Error("Invalid -at instant", log.FieldError, err)
				os.Exit(1)
			}
		}
		report, err := seq.RunTick(ctx, now)
		if errors.Is(err, services.ErrTickAlreadyRun) {
			logger.Info("Tick boundary already handled, use -force to run it again")
			return
		}
		if err != nil {
			logger.Error("Tick failed", log.FieldError, err)
			os.Exit(1)
		}
		if report.Result() != "ok" {
			os.Exit(2)
		}
		return
	}

	scheduler, err := services.NewScheduler(seq, cfg.RollupSchedule, logger)
	if err != nil {
		logger.Error("Failed to create scheduler", log.FieldError, err)
		os.Exit(1)
	}

	stopOps := cli.StartOpsServer(logger, cfg.MetricsPort, reg, repo.Ping)

	shutdownCtx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		logger.Info("Shutting down rollup-worker...")
		cancel()
		if err := scheduler.Stop(ctx); err != nil {
			logger.Warn("Scheduler did not stop cleanly", log.FieldError, err)
		}
		if err := stopOps(ctx); err != nil {
			logger.Warn("Ops server shutdown failed", log.FieldError, err)
		}
	})

	if err := scheduler.Start(ctx); err != nil {
		logger.Error("Failed to start scheduler", log.FieldError, err)
		os.Exit(1)
	}

	cli.WaitForShutdown(shutdownCtx, done)
}
