package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/ignite/property-imports/internal/config"
	"github.com/ignite/property-imports/internal/pkg/connect"
	"github.com/ignite/property-imports/internal/pkg/distlock"
	"github.com/ignite/property-imports/internal/pkg/logger"
	"github.com/ignite/property-imports/internal/rabbitmq"
	"github.com/ignite/property-imports/internal/repository/postgres"
	"github.com/ignite/property-imports/internal/service/imports"
	"github.com/ignite/property-imports/internal/worker"
)

func main() {
	if err := run(); err != nil {
		logger.Error("worker exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	logger.Info("starting import worker",
		"concurrency", cfg.RabbitMQ.Concurrency,
		"prefetch", cfg.RabbitMQ.Prefetch,
		"max_retries", cfg.Imports.MaxRetries,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := connect.Postgres(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	// Redis is preferred; advisory locks on the database take over while it
	// is down, so batches only run unlocked when both are unavailable.
	lockOpts := distlock.Options{
		TTL:        cfg.Imports.LockTTL(),
		RetryDelay: cfg.Imports.LockRetryDelay(),
		MaxRetries: cfg.Imports.LockMaxRetries,
	}
	var redisLock distlock.Locker
	if redisClient := connect.Redis(ctx, cfg.Redis.URL); redisClient != nil {
		defer redisClient.Close()
		redisLock = distlock.NewRedisLock(redisClient, lockOpts)
	}
	locker := distlock.NewFallbackLock(redisLock, distlock.NewPGAdvisoryLock(db, lockOpts))

	brokerURL := cfg.RabbitMQ.ConnectionURL()
	rabbitmq.EnsureTopology(brokerURL)
	conn, err := connect.Broker(brokerURL)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Consuming and confirmed publishing use separate channels.
	consumeCh, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open consume channel: %w", err)
	}
	defer consumeCh.Close()
	publishCh, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open publish channel: %w", err)
	}
	defer publishCh.Close()
	dlq, err := rabbitmq.NewPublisher(publishCh)
	if err != nil {
		return err
	}

	consumer := imports.NewConsumer(
		postgres.NewJobRepo(db),
		postgres.NewBatchLedgerRepo(db),
		postgres.NewPropertyRepo(db),
		locker,
		imports.ConsumerConfig{MaxRetries: cfg.Imports.MaxRetries},
	)

	runner := rabbitmq.NewRunner(consumeCh, dlq, rabbitmq.RunnerConfig{
		Prefetch:    cfg.RabbitMQ.Prefetch,
		Concurrency: cfg.RabbitMQ.Concurrency,
	})
	worker.NewImportBatchWorker(consumer).Register(runner)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              cfg.Server.MetricsAddr(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("metrics listening", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return runner.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("worker stopped")
	return err
}
