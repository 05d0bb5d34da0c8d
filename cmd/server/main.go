package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/property-imports/internal/api"
	"github.com/ignite/property-imports/internal/config"
	"github.com/ignite/property-imports/internal/pkg/connect"
	"github.com/ignite/property-imports/internal/pkg/logger"
	"github.com/ignite/property-imports/internal/rabbitmq"
	"github.com/ignite/property-imports/internal/repository/postgres"
	"github.com/ignite/property-imports/internal/service/imports"
)

// checkPortAvailable verifies that the target port is not already in use.
func checkPortAvailable(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("address %s is already in use: %w", addr, err)
	}
	return ln.Close()
}

func main() {
	if err := run(); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))

	addr := cfg.Server.Addr()
	if err := checkPortAvailable(addr); err != nil {
		return fmt.Errorf("pre-flight check: %w", err)
	}

	ctx := context.Background()

	db, err := connect.Postgres(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	// Only the health check uses redis on this side.
	redisClient := connect.Redis(ctx, cfg.Redis.URL)
	if redisClient != nil {
		defer redisClient.Close()
	}

	brokerURL := cfg.RabbitMQ.ConnectionURL()
	rabbitmq.EnsureTopology(brokerURL)
	conn, err := connect.Broker(brokerURL)
	if err != nil {
		return err
	}
	defer conn.Close()
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()
	publisher, err := rabbitmq.NewPublisher(ch)
	if err != nil {
		return err
	}

	svc := imports.NewService(postgres.NewJobRepo(db), publisher, imports.Config{
		BatchSize: cfg.Imports.BatchSize,
		SpoolDir:  cfg.Imports.SpoolDir,
	})

	router := api.NewRouter(
		api.NewImportHandlers(svc),
		api.NewHealthChecker(db, redisClient, conn),
		cfg.Server.AllowedOrigins,
	)
	server := api.NewServer(cfg.Server, router)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-done:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	// Producers still streaming are given the rest of the window.
	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.Warn("producers cancelled before finishing", "error", err)
	}
	logger.Info("server stopped")
	return nil
}
