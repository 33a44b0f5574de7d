package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"ledgercache/internal/amqp"
	"ledgercache/internal/backend"
	"ledgercache/internal/config"
	applog "ledgercache/internal/log"
	"ledgercache/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	cfg := config.Load()
	logger := applog.New(applog.Config{Level: cfg.SlogLevel(), Component: applog.ComponentWorker})
	applog.SetDefault(logger)

	logger.Info("Starting balance cache worker")

	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := backend.NewRuntime(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize backend", "error", err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	defer rt.Close()

	w := worker.NewLifecycleWorker(rt.Service, cfg.SweepInterval)

	// Catch up on anything missed while the worker was down.
	if err := w.StartupSweep(ctx); err != nil {
		logger.Error("Startup sweep failed", "error", err)
		// Don't exit - the periodic sweep retries
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.RunSweeps(gctx) })

	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", "error", err)
			os.Exit(1)
		}
		defer client.Close()

		g.Go(func() error {
			err := client.Consume(gctx, w.HandleMessage)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
		logger.Info("Consuming lifecycle messages", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	} else {
		logger.Info("AMQP disabled - relying on periodic sweeps", "interval", cfg.SweepInterval)
	}

	if err := g.Wait(); err != nil {
		logger.Error("Worker stopped with error", "error", err)
		rt.Close()
		os.Exit(1)
	}
	logger.Info("Worker shutdown complete")
}
