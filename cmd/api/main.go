package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"finlink/internal/shared/config"
	"finlink/internal/shared/logger"
	"finlink/internal/shared/telemetry"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Application error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := logger.New(cfg.LogLevel)
	defer log.Sync()

	ctx := context.Background()

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:      cfg.Telemetry.Enabled,
		ServiceName:  cfg.Telemetry.ServiceName,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
	}, log)
	if err != nil {
		return err
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(tctx); err != nil {
			log.Warn("failed to flush traces", zap.Error(err))
		}
	}()

	deps, err := NewDependencies(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer deps.Close()

	sched, err := deps.NewScheduler(cfg.Scheduler, log)
	if err != nil {
		return err
	}
	if sched != nil {
		sched.Start()
	}

	handler := SetupRoutes(deps, log)
	srv, serverErr := StartServer(cfg.Server.Host+":"+cfg.Server.Port, handler, log)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info("received signal", zap.String("signal", sig.String()))
	case err := <-serverErr:
		if err != nil {
			GracefulShutdown(srv, sched, shutdownTimeout, log)
			return fmt.Errorf("http server: %w", err)
		}
	}

	GracefulShutdown(srv, sched, shutdownTimeout, log)
	return nil
}
