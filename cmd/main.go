package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"agv-simulator/config"
	"agv-simulator/internal/di"
	"agv-simulator/logging"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	container, err := di.NewContainer(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to create DI container", slog.Any("error", err))
		os.Exit(1)
	}
	defer container.Cleanup()

	if err := container.Start(ctx); err != nil {
		logger.Error("Failed to start simulator", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("AGV simulator started",
		"broker", cfg.MQTTBroker,
		"registry", cfg.RegistryPath,
		"robots", container.Manager.Count(),
		"httpAddr", cfg.HTTPAddr,
		"metricsAddr", cfg.MetricsAddr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Shutdown signal received", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	container.Shutdown(shutdownCtx)
	cancel()

	logger.Info("AGV simulator shutdown completed")
}
