package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"verifyflow/config"
	"verifyflow/internal/bootstrap"
	"verifyflow/internal/queue"
	"verifyflow/pkg/logger"
)

// worker 消费进度变更通知，使本实例所见的缓存失效
func main() {
	logger.Init()
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Logger.Info("Received shutdown signal",
			zap.String("signal", sig.String()),
		)
		cancel()
	}()

	if config.Cfg.UseMemoryStore() {
		logger.Logger.Fatal("Worker requires RabbitMQ, STORE_DRIVER=memory handles notifications in the server process")
	}

	app, err := bootstrap.Init(ctx, "worker")
	if err != nil {
		logger.Logger.Fatal("Failed to initialize verification service", zap.Error(err))
	}
	defer app.Close()

	logger.Logger.Info("Worker service starting",
		zap.String("environment", config.Cfg.Environment),
	)

	if err := queue.StartInvalidationConsumer(ctx, app.Service.HandleInvalidation); err != nil {
		logger.Logger.Error("Invalidation consumer stopped", zap.Error(err))
	}

	logger.Logger.Info("Worker service shutting down gracefully")
}
