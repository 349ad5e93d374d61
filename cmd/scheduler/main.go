package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"verifyflow/config"
	"verifyflow/internal/bootstrap"
	"verifyflow/internal/schedule"
	"verifyflow/pkg/logger"
)

func main() {
	logger.Init()
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Logger.Info("Scheduler received shutdown signal",
			zap.String("signal", sig.String()),
		)
		cancel()
	}()

	app, err := bootstrap.Init(ctx, "scheduler")
	if err != nil {
		logger.Logger.Fatal("Failed to initialize verification service", zap.Error(err))
	}
	defer app.Close()

	s := schedule.NewReconcileScheduler(
		app.Service,
		app.Redis,
		config.Cfg.VerificationReconcileBatch,
		logger.Named("scheduler"),
	)

	logger.Logger.Info("Scheduler service starting",
		zap.String("environment", config.Cfg.Environment),
		zap.Duration("interval", config.Cfg.VerificationReconcileInterval),
	)

	// 启动时先跑一轮，之后按间隔执行
	s.RunSweep(ctx, config.Cfg.VerificationReconcileInterval)
	s.Loop(ctx, config.Cfg.VerificationReconcileInterval)

	logger.Logger.Info("Scheduler service shutting down gracefully")
}
