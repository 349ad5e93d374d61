package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"verifyflow/config"
	"verifyflow/internal/bootstrap"
	"verifyflow/internal/middleware"
	"verifyflow/internal/router"
	"verifyflow/pkg/logger"
	"verifyflow/pkg/token"
	"verifyflow/storage/redis"
)

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

	app, err := bootstrap.Init(ctx, "server")
	if err != nil {
		logger.Logger.Fatal("Failed to initialize verification service", zap.Error(err))
	}
	defer app.Close()

	// memory 模式下没有 worker，进程内直接消费变更通知
	if app.Bus != nil {
		app.Bus.Subscribe(ctx, app.Service.HandleInvalidation)
	}

	// token 在中间件前初始化，middleware 依赖 token
	if err := token.Init(); err != nil {
		logger.Logger.Fatal("Failed to initialize token package", zap.Error(err))
	}
	if err := middleware.Init(); err != nil {
		logger.Logger.Fatal("Failed to initialize middlewares", zap.Error(err))
	}
	if err := middleware.InitMetrics(otel.Meter("verifyflow.http")); err != nil {
		logger.Logger.Fatal("Failed to initialize HTTP metrics", zap.Error(err))
	}

	addr := net.JoinHostPort(config.Cfg.ServerHost, config.Cfg.ServerPort)
	tracerOpt, tracingMw := middleware.NewServerTracerConfig()
	h := server.Default(server.WithHostPorts(addr), tracerOpt)
	h.Use(tracingMw)

	recoverCfg := middleware.NewRecoverConfig(config.Cfg.IsProduction())
	opts := router.Options{
		Service:        app.Service,
		Recover:        &recoverCfg,
		AllowedOrigins: config.Cfg.CORSAllowedOrigins,
	}
	if config.Cfg.RateLimitEnabled && app.Redis != nil {
		opts.ReadLimit = middleware.NewRateLimiter(app.Redis, redis.Key, middleware.DefaultRateLimitConfig)
		opts.WriteLimit = middleware.NewRateLimiter(app.Redis, redis.Key, middleware.StepWriteRateLimitConfig)
	}
	router.Register(h, opts)

	// 优雅关闭：在单独的 goroutine 中监听关闭信号并调用 Shutdown
	go func() {
		<-ctx.Done()
		logger.Logger.Info("Initiating graceful shutdown...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := h.Shutdown(shutdownCtx); err != nil {
			logger.Logger.Error("Failed to shutdown HTTP server", zap.Error(err))
		}
	}()

	logger.Logger.Info("HTTP server listening",
		zap.String("addr", addr),
		zap.String("environment", config.Cfg.Environment),
	)

	h.Spin()

	logger.Logger.Info("Server shutting down gracefully")
}
