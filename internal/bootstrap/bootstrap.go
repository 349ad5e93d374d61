// Package bootstrap 组装 server、worker、scheduler 共用的依赖
package bootstrap

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"verifyflow/config"
	"verifyflow/internal/cache"
	"verifyflow/internal/queue"
	"verifyflow/internal/repository"
	"verifyflow/internal/repository/memory"
	"verifyflow/internal/service"
	"verifyflow/internal/verification"
	"verifyflow/pkg/logger"
	"verifyflow/pkg/metrics"
	"verifyflow/pkg/otel"
	"verifyflow/pkg/snowflake"
	"verifyflow/storage"
	"verifyflow/storage/database"
	"verifyflow/storage/redis"
)

// 缓存连续失败 5 次后熔断 30 秒，期间直接读存储
const (
	cacheBreakerFailures = 5
	cacheBreakerReset    = 30 * time.Second
)

// App 进程级依赖
type App struct {
	Service *service.VerificationService
	// Bus memory 模式下的进程内通知总线，其余模式为 nil
	Bus *queue.LocalBus
	// Redis memory 模式下为 nil
	Redis goredis.UniversalClient

	shutdownOtel func(context.Context) error
}

// Init 校验配置、初始化观测与存储，并构建认证服务
func Init(ctx context.Context, component string) (*App, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	app := &App{}
	if config.Cfg.OTLPEndpoint != "" {
		shutdown, err := otel.InitOpenTelemetry(ctx, otel.Config{
			ServiceName:    config.Cfg.ServiceName + "-" + component,
			ServiceVersion: "1.0.0",
			Environment:    config.Cfg.Environment,
			OTLPEndpoint:   config.Cfg.OTLPEndpoint,
			SampleRatio:    config.Cfg.TracingSampler,
		})
		if err != nil {
			return nil, fmt.Errorf("init opentelemetry: %w", err)
		}
		app.shutdownOtel = shutdown
	}
	if err := metrics.InitMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	if err := snowflake.Init(config.Cfg.SnowflakeMachineID, config.Cfg.SnowflakeDataCenter); err != nil {
		return nil, fmt.Errorf("init snowflake: %w", err)
	}

	if err := storage.Init(); err != nil {
		return nil, err
	}

	reg := verification.DefaultRegistry()
	deps := service.Deps{
		Evaluator:    verification.NewEvaluator(reg),
		Conflicts:    verification.NewConflictDetector(config.Cfg.VerificationConflictDetection),
		Retry:        service.RetryPolicyFromConfig(),
		Logger:       logger.Named("verification"),
		Metrics:      metrics.GetMetrics(),
		AbandonAfter: config.Cfg.VerificationAbandonAfter,
	}

	if config.Cfg.UseMemoryStore() {
		app.Bus = queue.NewLocalBus()
		deps.Store = memory.NewStore(reg)
		deps.Cache = cache.NewLocalViewCache(config.Cfg.VerificationCacheTTL, nil)
		deps.Publisher = app.Bus
	} else {
		app.Redis = redis.Client()
		deps.Store = repository.NewGormStore(database.DB(), reg)
		deps.Cache = cache.NewRedisViewCache(app.Redis, config.Cfg.RedisPrefix, config.Cfg.VerificationCacheTTL).
			WithBreaker(cache.NewCircuitBreaker("progress-cache", cacheBreakerFailures, cacheBreakerReset))
		deps.Publisher = queue.NewMQPublisher()
	}

	svc, err := service.NewVerificationService(deps)
	if err != nil {
		return nil, err
	}
	app.Service = svc

	logger.Logger.Info("Verification service ready",
		zap.String("component", component),
		zap.String("store_driver", config.Cfg.StoreDriver),
		zap.Int("steps", reg.Count()),
		zap.Bool("conflict_detection", config.Cfg.VerificationConflictDetection),
	)
	return app, nil
}

// Close 按依赖的反方向释放资源
func (a *App) Close() {
	if a.Bus != nil {
		a.Bus.Close()
	}
	storage.Close()

	if a.shutdownOtel != nil {
		if err := a.shutdownOtel(context.Background()); err != nil {
			logger.Logger.Error("Failed to shutdown OpenTelemetry", zap.Error(err))
		}
	}
}
