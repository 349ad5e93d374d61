package storage

import (
	"fmt"

	"go.uber.org/zap"

	"verifyflow/config"
	"verifyflow/pkg/logger"
	"verifyflow/storage/database"
	"verifyflow/storage/mq"
	"verifyflow/storage/redis"
)

// Init 统一初始化存储层；memory 驱动为单进程模式，不连接任何外部服务
func Init() error {
	if config.Cfg.UseMemoryStore() {
		logger.Logger.Warn("Using in-memory store, progress is kept in this process only",
			zap.String("store_driver", config.Cfg.StoreDriver),
		)
		return nil
	}

	if err := database.Init(); err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	if err := redis.Init(); err != nil {
		return fmt.Errorf("init redis: %w", err)
	}
	if err := mq.Init(); err != nil {
		return fmt.Errorf("init rabbitmq: %w", err)
	}
	return nil
}
