package redis

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"verifyflow/config"
)

var (
	client *redis.Client
	once   sync.Once
	err    error
)

func Init() error {
	once.Do(func() {
		cfg := config.Cfg

		client = redis.NewClient(&redis.Options{
			Addr:         cfg.RedisAddr,
			Password:     cfg.RedisPassword,
			DB:           cfg.RedisDB,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			MinIdleConns: 5,
			MaxRetries:   3,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err = client.Ping(ctx).Err(); err != nil {
			return
		}

		client.AddHook(newTracingHook())
	})

	return err
}

// Client 未初始化时 panic
func Client() *redis.Client {
	if client == nil {
		panic("Redis client not init")
	}
	return client
}

// Ready 是否已完成初始化
func Ready() bool {
	return client != nil && err == nil
}

func Close(ctx context.Context) error {
	if client == nil {
		return nil
	}
	return client.Close()
}

// Key 使用配置中的前缀拼接键
func Key(parts ...string) string {
	return JoinKey(config.Cfg.RedisPrefix, parts...)
}

// JoinKey prefix:part1:part2，空段会被跳过
func JoinKey(prefix string, parts ...string) string {
	if prefix == "" {
		prefix = "vflow"
	}

	var sb strings.Builder
	sb.WriteString(prefix)
	for _, part := range parts {
		if part != "" {
			sb.WriteString(":")
			sb.WriteString(part)
		}
	}
	return sb.String()
}
