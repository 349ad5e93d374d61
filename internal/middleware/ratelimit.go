package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	redislib "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"verifyflow/pkg/errors"
	"verifyflow/pkg/logger"
	"verifyflow/pkg/response"
)

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	// 时间窗口（秒）
	Window int
	// 时间窗口内最大请求数
	MaxRequests int
	// 限流键前缀
	KeyPrefix string
	// 是否按服务商限流（需要认证）
	ByProvider bool
	ByIP       bool
	// 超过限制后禁止访问的时长（秒）
	BlockDuration int
}

// DefaultRateLimitConfig 读接口
var DefaultRateLimitConfig = RateLimitConfig{
	Window:        60,
	MaxRequests:   120,
	KeyPrefix:     "rate:limit",
	ByProvider:    true,
	ByIP:          true,
	BlockDuration: 60,
}

// StepWriteRateLimitConfig 步骤提交与状态变更
var StepWriteRateLimitConfig = RateLimitConfig{
	Window:        60,
	MaxRequests:   30,
	KeyPrefix:     "rate:steps",
	ByProvider:    true,
	ByIP:          false,
	BlockDuration: 300, // 阻塞5分钟
}

// RateLimiter 基于 redis zset 的滑动窗口限流器
type RateLimiter struct {
	config RateLimitConfig
	client redislib.UniversalClient
	keyFn  func(parts ...string) string
	now    func() time.Time
}

func NewRateLimiter(client redislib.UniversalClient, keyFn func(parts ...string) string, config RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		config: config,
		client: client,
		keyFn:  keyFn,
		now:    time.Now,
	}
}

// getKey 生成限流键
func (rl *RateLimiter) getKey(ctx context.Context, c *app.RequestContext) string {
	var identifier string

	if rl.config.ByProvider {
		if providerID, exists := GetProviderID(ctx, c); exists {
			identifier = "provider:" + providerID
		}
	}
	if identifier == "" && rl.config.ByIP {
		identifier = "ip:" + c.ClientIP()
	}

	return rl.keyFn(rl.config.KeyPrefix, identifier)
}

// Allow 检查是否允许请求，返回窗口内的请求数
func (rl *RateLimiter) Allow(ctx context.Context, key string) (bool, int, error) {
	now := rl.now()
	windowStart := now.Add(-time.Duration(rl.config.Window) * time.Second)

	pipe := rl.client.Pipeline()
	// 先移除窗口之外的记录
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart.UnixNano(), 10))
	pipe.ZAdd(ctx, key, redislib.Z{
		Score:  float64(now.UnixNano()),
		Member: now.UnixNano(),
	})
	zcardCmd := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, time.Duration(rl.config.Window+10)*time.Second)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("failed to execute pipeline: %w", err)
	}

	count := int(zcardCmd.Val())
	return count <= rl.config.MaxRequests, count, nil
}

func (rl *RateLimiter) blockKey(key string) string {
	return key + ":block"
}

func (rl *RateLimiter) Block(ctx context.Context, key string) error {
	return rl.client.Set(ctx, rl.blockKey(key), "1", time.Duration(rl.config.BlockDuration)*time.Second).Err()
}

func (rl *RateLimiter) IsBlocked(ctx context.Context, key string) (bool, error) {
	n, err := rl.client.Exists(ctx, rl.blockKey(key)).Result()
	return n > 0, err
}

// RateLimitMiddleware 创建限流中间件；redis 出错时放行，限流不影响主流程
func RateLimitMiddleware(limiter *RateLimiter) app.HandlerFunc {
	cfg := limiter.config

	return func(ctx context.Context, c *app.RequestContext) {
		key := limiter.getKey(ctx, c)

		blocked, err := limiter.IsBlocked(ctx, key)
		if err != nil {
			logger.Logger.Warn("Failed to check block status", zap.Error(err))
			c.Next(ctx)
			return
		}
		if blocked {
			response.Error(ctx, c, errors.TooManyRequests)
			c.Abort()
			return
		}

		allowed, count, err := limiter.Allow(ctx, key)
		if err != nil {
			logger.Logger.Warn("Failed to check rate limit", zap.Error(err))
			c.Next(ctx)
			return
		}

		remaining := cfg.MaxRequests - count
		if remaining < 0 {
			remaining = 0
		}
		c.Response.Header.Set("X-RateLimit-Limit", strconv.Itoa(cfg.MaxRequests))
		c.Response.Header.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Response.Header.Set("X-RateLimit-Reset", strconv.FormatInt(limiter.now().Add(time.Duration(cfg.Window)*time.Second).Unix(), 10))

		if !allowed {
			if err := limiter.Block(ctx, key); err != nil {
				logger.Logger.Error("Failed to block client", zap.String("key", key), zap.Error(err))
			}
			response.Error(ctx, c, errors.TooManyRequests)
			c.Abort()
			return
		}

		c.Next(ctx)
	}
}

// Noop 未启用限流或没有 redis 时使用
func Noop() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		c.Next(ctx)
	}
}
