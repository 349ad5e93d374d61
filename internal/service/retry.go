package service

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"verifyflow/config"
	pkgerrors "verifyflow/pkg/errors"
)

// RetryPolicy 存储写入的重试策略，只重试临时错误
type RetryPolicy struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy 最多 3 次，指数退避
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

// RetryPolicyFromConfig 读取 VERIFICATION_RETRY_* 配置
func RetryPolicyFromConfig() RetryPolicy {
	p := RetryPolicy{
		MaxAttempts:     config.Cfg.VerificationRetryAttempts,
		InitialInterval: config.Cfg.VerificationRetryInitialInterval,
		MaxInterval:     config.Cfg.VerificationRetryMaxInterval,
	}
	if p.MaxAttempts == 0 {
		p.MaxAttempts = 1
	}
	return p
}

func (p RetryPolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	return b
}

// withRetry 临时错误按策略重试，其余错误立即返回
func withRetry[T any](ctx context.Context, s *VerificationService, op, providerID string, fn func(ctx context.Context) (T, error)) (T, error) {
	attempt := 0
	return backoff.Retry(ctx, func() (T, error) {
		attempt++
		v, err := fn(ctx)
		if err != nil && !pkgerrors.IsTransient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(s.retry.backOff()),
		backoff.WithMaxTries(s.retry.MaxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.metrics.RecordStoreRetry(ctx, op)
			s.log.Warn("Retrying progress store call",
				zap.String("op", op),
				zap.String("provider_id", providerID),
				zap.Int("attempt", attempt),
				zap.Duration("next", next),
				zap.Error(err),
			)
		}),
	)
}
