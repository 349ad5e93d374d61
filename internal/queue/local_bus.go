package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"verifyflow/internal/model"
	"verifyflow/pkg/logger"
)

const defaultLocalBuffer = 64

// LocalBus 进程内的变更通知，memory 模式与测试使用
// 订阅者缓冲区满时丢弃通知，缓存 TTL 兜底
type LocalBus struct {
	mu     sync.RWMutex
	subs   []chan model.InvalidationMessage
	closed bool
	now    func() time.Time
	wg     sync.WaitGroup
}

func NewLocalBus() *LocalBus {
	return &LocalBus{now: time.Now}
}

// PublishProgressChanged 广播给当前所有订阅者
func (b *LocalBus) PublishProgressChanged(ctx context.Context, providerID, table string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := model.InvalidationMessage{
		MessageID:  "local_" + uuid.NewString(),
		ProviderID: providerID,
		Table:      table,
		OccurredAt: b.now().UTC().Format(time.RFC3339Nano),
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil
	}
	for _, sub := range b.subs {
		select {
		case sub <- msg:
		default:
			logger.Logger.Warn("Local bus subscriber full, dropping invalidation",
				zap.String("provider_id", providerID),
				zap.String("message_id", msg.MessageID),
			)
		}
	}
	return nil
}

// Subscribe 启动一个订阅 goroutine，ctx 取消或 Close 后退出
func (b *LocalBus) Subscribe(ctx context.Context, handler InvalidationHandler) {
	ch := make(chan model.InvalidationMessage, defaultLocalBuffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.subs = append(b.subs, ch)
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if err := handler(ctx, msg); err != nil {
					logger.Logger.Warn("Local invalidation handler failed",
						zap.String("provider_id", msg.ProviderID),
						zap.Error(err),
					)
				}
			}
		}
	}()
}

// Close 关闭所有订阅并等待退出
func (b *LocalBus) Close() {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		for _, sub := range b.subs {
			close(sub)
		}
		b.subs = nil
	}
	b.mu.Unlock()

	b.wg.Wait()
}
