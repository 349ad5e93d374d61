package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"verifyflow/internal/model"
	"verifyflow/pkg/logger"
	"verifyflow/storage/mq"
)

// InvalidationHandler 收到变更通知后的处理，只应该让缓存失效
type InvalidationHandler func(ctx context.Context, msg model.InvalidationMessage) error

// StartInvalidationConsumer 消费进度变更通知，阻塞直到 ctx 取消
func StartInvalidationConsumer(ctx context.Context, handler InvalidationHandler) error {
	return mq.Consume(ctx, mq.ConsumeOptions{
		Queue:         mq.QueueProgressInvalidate,
		ConsumerTag:   "progress_invalidate_consumer",
		PrefetchCount: 20,
		Handler:       invalidationMessageHandler(handler),
	})
}

// invalidationMessageHandler 格式错误的消息直接确认丢弃，处理失败的重新入队
func invalidationMessageHandler(handler InvalidationHandler) mq.MessageHandler {
	return func(ctx context.Context, body []byte) error {
		msg, err := decodeInvalidation(body)
		if err != nil {
			logger.Logger.Warn("Dropping malformed invalidation message",
				zap.ByteString("body", body),
				zap.Error(err),
			)
			return nil
		}

		if err := handler(ctx, msg); err != nil {
			return fmt.Errorf("failed to handle invalidation for provider %s: %w", msg.ProviderID, err)
		}
		return nil
	}
}

func decodeInvalidation(body []byte) (model.InvalidationMessage, error) {
	var msg model.InvalidationMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return msg, fmt.Errorf("failed to unmarshal invalidation message: %w", err)
	}
	if msg.ProviderID == "" {
		return msg, fmt.Errorf("invalidation message %q has no provider_id", msg.MessageID)
	}
	return msg, nil
}
