package queue

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"verifyflow/internal/model"
	"verifyflow/pkg/logger"
	"verifyflow/pkg/snowflake"
	"verifyflow/storage/mq"
)

// Publisher 进度变更通知的发布方
type Publisher interface {
	PublishProgressChanged(ctx context.Context, providerID, table string) error
}

// NewInvalidationMessage 生成一条变更通知，消息 ID 由 snowflake 生成
func NewInvalidationMessage(providerID, table string, now time.Time) (model.InvalidationMessage, error) {
	id, err := snowflake.NextMessageID("vp")
	if err != nil {
		return model.InvalidationMessage{}, fmt.Errorf("failed to generate message ID: %w", err)
	}
	return model.InvalidationMessage{
		MessageID:  id,
		ProviderID: providerID,
		Table:      table,
		OccurredAt: now.UTC().Format(time.RFC3339Nano),
	}, nil
}

// MQPublisher 通过 RabbitMQ 广播变更通知
type MQPublisher struct {
	now func() time.Time
}

func NewMQPublisher() *MQPublisher {
	return &MQPublisher{now: time.Now}
}

// PublishProgressChanged 发布进度变更通知
func (p *MQPublisher) PublishProgressChanged(ctx context.Context, providerID, table string) error {
	msg, err := NewInvalidationMessage(providerID, table, p.now())
	if err != nil {
		logger.Logger.Error("Failed to build progress changed message",
			zap.String("provider_id", providerID),
			zap.Error(err),
		)
		return err
	}

	if err := mq.PublishMessage(ctx,
		mq.ExchangeVerificationEvents,
		mq.RoutingKeyProgressChanged,
		msg.MessageID,
		msg,
	); err != nil {
		logger.Logger.Error("Failed to publish progress changed message",
			zap.String("message_id", msg.MessageID),
			zap.String("provider_id", providerID),
			zap.String("table", table),
			zap.Error(err),
		)
		return err
	}

	logger.Logger.Debug("Published progress changed message",
		zap.String("message_id", msg.MessageID),
		zap.String("provider_id", providerID),
		zap.String("table", table),
	)
	return nil
}
