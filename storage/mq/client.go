package mq

import (
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"verifyflow/config"
	"verifyflow/pkg/logger"
)

// 认证进度变更通知的拓扑
const (
	ExchangeVerificationEvents = "verification.events"
	RoutingKeyProgressChanged  = "verification.progress.changed"
	QueueProgressInvalidate    = "verification.progress.invalidate"
)

var (
	conn     *amqp.Connection
	connOnce sync.Once
	connErr  error
)

// Init 建立连接并声明交换机与队列，重复调用只生效一次
func Init() error {
	connOnce.Do(func() {
		c, err := amqp.Dial(config.Cfg.GetRabbitMQURL())
		if err != nil {
			connErr = fmt.Errorf("failed to connect to RabbitMQ: %w", err)
			return
		}

		if err := declareTopology(c); err != nil {
			_ = c.Close()
			connErr = err
			return
		}

		conn = c
		logger.Logger.Info("RabbitMQ connected",
			zap.String("component", "rabbitmq"),
			zap.String("addr", config.Cfg.RabbitMQAddr),
		)
	})
	return connErr
}

func declareTopology(c *amqp.Connection) error {
	ch, err := c.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(
		ExchangeVerificationEvents,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", ExchangeVerificationEvents, err)
	}

	if _, err := ch.QueueDeclare(
		QueueProgressInvalidate,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", QueueProgressInvalidate, err)
	}

	if err := ch.QueueBind(
		QueueProgressInvalidate,
		RoutingKeyProgressChanged,
		ExchangeVerificationEvents,
		false,
		nil,
	); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", QueueProgressInvalidate, err)
	}
	return nil
}

// Connection 返回当前连接，未初始化时为 nil
func Connection() *amqp.Connection {
	return conn
}

func Close() error {
	pubMutex.Lock()
	if publisherCh != nil {
		_ = publisherCh.Close()
		publisherCh = nil
	}
	pubMutex.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}
	return conn.Close()
}
