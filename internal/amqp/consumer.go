package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/koios/gencast/pkg/models"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	initialRetryDelay = time.Second
	maxRetryDelay     = 30 * time.Second
)

// SubmissionHandler defines the interface for handling wire submissions
type SubmissionHandler interface {
	Handle(ctx context.Context, request *models.SubmissionRequest) (bool, error)
}

// Consumer handles consuming submissions from AMQP
type Consumer struct {
	conn    *Connection
	handler SubmissionHandler
	logger  *zap.Logger
}

// NewConsumer creates a new consumer
func NewConsumer(conn *Connection, handler SubmissionHandler, logger *zap.Logger) *Consumer {
	return &Consumer{
		conn:    conn,
		handler: handler,
		logger:  logger,
	}
}

// Start consumes until ctx is cancelled, reconnecting with capped backoff
func (c *Consumer) Start(ctx context.Context) error {
	retryDelay := initialRetryDelay
	retryCount := 0

	for {
		if ctx.Err() != nil {
			c.logger.Info("Consumer context cancelled, stopping")
			return nil
		}

		err := c.startConsuming(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			retryDelay = initialRetryDelay
			retryCount = 0
			continue
		}

		retryCount++
		c.logger.Error("Consumer failed, will retry after delay",
			zap.Error(err),
			zap.Int("retry_count", retryCount),
			zap.Duration("retry_delay", retryDelay))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(retryDelay):
			retryDelay = nextRetryDelay(retryDelay)
		}
	}
}

func nextRetryDelay(d time.Duration) time.Duration {
	d = time.Duration(float64(d) * 1.5)
	if d > maxRetryDelay {
		d = maxRetryDelay
	}
	return d
}

func consumerTag() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("gencast-%s-%d", hostname, time.Now().Unix())
}

// startConsuming handles a single consumption session
func (c *Consumer) startConsuming(ctx context.Context) error {
	if err := c.conn.EnsureConnection(); err != nil {
		return fmt.Errorf("failed to ensure connection: %w", err)
	}

	tag := consumerTag()
	msgs, err := c.conn.consume(tag)
	if err != nil {
		c.logger.Warn("Failed to register consumer, forcing reconnection", zap.Error(err))
		c.conn.forceClose()
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("Started consuming submissions",
		zap.String("queue", c.conn.config.QueueName),
		zap.String("consumer_tag", tag))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				c.logger.Warn("Message channel closed, will reconnect")
				return fmt.Errorf("message channel closed")
			}
			// Handled inline so submissions reach the queue in delivery order
			c.handleMessage(ctx, msg)
		}
	}
}

// handleMessage processes a single delivery. Payloads that cannot be handled
// are rejected without requeue.
func (c *Consumer) handleMessage(ctx context.Context, msg amqp.Delivery) {
	c.logger.Debug("Received message",
		zap.String("routing_key", msg.RoutingKey),
		zap.String("correlation_id", msg.CorrelationId))

	var request models.SubmissionRequest
	if err := json.Unmarshal(msg.Body, &request); err != nil {
		c.logger.Error("Failed to unmarshal message",
			zap.Error(err),
			zap.String("correlation_id", msg.CorrelationId))
		msg.Nack(false, false)
		return
	}

	if _, err := c.handler.Handle(ctx, &request); err != nil {
		c.logger.Error("Failed to handle submission",
			zap.Error(err),
			zap.String("type", request.Type),
			zap.String("correlation_id", msg.CorrelationId))
		msg.Nack(false, false)
		return
	}

	if err := msg.Ack(false); err != nil {
		c.logger.Error("Failed to acknowledge message",
			zap.Error(err),
			zap.String("correlation_id", msg.CorrelationId))
	}
}
