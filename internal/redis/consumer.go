package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/koios/gencast/pkg/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const payloadField = "payload"

// SubmissionHandler defines the interface for handling wire submissions
type SubmissionHandler interface {
	Handle(ctx context.Context, request *models.SubmissionRequest) (bool, error)
}

// Consumer reads submissions from the Redis stream
type Consumer struct {
	client  *Client
	handler SubmissionHandler
	logger  *zap.Logger
	block   time.Duration
}

// NewConsumer creates a new Redis consumer
func NewConsumer(client *Client, handler SubmissionHandler, logger *zap.Logger) *Consumer {
	return &Consumer{
		client:  client,
		handler: handler,
		logger:  logger,
		block:   5 * time.Second,
	}
}

// Start consumes until ctx is cancelled
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("Starting Redis consumer for submissions")

	for {
		if ctx.Err() != nil {
			c.logger.Info("Redis consumer stopped")
			return nil
		}

		if err := c.consumeMessages(ctx); err != nil {
			c.logger.Error("Error consuming messages, will retry",
				zap.Error(err),
				zap.Duration("retry_delay", 5*time.Second))
			select {
			case <-ctx.Done():
			case <-time.After(5 * time.Second):
			}
		}
	}
}

func (c *Consumer) consumeMessages(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		streams, err := c.client.ReadFromStream(ctx, 10, c.block)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if !c.client.IsHealthy(ctx) {
				return fmt.Errorf("Redis connection unhealthy, will reconnect")
			}
			c.logger.Error("Error reading from stream", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		for _, stream := range streams {
			for _, message := range stream.Messages {
				c.handleStreamMessage(ctx, message)
			}
		}
	}
}

// decodeStreamMessage extracts the wire submission from a stream entry
func decodeStreamMessage(msg redis.XMessage) (*models.SubmissionRequest, error) {
	payload, ok := msg.Values[payloadField].(string)
	if !ok {
		return nil, fmt.Errorf("message %s has no %s field", msg.ID, payloadField)
	}

	var request models.SubmissionRequest
	if err := json.Unmarshal([]byte(payload), &request); err != nil {
		return nil, fmt.Errorf("failed to unmarshal submission: %w", err)
	}
	return &request, nil
}

// handleStreamMessage processes one stream entry. Every entry is acknowledged,
// since a payload that failed once will fail again.
func (c *Consumer) handleStreamMessage(ctx context.Context, msg redis.XMessage) {
	c.logger.Debug("Received submission from stream",
		zap.String("message_id", msg.ID),
		zap.Int("fields_count", len(msg.Values)))

	request, err := decodeStreamMessage(msg)
	if err != nil {
		c.logger.Error("Failed to decode stream message",
			zap.Error(err),
			zap.String("message_id", msg.ID))
	} else if _, err := c.handler.Handle(ctx, request); err != nil {
		c.logger.Error("Failed to handle submission",
			zap.Error(err),
			zap.String("message_id", msg.ID),
			zap.String("type", request.Type))
	}

	if err := c.client.AcknowledgeMessage(ctx, msg.ID); err != nil {
		c.logger.Error("Failed to acknowledge message",
			zap.Error(err),
			zap.String("message_id", msg.ID))
	}
}
