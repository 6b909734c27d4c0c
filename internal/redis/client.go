package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/koios/gencast/internal/config"
	"github.com/koios/gencast/pkg/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Client wraps the Redis client for stream ingress and notice pub/sub
type Client struct {
	client *redis.Client
	config config.RedisConfig
	logger *zap.Logger
}

// NewClient creates a new Redis client and makes sure the consumer group exists
func NewClient(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*Client, error) {
	if cfg.ConsumerName == "" {
		hostname, _ := os.Hostname()
		if hostname == "" {
			hostname = "unknown"
		}
		cfg.ConsumerName = fmt.Sprintf("%s-%d", hostname, time.Now().UnixNano())
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		PoolTimeout:  30 * time.Second,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	client := &Client{
		client: rdb,
		config: cfg,
		logger: logger,
	}

	logger.Info("Connected to Redis",
		zap.String("addr", cfg.Addr),
		zap.String("stream", cfg.Stream),
		zap.String("consumer_group", cfg.ConsumerGroup),
		zap.String("consumer_name", cfg.ConsumerName))

	if err := client.initializeConsumerGroup(ctx); err != nil {
		logger.Warn("Failed to initialize consumer group", zap.Error(err))
	}

	return client, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}

// PublishNotice publishes a user notice as JSON on the notice channel
func (c *Client) PublishNotice(ctx context.Context, notice models.Notice) error {
	body, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("failed to marshal notice: %w", err)
	}

	if err := c.client.Publish(ctx, c.config.NoticeChannel, body).Err(); err != nil {
		return fmt.Errorf("failed to publish to Redis channel %s: %w", c.config.NoticeChannel, err)
	}

	c.logger.Debug("Published notice",
		zap.String("channel", c.config.NoticeChannel),
		zap.String("level", string(notice.Level)))
	return nil
}

// initializeConsumerGroup creates the consumer group for the submissions stream
func (c *Client) initializeConsumerGroup(ctx context.Context) error {
	// "$" skips submissions queued while no consumer was running
	err := c.client.XGroupCreateMkStream(ctx, c.config.Stream, c.config.ConsumerGroup, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("Consumer group initialized",
		zap.String("stream", c.config.Stream),
		zap.String("group", c.config.ConsumerGroup))
	return nil
}

// ReadFromStream reads new submissions using the consumer group
func (c *Client) ReadFromStream(ctx context.Context, count int64, block time.Duration) ([]redis.XStream, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.config.ConsumerGroup,
		Consumer: c.config.ConsumerName,
		Streams:  []string{c.config.Stream, ">"},
		Count:    count,
		Block:    block,
		NoAck:    false,
	}).Result()

	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to read from stream: %w", err)
	}
	return streams, nil
}

// AcknowledgeMessage acknowledges a message from the stream
func (c *Client) AcknowledgeMessage(ctx context.Context, messageID string) error {
	if err := c.client.XAck(ctx, c.config.Stream, c.config.ConsumerGroup, messageID).Err(); err != nil {
		return fmt.Errorf("failed to acknowledge message %s: %w", messageID, err)
	}
	return nil
}

// AddSubmission appends a wire submission to the stream
func (c *Client) AddSubmission(ctx context.Context, request *models.SubmissionRequest) (string, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("failed to marshal submission: %w", err)
	}
	id, err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.config.Stream,
		Values: map[string]interface{}{payloadField: string(body)},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to add submission: %w", err)
	}
	return id, nil
}

// IsHealthy checks if Redis connection is healthy
func (c *Client) IsHealthy(ctx context.Context) bool {
	return c.client.Ping(ctx).Err() == nil
}
