package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/koios/gencast/internal/config"
	"github.com/koios/gencast/pkg/models"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// NoticeRoutingKey is the routing key notices are published under
const NoticeRoutingKey = "notices"

// Connection wraps the AMQP connection and channel. It dials lazily and
// redials after the broker goes away.
type Connection struct {
	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	config  config.AMQPConfig
	logger  *zap.Logger
}

// NewConnection creates a connection that dials on first use
func NewConnection(cfg config.AMQPConfig, logger *zap.Logger) *Connection {
	return &Connection{
		config: cfg,
		logger: logger,
	}
}

// EnsureConnection dials and declares the topology unless a live channel exists
func (c *Connection) EnsureConnection() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && !c.conn.IsClosed() && c.channel != nil && !c.channel.IsClosed() {
		return nil
	}
	c.closeLocked()

	conn, err := amqp.Dial(c.config.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to AMQP: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := declareTopology(ch, c.config); err != nil {
		ch.Close()
		conn.Close()
		return err
	}

	c.conn = conn
	c.channel = ch
	c.logger.Info("Connected to AMQP broker", zap.String("queue", c.config.QueueName))
	return nil
}

func declareTopology(ch *amqp.Channel, cfg config.AMQPConfig) error {
	// Each consumer only holds the configured number of unacknowledged messages
	if err := ch.Qos(cfg.PrefetchCount, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	err := ch.ExchangeDeclare(
		cfg.Exchange, // name
		"topic",      // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	_, err = ch.QueueDeclare(
		cfg.QueueName, // name
		true,          // durable
		false,         // delete when unused
		false,         // exclusive
		false,         // no-wait
		nil,           // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.QueueBind(cfg.QueueName, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}
	return nil
}

func (c *Connection) consume(tag string) (<-chan amqp.Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel == nil {
		return nil, fmt.Errorf("no AMQP channel")
	}
	return c.channel.Consume(
		c.config.QueueName, // queue
		tag,                // consumer tag
		false,              // auto-ack
		false,              // exclusive
		false,              // no-local
		false,              // no-wait
		nil,                // args
	)
}

// forceClose drops the current connection so the next EnsureConnection redials
func (c *Connection) forceClose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Connection) closeLocked() {
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Close closes the AMQP connection and channel
func (c *Connection) Close() error {
	c.forceClose()
	return nil
}

// PublishNotice publishes a user notice to the exchange
func (c *Connection) PublishNotice(ctx context.Context, notice models.Notice) error {
	if err := c.EnsureConnection(); err != nil {
		return err
	}

	body, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("failed to marshal notice: %w", err)
	}

	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()
	if ch == nil {
		return fmt.Errorf("no AMQP channel")
	}

	err = ch.PublishWithContext(
		ctx,
		c.config.Exchange, // exchange
		NoticeRoutingKey,  // routing key
		false,             // mandatory
		false,             // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish notice: %w", err)
	}
	return nil
}
