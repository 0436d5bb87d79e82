package amqp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	amqplib "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/Harsh-BH/crmjobs/internal/usecase"
)

const (
	// DefaultQueue receives bulk requests from other services.
	DefaultQueue = "crmjobs.requests"

	maxReconnectDelay  = 30 * time.Second
	baseReconnectDelay = 1 * time.Second
)

// Message is one queued bulk request with its acknowledgement callbacks.
// Exactly one of Ack or Nack must be called.
type Message struct {
	Request *usecase.BulkRequest
	Ack     func() error
	Nack    func(requeue bool) error
}

// Consumer reads bulk requests from a durable queue and hands them to a
// channel. Deliveries are acknowledged by the receiver, not on dispatch.
type Consumer struct {
	url      string
	queue    string
	prefetch int
	conn     *amqplib.Connection
	channel  *amqplib.Channel
	logger   *zap.Logger
	messages chan<- *Message

	mu      sync.Mutex
	closed  bool
	closeCh chan struct{}
}

// NewConsumer connects to RabbitMQ and declares queue with a dead-letter
// exchange named "<queue>.dlx". prefetch bounds unacknowledged deliveries
// and should match the worker pool size.
func NewConsumer(url, queue string, prefetch int, messages chan<- *Message, logger *zap.Logger) (*Consumer, error) {
	if queue == "" {
		queue = DefaultQueue
	}
	if prefetch < 1 {
		prefetch = 1
	}
	c := &Consumer{
		url:      url,
		queue:    queue,
		prefetch: prefetch,
		logger:   logger,
		messages: messages,
		closeCh:  make(chan struct{}),
	}

	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Consumer) connect() error {
	conn, err := amqplib.Dial(c.url)
	if err != nil {
		return fmt.Errorf("amqp dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("amqp channel: %w", err)
	}

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("amqp qos: %w", err)
	}

	_, err = ch.QueueDeclare(
		c.queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		amqplib.Table{
			"x-queue-type":              "quorum",
			"x-dead-letter-exchange":    c.queue + ".dlx",
			"x-dead-letter-routing-key": c.queue + ".dlq",
		},
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("amqp queue declare: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.channel = ch
	c.mu.Unlock()
	return nil
}

// Start consumes until ctx is cancelled or Close is called, reconnecting
// with exponential backoff when the connection drops.
func (c *Consumer) Start(ctx context.Context) error {
	for {
		err := c.consume(ctx)
		if err == nil {
			return nil
		}
		if c.stopped(ctx) {
			return nil
		}

		c.logger.Warn("AMQP consumer lost connection, reconnecting...", zap.Error(err))

		for attempt := 0; ; attempt++ {
			delay := time.Duration(math.Min(
				float64(baseReconnectDelay)*math.Pow(2, float64(attempt)),
				float64(maxReconnectDelay),
			))
			c.logger.Info("Reconnect attempt",
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
			)
			select {
			case <-c.closeCh:
				return nil
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}

			if err := c.connect(); err != nil {
				c.logger.Error("Reconnect failed", zap.Error(err))
				continue
			}
			c.logger.Info("Reconnected to RabbitMQ")
			break
		}
	}
}

func (c *Consumer) stopped(ctx context.Context) bool {
	select {
	case <-c.closeCh:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func (c *Consumer) consume(ctx context.Context) error {
	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()
	if ch == nil {
		return fmt.Errorf("channel is nil")
	}

	deliveries, err := ch.Consume(
		c.queue,
		"",    // auto-generated consumer tag
		false, // manual ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("amqp consume: %w", err)
	}

	c.logger.Info("AMQP consumer started", zap.String("queue", c.queue))

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("AMQP consumer stopping (context cancelled)")
			return nil
		case delivery, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}

			req, err := DecodeRequest(delivery.Body)
			if err != nil {
				c.logger.Error("Failed to unmarshal bulk request",
					zap.Error(err),
					zap.Int("body_bytes", len(delivery.Body)),
				)
				_ = delivery.Nack(false, false) // dead-letter
				continue
			}

			c.logger.Debug("Received bulk request from queue",
				zap.String("operation", string(req.Operation)),
				zap.String("object", req.Object),
				zap.String("message_id", delivery.MessageId),
			)

			tag := delivery.DeliveryTag
			localCh := ch
			msg := &Message{
				Request: req,
				Ack: func() error {
					return localCh.Ack(tag, false)
				},
				Nack: func(requeue bool) error {
					return localCh.Nack(tag, false, requeue)
				},
			}

			select {
			case c.messages <- msg:
			case <-ctx.Done():
				_ = delivery.Nack(false, true)
				return nil
			}
		}
	}
}

// Close stops consuming and closes the channel and connection.
func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.closeCh)

	var firstErr error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			firstErr = err
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DecodeRequest parses a queued bulk request. Numbers in records stay
// json.Number so large integers and decimals reach the payload unrounded.
func DecodeRequest(body []byte) (*usecase.BulkRequest, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var req usecase.BulkRequest
	if err := dec.Decode(&req); err != nil {
		return nil, err
	}
	return &req, nil
}
