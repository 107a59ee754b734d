package mq

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	ExchangeTasks = "thumbnail.exchange"
	ExchangeRetry = "thumbnail.retry.exchange"
	ExchangeDLQ   = "thumbnail.dlq.exchange"

	QueueTasks = "thumbnail.queue"
	QueueRetry = "thumbnail.retry.queue"
	QueueDLQ   = "thumbnail.dlq.queue"

	RoutingTask  = "thumbnail"
	RoutingRetry = "thumbnail.retry"
	RoutingDLQ   = "thumbnail.dlq"
)

type Client struct {
	Conn      *amqp.Connection
	Channel   *amqp.Channel
	publishMu sync.Mutex
}

func Dial(url string) (*Client, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &Client{Conn: conn, Channel: ch}, nil
}

func (c *Client) Close() {
	if c == nil {
		return
	}
	if c.Channel != nil {
		_ = c.Channel.Close()
	}
	if c.Conn != nil {
		_ = c.Conn.Close()
	}
}

func (c *Client) closed() bool {
	return c.Conn == nil || c.Conn.IsClosed() || c.Channel == nil || c.Channel.IsClosed()
}

// DeclareTopology declares the task, retry and dead-letter exchanges and queues.
// Retry messages carry a per-message TTL and dead-letter back onto the task exchange.
func (c *Client) DeclareTopology() error {
	for _, exchange := range []string{ExchangeTasks, ExchangeRetry, ExchangeDLQ} {
		if err := c.Channel.ExchangeDeclare(exchange, "direct", true, false, false, false, nil); err != nil {
			return err
		}
	}
	queues := []struct {
		name string
		args amqp.Table
	}{
		{QueueTasks, nil},
		{QueueRetry, amqp.Table{
			"x-dead-letter-exchange":    ExchangeTasks,
			"x-dead-letter-routing-key": RoutingTask,
		}},
		{QueueDLQ, nil},
	}
	for _, q := range queues {
		if _, err := c.Channel.QueueDeclare(q.name, true, false, false, false, q.args); err != nil {
			return err
		}
	}
	bindings := []struct{ queue, key, exchange string }{
		{QueueTasks, RoutingTask, ExchangeTasks},
		{QueueRetry, RoutingRetry, ExchangeRetry},
		{QueueDLQ, RoutingDLQ, ExchangeDLQ},
	}
	for _, b := range bindings {
		if err := c.Channel.QueueBind(b.queue, b.key, b.exchange, false, nil); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) PublishTask(ctx context.Context, body []byte) error {
	return c.publish(ctx, ExchangeTasks, RoutingTask, body, "")
}

func (c *Client) PublishRetry(ctx context.Context, body []byte, delay time.Duration) error {
	return c.publish(ctx, ExchangeRetry, RoutingRetry, body, retryExpiration(delay))
}

func (c *Client) PublishDLQ(ctx context.Context, body []byte) error {
	return c.publish(ctx, ExchangeDLQ, RoutingDLQ, body, "")
}

func retryExpiration(delay time.Duration) string {
	if delay < 0 {
		delay = 0
	}
	return fmt.Sprintf("%d", delay.Milliseconds())
}

func (c *Client) publish(ctx context.Context, exchange, key string, body []byte, expiration string) error {
	c.publishMu.Lock()
	defer c.publishMu.Unlock()
	msg := amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
	}
	if expiration != "" {
		msg.Expiration = expiration
	}
	return c.Channel.PublishWithContext(
		ctx,
		exchange,
		key,
		false,
		false,
		msg,
	)
}

// Publisher owns one lazily dialed connection and redials after it drops.
type Publisher struct {
	url    string
	mu     sync.Mutex
	client *Client
}

func NewPublisher(url string) *Publisher {
	return &Publisher{url: url}
}

func (p *Publisher) get() (*Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		if !p.client.closed() {
			return p.client, nil
		}
		p.client.Close()
		p.client = nil
	}
	client, err := Dial(p.url)
	if err != nil {
		return nil, err
	}
	if err := client.DeclareTopology(); err != nil {
		client.Close()
		return nil, err
	}
	p.client = client
	return client, nil
}

// PublishTask publishes a task message, dialing first when needed.
func (p *Publisher) PublishTask(ctx context.Context, body []byte) error {
	client, err := p.get()
	if err != nil {
		return err
	}
	return client.PublishTask(ctx, body)
}

func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.client.Close()
	p.client = nil
}
