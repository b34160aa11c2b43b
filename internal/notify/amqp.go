package notify

import (
	"context"
	"fmt"
	"sync"

	json "github.com/goccy/go-json"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/crypto-temple/internal/logging"
	"github.com/crypto-temple/internal/types"
)

// DefaultExchange is the fanout exchange notifications are published to
const DefaultExchange = "temple.notifications"

// amqpChannel is the subset of *amqp.Channel the publisher uses
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes notifications to a RabbitMQ exchange, routed by
// notification kind.
type AMQPPublisher struct {
	conn     *amqp.Connection
	channel  amqpChannel
	exchange string
	logger   *logging.Logger

	mu sync.Mutex
}

// NewAMQPPublisher dials url and declares a durable fanout exchange
func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange,
		amqp.ExchangeFanout,
		true,  // durable
		false, // autoDelete
		false, // internal
		false, // noWait
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	p := newAMQPPublisher(ch, exchange)
	p.conn = conn
	p.logger.WithField("exchange", exchange).Info("Connected to RabbitMQ")
	return p, nil
}

func newAMQPPublisher(ch amqpChannel, exchange string) *AMQPPublisher {
	return &AMQPPublisher{
		channel:  ch,
		exchange: exchange,
		logger:   logging.WithComponent("notify_amqp"),
	}
}

// Publish implements Publisher
func (p *AMQPPublisher) Publish(ctx context.Context, n types.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(ctx,
		p.exchange,
		n.Kind, // routing key
		false,  // mandatory
		false,  // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    n.SentAt,
			Type:         n.Kind,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

// Close closes the channel and the connection
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var err error
	if p.channel != nil {
		err = p.channel.Close()
	}
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
