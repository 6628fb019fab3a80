package mq

import (
	"fmt"

	"github.com/rabbitmq/amqp091-go"
)

const (
	ExchangeName = "engagement.events"

	// DelayExchangeName fronts a single consumer-less holding queue.
	// Messages published to it carry a per-message TTL and dead-letter back
	// into ExchangeName with their original routing key once the TTL expires.
	DelayExchangeName = "engagement.events.delay"
	DelayQueueName    = "engagement.events.delay.q"
)

// NewConnection creates a new RabbitMQ connection.
func NewConnection(url string) (*amqp091.Connection, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return conn, nil
}

// DeclareExchange declares the events exchange.
func DeclareExchange(ch *amqp091.Channel) error {
	return ch.ExchangeDeclare(
		ExchangeName,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
}

// DeclareDelayTopology declares the delay exchange and its holding queue.
// TTL expiry is FIFO per queue, so a long delay queued ahead of a short one
// stretches the short one; task delays are advisory so this is acceptable.
func DeclareDelayTopology(ch *amqp091.Channel) error {
	err := ch.ExchangeDeclare(
		DelayExchangeName,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare delay exchange: %w", err)
	}

	_, err = ch.QueueDeclare(
		DelayQueueName,
		true,
		false,
		false,
		false,
		amqp091.Table{
			"x-dead-letter-exchange": ExchangeName,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to declare delay queue: %w", err)
	}

	// Catch-all binding: the routing key is preserved through the
	// dead-letter hop, so consumers see the key the task was published with.
	if err := ch.QueueBind(DelayQueueName, "#", DelayExchangeName, false, nil); err != nil {
		return fmt.Errorf("failed to bind delay queue: %w", err)
	}

	return nil
}
