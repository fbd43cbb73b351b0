package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitMQSender publishes notifications as persistent JSON messages to a
// durable queue.
type RabbitMQSender struct {
	conn    *amqp.Connection
	channel amqpChannel
	queue   string
	log     *zap.Logger
}

func NewRabbitMQSender(url, queue string, attempts int, log *zap.Logger) (*RabbitMQSender, error) {
	if attempts < 1 {
		attempts = 1
	}

	var (
		conn *amqp.Connection
		err  error
	)
	// the broker may still be starting
	for i := 0; i < attempts; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		log.Warn("failed to connect to RabbitMQ, retrying",
			zap.Int("attempt", i+1),
			zap.Int("attempts", attempts),
			zap.Error(err))
		if i < attempts-1 {
			time.Sleep(2 * time.Second)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	_, err = ch.QueueDeclare(
		queue, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare a queue: %w", err)
	}

	return &RabbitMQSender{conn: conn, channel: ch, queue: queue, log: log}, nil
}

func (s *RabbitMQSender) Send(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = s.channel.PublishWithContext(ctx,
		"",      // exchange
		s.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			MessageId:    uuid.New().String(),
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
		})
	if err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}

	s.log.Debug("notification queued",
		zap.String("order_id", n.OrderID),
		zap.String("queue", s.queue))
	return nil
}

func (s *RabbitMQSender) Close() {
	s.channel.Close()
	if s.conn != nil {
		s.conn.Close()
	}
}
