package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"realtimechat/config"
)

const publishTimeout = 5 * time.Second

// RabbitMQ emits and consumes domain events on a single queue.
type RabbitMQ struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
	log     zerolog.Logger
}

func RabbitMQConnect(s config.Settings, log zerolog.Logger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(fmt.Sprintf(
		"amqp://%s:%s@%s:%s/",
		s.RabbitMQUser,
		s.RabbitMQPassword,
		s.RabbitMQHost,
		s.RabbitMQPort,
	))
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	log.Info().Str("host", s.RabbitMQHost).Msg("connection opened to RabbitMQ server")

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open RabbitMQ channel: %w", err)
	}

	_, err = channel.QueueDeclare(
		s.EventQueue, // name
		true,         // durable
		false,        // delete when unused
		false,        // exclusive
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("declare RabbitMQ queue %s: %w", s.EventQueue, err)
	}
	log.Info().Str("queue", s.EventQueue).Msg("declared RabbitMQ queue")

	return &RabbitMQ{conn: conn, channel: channel, queue: s.EventQueue, log: log}, nil
}

func (r *RabbitMQ) Emit(ctx context.Context, action string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", action, err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = r.channel.PublishWithContext(
		ctx,
		"",      // exchange
		r.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Timestamp:    time.Now(),
			Headers: amqp.Table{
				ActionHeader: action,
			},
			Body: body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s event: %w", action, err)
	}
	return nil
}

// Subscribe consumes the queue into out until ctx is done or the broker
// closes the delivery channel.
func (r *RabbitMQ) Subscribe(ctx context.Context, out chan<- Event) error {
	msgs, err := r.channel.ConsumeWithContext(
		ctx,
		r.queue, // queue
		"",      // consumer
		false,   // auto-ack
		false,   // exclusive
		false,   // no-local
		false,   // no-wait
		nil,     // args
	)
	if err != nil {
		return fmt.Errorf("consume RabbitMQ queue %s: %w", r.queue, err)
	}
	r.log.Info().Str("queue", r.queue).Msg("subscribed to RabbitMQ queue")

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("RabbitMQ queue %s: delivery channel closed", r.queue)
			}
			action, _ := msg.Headers[ActionHeader].(string)
			if err := msg.Ack(false); err != nil {
				r.log.Warn().Err(err).Str("action", action).Msg("ack failed")
			}
			select {
			case out <- Event{Action: action, Data: msg.Body, Time: msg.Timestamp}:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (r *RabbitMQ) Close() error {
	if err := r.channel.Close(); err != nil {
		r.conn.Close()
		return err
	}
	return r.conn.Close()
}
