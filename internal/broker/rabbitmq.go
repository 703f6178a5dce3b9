package broker

import (
	"context"
	"fmt"
	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQ publishes signals to a direct exchange. Every subscriber gets its
// own exclusive auto-delete queue bound to the routing key, so each worker
// process sees every signal.
type RabbitMQ struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	exchange   string
	routingKey string
}

// NewRabbitMQ creates a new instance of RabbitMQ broker.
func NewRabbitMQ(url, exchange, routingKey string) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	if err := ch.ExchangeDeclare(
		exchange,
		"direct",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &RabbitMQ{
		conn:       conn,
		channel:    ch,
		exchange:   exchange,
		routingKey: routingKey,
	}, nil
}

func (r *RabbitMQ) Notify(ctx context.Context, sig Signal) error {
	body, err := sig.encode()
	if err != nil {
		return err
	}
	return r.channel.PublishWithContext(
		ctx,
		r.exchange,
		r.routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Transient,
			Body:         body,
		},
	)
}

func (r *RabbitMQ) Subscribe(ctx context.Context) (<-chan Signal, error) {
	ch, err := r.conn.Channel()
	if err != nil {
		return nil, err
	}

	q, err := ch.QueueDeclare(
		"",
		false,
		true,
		true,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		return nil, err
	}

	if err := ch.QueueBind(q.Name, r.routingKey, r.exchange, false, nil); err != nil {
		ch.Close()
		return nil, err
	}

	msgs, err := ch.ConsumeWithContext(ctx, q.Name, "", true, true, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, err
	}

	raw := make(chan []byte)
	go func() {
		defer close(raw)
		defer ch.Close()
		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case raw <- msg.Body:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	out := make(chan Signal, 64)
	go forward(ctx, raw, out)
	return out, nil
}

func (r *RabbitMQ) Close() error {
	if err := r.channel.Close(); err != nil {
		_ = r.conn.Close()
		return err
	}
	return r.conn.Close()
}
