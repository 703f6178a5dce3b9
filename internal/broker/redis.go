package broker

import (
	"context"
	"github.com/redis/go-redis/v9"
)

// Redis uses pub/sub on a single channel.
type Redis struct {
	client  redis.UniversalClient
	channel string
}

func NewRedis(client redis.UniversalClient, channel string) *Redis {
	return &Redis{client: client, channel: channel}
}

func (r *Redis) Notify(ctx context.Context, sig Signal) error {
	body, err := sig.encode()
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, body).Err()
}

func (r *Redis) Subscribe(ctx context.Context) (<-chan Signal, error) {
	sub := r.client.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	raw := make(chan []byte)
	go func() {
		defer close(raw)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case raw <- []byte(msg.Payload):
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

// Close is a no-op; the client is owned by the container.
func (r *Redis) Close() error { return nil }
