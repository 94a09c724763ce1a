package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// Message is one event received from the bus
type Message struct {
	Channel string
	Data    []byte
}

// Bus is the publish/subscribe transport behind the channel fan-out.
// Delivery is at-most-once; subscribers missing a message is accepted.
type Bus interface {
	Publish(ctx context.Context, channel string, payload interface{}) error
	Subscribe(ctx context.Context, channels ...string) (<-chan Message, error)
}

// RedisBus implements Bus over Redis pub/sub
type RedisBus struct {
	client *redis.Client
}

// NewRedisBus creates a bus over the given Redis client
func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client}
}

// Publish marshals payload and publishes it to the channel
func (b *RedisBus) Publish(ctx context.Context, channel string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal bus payload: %w", err)
	}

	if err := b.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	return nil
}

// Subscribe subscribes to the given channels and relays messages until ctx
// is canceled.
func (b *RedisBus) Subscribe(ctx context.Context, channels ...string) (<-chan Message, error) {
	sub := b.client.Subscribe(ctx, channels...)
	if _, err := sub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	out := make(chan Message)
	go func() {
		defer close(out)
		defer sub.Close()

		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				out <- Message{Channel: msg.Channel, Data: []byte(msg.Payload)}
			}
		}
	}()

	return out, nil
}
