package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisChannel is the pub/sub channel identity events are relayed on.
const DefaultRedisChannel = "vetric:identity"

// RedisBus relays identity events between server instances over Redis
// pub/sub. Local subscribers receive every event published by any instance,
// including this one.
type RedisBus struct {
	client  redis.UniversalClient
	channel string
	pubsub  *redis.PubSub
	hub     *Hub
	done    chan struct{}
}

// NewRedisBus subscribes to channel and starts relaying. It returns once the
// subscription is confirmed so no event published afterwards is missed.
func NewRedisBus(ctx context.Context, client redis.UniversalClient, channel string) (*RedisBus, error) {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	ps := client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	b := &RedisBus{
		client:  client,
		channel: channel,
		pubsub:  ps,
		hub:     NewHub(),
		done:    make(chan struct{}),
	}
	go b.relay(ps.Channel())
	return b, nil
}

func (b *RedisBus) Publish(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal identity event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("publish identity event: %w", err)
	}
	return nil
}

func (b *RedisBus) Subscribe() *Subscription {
	return b.hub.Subscribe()
}

// Close stops the relay. Local subscriptions stay open but receive nothing more.
func (b *RedisBus) Close() error {
	err := b.pubsub.Close()
	<-b.done
	return err
}

func (b *RedisBus) relay(ch <-chan *redis.Message) {
	defer close(b.done)
	for msg := range ch {
		var e Event
		if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
			log.Printf("identity relay: drop malformed event: %v", err)
			continue
		}
		_ = b.hub.Publish(context.Background(), e)
	}
}
