package redisclient

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/hackgods/medibook/internal/realtime"
)

// PubSubBroker fans realtime events out through Redis channels so every
// api-server instance can deliver to its own websocket clients.
type PubSubBroker struct {
	client *redis.Client
}

func NewPubSubBroker(client *redis.Client) *PubSubBroker {
	return &PubSubBroker{client: client}
}

func (b *PubSubBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := b.client.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (b *PubSubBroker) Subscribe(ctx context.Context, topics ...string) (realtime.Subscription, error) {
	ps := b.client.Subscribe(ctx, topics...)
	// wait for the subscription confirmation so callers do not miss early messages
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	sub := &redisSubscription{ps: ps, out: make(chan []byte, 16), done: make(chan struct{})}
	go sub.pump()
	return sub, nil
}

type redisSubscription struct {
	ps   *redis.PubSub
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func (s *redisSubscription) pump() {
	defer close(s.out)
	ch := s.ps.Channel()
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			select {
			case s.out <- []byte(msg.Payload):
			case <-s.done:
				return
			}
		}
	}
}

func (s *redisSubscription) Messages() <-chan []byte {
	return s.out
}

func (s *redisSubscription) Close() error {
	s.once.Do(func() { close(s.done) })
	return s.ps.Close()
}
