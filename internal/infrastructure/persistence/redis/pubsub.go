package redis

import (
	"context"

	"github.com/learnmatch/progression/internal/infrastructure/messaging"
)

// ══════════════════════════════════════════════════════════════════════════════
// PUB/SUB TRANSPORT
// ══════════════════════════════════════════════════════════════════════════════

// PubSub adapts Cache to messaging.RedisClient.
type PubSub struct {
	cache *Cache
}

var _ messaging.RedisClient = (*PubSub)(nil)

// NewPubSub creates a PubSub transport.
func NewPubSub(cache *Cache) *PubSub {
	return &PubSub{cache: cache}
}

// Publish sends a message to channel.
func (p *PubSub) Publish(ctx context.Context, channel string, message interface{}) error {
	return p.cache.Publish(ctx, channel, message)
}

// Subscribe streams messages of channels until ctx is done.
func (p *PubSub) Subscribe(ctx context.Context, channels ...string) (<-chan messaging.RedisMessage, error) {
	sub := p.cache.Subscribe(ctx, channels...)

	// Wait for the subscription confirmation so that publishes right after
	// Subscribe returns are not lost.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	out := make(chan messaging.RedisMessage, 64)
	go func() {
		defer close(out)
		defer sub.Close()

		in := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- messaging.RedisMessage{Channel: msg.Channel, Payload: msg.Payload}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Close is a no-op: the underlying client is owned by Cache.
func (p *PubSub) Close() error {
	return nil
}
