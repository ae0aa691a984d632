package conversation

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"capsules/internal/logger"
)

// Broker carries conversation envelopes over redis pub/sub: one channel per
// friendship, so every instance sees every insert for the conversations its
// viewers have open. Redis delivers per-channel messages in publish order,
// which is what gives sessions their commit-order guarantee.
type Broker struct {
	redis *redis.Client
	log   *logger.Logger
}

func NewBroker(redisClient *redis.Client, log *logger.Logger) *Broker {
	return &Broker{redis: redisClient, log: log}
}

func channelFor(friendshipID string) string {
	return "conversation:" + friendshipID
}

func (b *Broker) Publish(ctx context.Context, friendshipID string, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "broker.Publish.Marshal")
	}
	if err := b.redis.Publish(ctx, channelFor(friendshipID), payload).Err(); err != nil {
		return errors.Wrap(err, "broker.Publish")
	}
	return nil
}

// Subscribe opens one live stream for a conversation. The returned channel
// closes when ctx is cancelled; cancelling is the only way to unsubscribe,
// which makes teardown deterministic.
func (b *Broker) Subscribe(ctx context.Context, friendshipID string) (<-chan Envelope, error) {
	pubsub := b.redis.Subscribe(ctx, channelFor(friendshipID))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, errors.Wrap(err, "broker.Subscribe")
	}

	out := make(chan Envelope, 64)
	go func() {
		defer close(out)
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					b.log.Error("dropping malformed envelope", "channel", msg.Channel, "err", err)
					continue
				}
				select {
				case out <- env:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
