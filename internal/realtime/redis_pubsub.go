package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	channelPrefix    = "classroom:"
	publishTimeout   = 5 * time.Second
	subscribeTimeout = 5 * time.Second
)

// RedisBackplane implements Backplane using Redis pub/sub, one channel per session code.
type RedisBackplane struct {
	client           *redis.Client
	logger           *zap.Logger
	subscribeTimeout time.Duration
}

// NewRedisBackplane creates a Redis pub/sub bridge for room events.
func NewRedisBackplane(client *redis.Client, logger *zap.Logger) *RedisBackplane {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBackplane{client: client, logger: logger, subscribeTimeout: subscribeTimeout}
}

// ChannelFor returns the Redis channel carrying a session's room events.
func ChannelFor(code string) string {
	return channelPrefix + code
}

// PublishRoomEvent publishes an event to the session's Redis channel.
func (b *RedisBackplane) PublishRoomEvent(code string, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	return b.client.Publish(ctx, ChannelFor(code), body).Err()
}

// SubscribeRoom subscribes to a session's Redis channel and calls handler for each
// envelope. The returned cancel stops the subscription. The SUBSCRIBE round trip
// is bounded by subscribeTimeout since callers hold the session lock.
func (b *RedisBackplane) SubscribeRoom(code string, handler func(env Envelope)) (cancel func(), err error) {
	ctx, cancelCtx := context.WithCancel(context.Background())
	setupCtx, cancelSetup := context.WithTimeout(ctx, b.subscribeTimeout)
	defer cancelSetup()
	pubsub := b.client.Subscribe(setupCtx, ChannelFor(code))
	if _, err = pubsub.Receive(setupCtx); err != nil {
		cancelCtx()
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
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
					b.logger.Debug("drop malformed backplane payload", zap.String("channel", msg.Channel), zap.Error(err))
					continue
				}
				handler(env)
			}
		}
	}()
	return cancelCtx, nil
}
