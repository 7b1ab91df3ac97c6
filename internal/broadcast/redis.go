package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// envelope tags an event with the instance that produced it, so a relay does
// not hand an instance its own events twice.
type envelope struct {
	Origin string `json:"origin"`
	Event  Event  `json:"event"`
}

// RedisPublisher forwards events to other instances over a pub/sub channel.
type RedisPublisher struct {
	rdb     *redis.Client
	channel string
	origin  string
}

func NewRedisPublisher(rdb *redis.Client, channel, origin string) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, channel: channel, origin: origin}
}

func (p *RedisPublisher) Publish(ctx context.Context, e Event) error {
	data, err := json.Marshal(envelope{Origin: p.origin, Event: e})
	if err != nil {
		return err
	}
	if err := p.rdb.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// RedisRelay feeds events published by other instances into a local publisher.
type RedisRelay struct {
	rdb     *redis.Client
	channel string
	origin  string
	local   Publisher
	log     *zap.Logger
}

func NewRedisRelay(rdb *redis.Client, channel, origin string, local Publisher, log *zap.Logger) *RedisRelay {
	return &RedisRelay{rdb: rdb, channel: channel, origin: origin, local: local, log: log.Named("relay")}
}

// NewOrigin returns a random instance id.
func NewOrigin() string { return uuid.NewString() }

// Run blocks until ctx is cancelled or the subscription breaks. ready, if not
// nil, is closed once the subscription is confirmed.
func (r *RedisRelay) Run(ctx context.Context, ready chan<- struct{}) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe %s: %w", r.channel, err)
	}
	if ready != nil {
		close(ready)
	}
	r.log.Info("relay subscribed", zap.String("channel", r.channel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("redis subscription closed")
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.log.Warn("dropping malformed relay message", zap.Error(err))
				continue
			}
			if env.Origin == r.origin {
				continue
			}
			if err := r.local.Publish(ctx, env.Event); err != nil {
				r.log.Warn("relay publish failed",
					zap.String("session_id", env.Event.SessionID),
					zap.Error(err))
			}
		}
	}
}
