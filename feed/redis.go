package feed

import (
	"context"
	"encoding/json"

	"github.com/golang/glog"
	"github.com/redis/go-redis/v9"
)

// DefaultEphemeralChannel carries typing and presence changes. These rows are
// latest-state-wins, so a lost publication self-heals on the next one and
// pub/sub's fire-and-forget delivery is acceptable.
const DefaultEphemeralChannel = "chatfeed-ephemeral"

// RedisSource subscribes to the ephemeral channel and dispatches changes.
type RedisSource struct {
	client  *redis.Client
	channel string

	dispatcher *Dispatcher
}

func NewRedisSource(client *redis.Client, channel string, dispatcher *Dispatcher) *RedisSource {
	if channel == "" {
		channel = DefaultEphemeralChannel
	}
	return &RedisSource{client: client, channel: channel, dispatcher: dispatcher}
}

// Run consumes until ctx is cancelled.
func (s *RedisSource) Run(ctx context.Context, stopDoneNotifyC chan<- struct{}) {
	glog.Info("feed: redis subscribe loop enter")
	pubsub := s.client.Subscribe(ctx, s.channel)
	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			_ = pubsub.Close()
			glog.Info("feed: redis source stopped")
			stopDoneNotifyC <- struct{}{}
			return
		case msg, ok := <-ch:
			if !ok {
				glog.Warning("feed: redis pubsub channel closed")
				stopDoneNotifyC <- struct{}{}
				return
			}
			var c Change
			if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
				glog.Errorf("feed: failed to unmarshal redis payload: `%s`, error: %v", msg.Payload, err)
				eventsDropped.WithLabelValues("malformed").Inc()
				continue
			}
			s.dispatcher.Dispatch(c)
		}
	}
}

// RedisPublisher publishes ephemeral-table changes.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultEphemeralChannel
	}
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, c Change) error {
	value, err := json.Marshal(c)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.channel, value).Err(); err != nil {
		publishErrors.WithLabelValues("redis").Inc()
		return err
	}
	return nil
}
