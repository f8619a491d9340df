package feed

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const redisSourceName = "redis"

// subscription is the part of *redis.PubSub the source reads from.
type subscription interface {
	Channel(opts ...redis.ChannelOption) <-chan *redis.Message
	Close() error
}

// RedisSource reads batches from a Redis pub/sub channel. Connection upkeep
// is left to the go-redis client.
type RedisSource struct {
	hub       *Hub
	channel   string
	subscribe func(ctx context.Context, channel string) (subscription, error)
}

// NewRedisSource subscribes to channel on client and publishes every message
// payload to hub.
func NewRedisSource(client *redis.Client, channel string, hub *Hub) *RedisSource {
	return &RedisSource{
		hub:     hub,
		channel: channel,
		subscribe: func(ctx context.Context, channel string) (subscription, error) {
			ps := client.Subscribe(ctx, channel)
			// Wait for the subscription confirmation so errors surface here.
			if _, err := ps.Receive(ctx); err != nil {
				_ = ps.Close()
				return nil, eris.Wrapf(err, "feed: subscribe %s", channel)
			}
			return ps, nil
		},
	}
}

// Run consumes messages until ctx is cancelled or the subscription closes.
func (s *RedisSource) Run(ctx context.Context) error {
	sub, err := s.subscribe(ctx, s.channel)
	if err != nil {
		return err
	}
	defer func() { _ = sub.Close() }()

	zap.L().Info("feed: subscribed", zap.String("source", redisSourceName), zap.String("channel", s.channel))

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return eris.Errorf("feed: redis channel %s closed", s.channel)
			}
			// A malformed payload is logged inside ingest and skipped.
			_, _ = ingest(s.hub, redisSourceName, []byte(msg.Payload))
		}
	}
}

// RedisPublisher pushes batches onto the feed channel. It is used to seed
// the feed during development.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedisPublisher returns a publisher for channel.
func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

// Publish sends b and returns the number of subscribers that received it.
func (p *RedisPublisher) Publish(ctx context.Context, b Batch) (int64, error) {
	payload, err := json.Marshal(b)
	if err != nil {
		return 0, eris.Wrap(err, "feed: encode batch")
	}
	n, err := p.client.Publish(ctx, p.channel, payload).Result()
	if err != nil {
		return 0, eris.Wrapf(err, "feed: publish %s", p.channel)
	}
	return n, nil
}

// NewRedisClient opens a client and verifies it with PING.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, eris.Wrapf(err, "feed: redis ping %s", addr)
	}
	return client, nil
}
