package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds Redis connection configuration for the event
// broadcaster.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisBroadcaster fans events out through a Redis pub/sub channel so
// multiple replicas can feed one set of live subscribers. Local
// delivery goes through an embedded MemoryBroadcaster fed by the
// subscription loop, so events published by other replicas arrive the
// same way as our own.
type RedisBroadcaster struct {
	client  *redis.Client
	channel string
	local   *MemoryBroadcaster
	pubsub  *redis.PubSub
	done    chan struct{}
}

// NewRedisBroadcaster connects to Redis and starts the subscription
// loop. The connection is verified with a ping before use.
func NewRedisBroadcaster(cfg RedisConfig) (*RedisBroadcaster, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "ragshield:"
	}

	b := &RedisBroadcaster{
		client:  client,
		channel: prefix + "events",
		local:   NewMemoryBroadcaster(),
		done:    make(chan struct{}),
	}

	b.pubsub = client.Subscribe(context.Background(), b.channel)
	go b.listen()

	slog.Info("Redis event broadcaster connected", "addr", cfg.Addr, "channel", b.channel)
	return b, nil
}

// Publish sends ev to the Redis channel; delivery to local
// subscribers happens via the subscription loop.
func (b *RedisBroadcaster) Publish(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("failed to marshal event for broadcast", "error", err)
		return
	}
	if err := b.client.Publish(context.Background(), b.channel, data).Err(); err != nil {
		slog.Error("failed to publish event to redis", "error", err)
	}
}

// Subscribe registers a local subscriber for events from every
// replica.
func (b *RedisBroadcaster) Subscribe() (<-chan Event, func()) {
	return b.local.Subscribe()
}

// Close stops the subscription loop and closes the connection.
func (b *RedisBroadcaster) Close() error {
	close(b.done)
	if err := b.pubsub.Close(); err != nil {
		slog.Warn("failed to close redis subscription", "error", err)
	}
	b.local.Close()
	return b.client.Close()
}

func (b *RedisBroadcaster) listen() {
	ch := b.pubsub.Channel()
	for {
		select {
		case <-b.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				slog.Warn("dropping malformed event from redis", "error", err)
				continue
			}
			b.local.Publish(ev)
		}
	}
}
