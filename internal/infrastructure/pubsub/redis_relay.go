package pubsub

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	ws "marketchat/internal/infrastructure/websocket"
	"marketchat/pkg/errors"
	"marketchat/pkg/logger"
)

// Deliverer hands a relayed frame to this instance's connections.
type Deliverer interface {
	Deliver(frame ws.RelayedFrame) int
}

// RedisRelay shares gateway broadcasts between instances over one Redis channel.
type RedisRelay struct {
	client  *redis.Client
	channel string
}

func NewRedisRelay(client *redis.Client, channel string) *RedisRelay {
	return &RedisRelay{client: client, channel: channel}
}

func (r *RedisRelay) Publish(ctx context.Context, frame ws.RelayedFrame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return errors.Internal("Failed to encode relayed frame", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return errors.Unavailable("Broadcast relay unavailable", err)
	}
	return nil
}

// Run subscribes and delivers every relayed frame until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context, d Deliverer) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return errors.Unavailable("Failed to subscribe to broadcast relay", err)
	}
	logger.Info("Broadcast relay subscribed to %s", r.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			handle(msg.Payload, d)
		}
	}
}

func handle(payload string, d Deliverer) {
	var frame ws.RelayedFrame
	if err := json.Unmarshal([]byte(payload), &frame); err != nil {
		logger.Warn("Broadcast relay: dropping malformed frame: %v", err)
		return
	}
	d.Deliver(frame)
}
