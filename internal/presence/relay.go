// internal/presence/relay.go
package presence

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Channel is the Redis pub/sub channel every instance listens on.
const Channel = "presence:events"

type envelope struct {
	PlayerID string `json:"playerId"`
	Event    Event  `json:"event"`
}

// RedisRelay fans events out through Redis so a player connected to any
// instance can be reached from every other one.
type RedisRelay struct {
	rdb    redis.UniversalClient
	hub    *Hub
	logger *logrus.Logger
}

func NewRedisRelay(rdb redis.UniversalClient, hub *Hub, logger *logrus.Logger) *RedisRelay {
	return &RedisRelay{rdb: rdb, hub: hub, logger: logger}
}

// Notify publishes ev for playerID. Delivery happens in whichever instance's
// Run loop owns the player's socket.
func (r *RedisRelay) Notify(ctx context.Context, playerID string, ev Event) error {
	payload, err := json.Marshal(envelope{PlayerID: playerID, Event: ev})
	if err != nil {
		return fmt.Errorf("failed to encode presence event: %w", err)
	}
	if err := r.rdb.Publish(ctx, Channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish presence event: %w", err)
	}
	return nil
}

// Run subscribes to Channel and hands messages to the local hub until ctx is
// cancelled.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.rdb.Subscribe(ctx, Channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", Channel, err)
	}
	r.logger.Infof("presence relay subscribed to %s", Channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.logger.WithError(err).Warn("dropping undecodable presence message")
				continue
			}
			r.hub.Deliver(env.PlayerID, env.Event)
		}
	}
}
