package ws

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/radieske/pix-deposit-service/pkg/contracts/events"
)

// StartRedisSubscriber escuta o canal Pub/Sub de status e repassa cada evento ao Hub
func StartRedisSubscriber(ctx context.Context, log *zap.Logger, r *redis.Client, channel string, hub *Hub) {
	sub := r.Subscribe(ctx, channel)
	ch := sub.Channel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				Relay(log, hub, []byte(msg.Payload))
			}
		}
	}()
}

// Relay decodifica um payload do Pub/Sub e faz o broadcast
func Relay(log *zap.Logger, hub *Hub, payload []byte) {
	var e events.DepositStatusChanged
	if err := json.Unmarshal(payload, &e); err != nil {
		log.Warn("ws subscriber unmarshal", zap.Error(err))
		return
	}
	if e.ExternalID == "" {
		return
	}
	hub.Broadcast(e)
}
