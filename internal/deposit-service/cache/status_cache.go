package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/radieske/pix-deposit-service/pkg/contracts/events"
)

// StatusTTL é o tempo que um status fica no cache
const StatusTTL = 24 * time.Hour

type Cache struct{ R *redis.Client }

func New(r *redis.Client) *Cache { return &Cache{R: r} }

// KeyStatus é a chave do último status conhecido de um depósito
func KeyStatus(externalID string) string { return "deposit:status:" + externalID }

func (c *Cache) GetStatus(ctx context.Context, externalID string) (*events.DepositStatusChanged, bool, error) {
	b, err := c.R.Get(ctx, KeyStatus(externalID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var e events.DepositStatusChanged
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, false, err
	}
	return &e, true, nil
}

func (c *Cache) SetStatus(ctx context.Context, e events.DepositStatusChanged, ttl time.Duration) error {
	b, _ := json.Marshal(e)
	return c.R.Set(ctx, KeyStatus(e.ExternalID), b, ttl).Err()
}
