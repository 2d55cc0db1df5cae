package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// só apaga a chave se o token ainda for nosso (o TTL pode ter expirado e outro processo assumido)
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis implementa Locker com SET NX PX + release via Lua (compare-and-delete)
// TTL: expiração do lock caso o processo morra segurando-o
// Wait: tempo máximo de espera pela aquisição
type Redis struct {
	Client *redis.Client
	TTL    time.Duration
	Wait   time.Duration
	Retry  time.Duration
}

const defaultRetry = 50 * time.Millisecond

func NewRedis(c *redis.Client, ttl, wait time.Duration) *Redis {
	return &Redis{Client: c, TTL: ttl, Wait: wait, Retry: defaultRetry}
}

func (l *Redis) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	ctx, cancel := context.WithTimeout(ctx, l.Wait)
	defer cancel()

	retry := l.Retry
	if retry <= 0 {
		retry = defaultRetry
	}
	ticker := time.NewTicker(retry)
	defer ticker.Stop()

	for {
		ok, err := l.Client.SetNX(ctx, key, token, l.TTL).Result()
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		if ok {
			return func() {
				// contexto próprio: o da requisição pode já ter sido cancelado
				rctx, rcancel := context.WithTimeout(context.Background(), time.Second)
				defer rcancel()
				_ = releaseScript.Run(rctx, l.Client, []string{key}, token).Err()
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ErrNotAcquired
		case <-ticker.C:
		}
	}
}
