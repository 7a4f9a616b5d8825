// Package lock provides a Redis lock that keeps scheduled sweeps from running
// on two replicas at once.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrNotAcquired = errors.New("lock held by another owner")

// unlockScript deletes the key only while it still holds our token, so an
// expired holder cannot release a lock someone else acquired since.
const unlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// Client is the subset of redis.Cmdable used by Redis.
type Client interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

type Redis struct {
	client Client
	key    string
	ttl    time.Duration
}

func NewRedis(client Client, key string, ttl time.Duration) *Redis {
	return &Redis{client: client, key: key, ttl: ttl}
}

// Acquire makes one SET NX attempt. On success it returns the function that
// releases this acquisition.
func (l *Redis) Acquire(ctx context.Context) (func(context.Context) error, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", l.key, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}
	return func(ctx context.Context) error {
		if err := l.client.Eval(ctx, unlockScript, []string{l.key}, token).Err(); err != nil {
			return fmt.Errorf("release %s: %w", l.key, err)
		}
		return nil
	}, nil
}
